// Package cborcodec gives the rest of the stack the opaque
// encode/decode pair the CORECONF layer needs, backed by a real CBOR
// implementation rather than a hand-rolled one.
package cborcodec

import "github.com/fxamacker/cbor/v2"

// Encode serializes value to CBOR.
func Encode(value interface{}) ([]byte, error) {
	return cbor.Marshal(value)
}

// Decode deserializes CBOR bytes into a generic value (map/slice/
// scalar as appropriate). Callers that need a concrete type should
// unmarshal into it directly with cbor.Unmarshal instead.
func Decode(data []byte) (interface{}, error) {
	var value interface{}
	if err := cbor.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}
