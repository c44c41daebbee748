package mup1

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReassemblerSingleChunk(t *testing.T) {
	r := NewReassembler()
	stream := append(Encode(TypePing, nil), Encode(TypeCoAP, []byte("hello"))...)

	frames := r.Push(stream, nil)
	require.Len(t, frames, 2)
	require.Equal(t, TypePing, frames[0].Type)
	require.Equal(t, TypeCoAP, frames[1].Type)
	require.Equal(t, []byte("hello"), frames[1].Payload)
}

func TestReassemblerArbitraryChunking(t *testing.T) {
	stream := append(Encode(TypePing, nil), Encode(TypeCoAP, []byte("hello world"))...)
	stream = append(stream, Encode(TypeTrace, []byte("log line"))...)

	for chunkSize := 1; chunkSize <= len(stream); chunkSize++ {
		r := NewReassembler()
		var got []Frame
		for i := 0; i < len(stream); i += chunkSize {
			end := i + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			got = append(got, r.Push(stream[i:end], nil)...)
		}
		require.Len(t, got, 3, "chunk size %d", chunkSize)
		require.Equal(t, TypePing, got[0].Type)
		require.Equal(t, TypeCoAP, got[1].Type)
		require.Equal(t, TypeTrace, got[2].Type)
	}
}

func TestReassemblerRecoversFromGarbageBetweenFrames(t *testing.T) {
	garbage := []byte{0x01, 0x02, 0x03, 0xAA, 0xBB}
	stream := append(Encode(TypePing, nil), garbage...)
	stream = append(stream, Encode(TypeCoAP, []byte("payload"))...)

	r := NewReassembler()
	frames := r.Push(stream, nil)
	require.Len(t, frames, 2)
	require.Equal(t, TypePing, frames[0].Type)
	require.Equal(t, TypeCoAP, frames[1].Type)
}

func TestReassemblerResyncsPastMalformedFrame(t *testing.T) {
	good1 := Encode(TypePing, nil)
	bad := Encode(TypeCoAP, []byte("x"))
	bad[len(bad)-1] = 'Z' // invalid hex -> BadChecksumEncoding, must not stall
	good2 := Encode(TypeTrace, []byte("y"))

	var badCount int
	stream := append(append(good1, bad...), good2...)

	r := NewReassembler()
	frames := r.Push(stream, func(err error) { badCount++ })

	require.Positive(t, badCount)
	require.Len(t, frames, 2)
	require.Equal(t, TypePing, frames[0].Type)
	require.Equal(t, TypeTrace, frames[1].Type)
}

func TestReassemblerBufferEmptyAfterQuiescence(t *testing.T) {
	r := NewReassembler()
	r.Push(Encode(TypePing, nil), nil)
	require.Empty(t, r.buf)
}
