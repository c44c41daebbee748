package events

import (
	"github.com/microchip-ung/velocitydrive-go/pkg/mup1"
	"github.com/microchip-ung/velocitydrive-go/pkg/tracker"
	"github.com/microchip-ung/velocitydrive-go/pkg/utils/logger"
)

// responseHandler is the subset of *tracker.Tracker the dispatcher
// needs; declared as an interface so the dispatcher can be tested
// without a real tracker.
type responseHandler interface {
	HandleResponse(coapBytes []byte) error
}

// Dispatcher routes decoded MUP1 frames: P to a pong
// event, A to an announcement event, C to the request tracker, S to a
// system-response event, T to a trace event.
type Dispatcher struct {
	Bus     *Bus
	tracker responseHandler
}

// NewDispatcher wires a bus and a request tracker together.
func NewDispatcher(bus *Bus, tr responseHandler) *Dispatcher {
	return &Dispatcher{Bus: bus, tracker: tr}
}

// Dispatch delivers one decoded frame. A checksum mismatch is logged
// but never drops the frame: it is still routed.
func (d *Dispatcher) Dispatch(frame mup1.Frame) {
	if !frame.ChecksumOK {
		logger.Warnf("mup1: checksum mismatch on %c frame, dispatching anyway", frame.Type)
	}

	switch frame.Type {
	case mup1.TypePing:
		d.Bus.Publish(Pong, nil)
	case mup1.TypeAnnounce:
		d.Bus.Publish(Announcement, frame.Payload)
	case mup1.TypeCoAP:
		if err := d.tracker.HandleResponse(frame.Payload); err != nil {
			logger.Debugf("coap: dropping malformed response: %v", err)
		}
	case mup1.TypeSystem:
		d.Bus.Publish(System, frame.Payload)
	case mup1.TypeTrace:
		d.Bus.Publish(Trace, frame.Payload)
	default:
		logger.Warnf("mup1: unknown frame type %q, dropping", byte(frame.Type))
	}
}

// BadFrame is passed to (*mup1.Reassembler).Push as the badFrame
// callback: decode failures in the inbound path are logged and the
// stream continues, never propagated to a caller.
func BadFrame(err error) {
	logger.Debugf("mup1: discarding malformed frame: %v", err)
}
