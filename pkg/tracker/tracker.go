// Package tracker implements the CoAP request/response coordinator:
// message-id allocation, correlation of incoming responses to pending
// requests, per-request timeout, and response classification. It owns
// a single pending-request map guarded by one mutex; there is no true
// parallelism here, only concurrent callers serializing through the
// mutex around that map.
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/microchip-ung/velocitydrive-go/pkg/coap"
	"github.com/microchip-ung/velocitydrive-go/pkg/mup1"
	"github.com/microchip-ung/velocitydrive-go/pkg/utils/logger"
)

// DefaultTimeout is the fixed per-request deadline.
const DefaultTimeout = 10 * time.Second

// Sender is the outbound half of the external transport: one logical
// write per call, no partial writes.
type Sender interface {
	SendBytes(b []byte) error
}

var (
	ErrTimeout         = errors.New("tracker: request timed out")
	ErrConnectionClosed = errors.New("tracker: connection closed")
	ErrTooManyInFlight = errors.New("tracker: message-id space exhausted")
	ErrProtocolError   = errors.New("tracker: protocol error")
)

// ResponseError is returned when a response carries a CoAP class 4/5
// code. Payload carries the raw response bytes when present.
type ResponseError struct {
	Code    byte
	Reason  string
	Payload []byte
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("tracker: response %d.%02d %s", e.Code>>5, e.Code&0x1F, e.Reason)
}

// Response is what a resolved request yields.
type Response struct {
	Payload    interface{}
	RawPayload []byte
}

type pendingRequest struct {
	mid      uint16
	method   coap.Method
	uri      string
	payload  []byte
	resultCh chan requestResult
	timer    *time.Timer
}

type requestResult struct {
	resp *Response
	err  error
}

// Tracker allocates message-ids, tracks in-flight requests, and
// resolves or times them out.
type Tracker struct {
	mu      sync.Mutex
	pending map[uint16]*pendingRequest
	nextMID uint16
	sender  Sender
	timeout time.Duration
	closed  bool
}

// New returns a Tracker that writes outbound frames through sender.
func New(sender Sender) *Tracker {
	return &Tracker{
		pending: make(map[uint16]*pendingRequest),
		sender:  sender,
		timeout: DefaultTimeout,
	}
}

// Request builds a CoAP message for method/uri/payload, wraps it in a
// MUP1 C frame, registers the pending entry, and hands the bytes to
// the transport. The write happens only after registration so a
// response cannot race the bookkeeping.
func (t *Tracker) Request(method coap.Method, uri string, payload []byte) (*Response, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrConnectionClosed
	}

	mid, err := t.allocateMID()
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}

	pr := &pendingRequest{
		mid:      mid,
		method:   method,
		uri:      uri,
		payload:  payload,
		resultCh: make(chan requestResult, 1),
	}
	pr.timer = time.AfterFunc(t.timeout, func() { t.expire(mid) })
	t.pending[mid] = pr
	t.mu.Unlock()

	msg := coap.Build(method, mid, uri, payload)
	frame := mup1.Encode(mup1.TypeCoAP, msg)

	if err := t.sender.SendBytes(frame); err != nil {
		t.mu.Lock()
		if p, ok := t.pending[mid]; ok && p == pr {
			p.timer.Stop()
			delete(t.pending, mid)
		}
		t.mu.Unlock()
		return nil, err
	}

	result := <-pr.resultCh
	return result.resp, result.err
}

// allocateMID advances the 16-bit counter and uses the new value (so
// the first mid is 1), wrapping mod 2^16 and skipping any value
// currently in flight. Exhausting the entire space
// against outstanding entries is ErrTooManyInFlight (should be
// unreachable in practice — 65536 concurrent requests on a serial
// link with a 10s timeout is not a realistic load).
func (t *Tracker) allocateMID() (uint16, error) {
	start := t.nextMID
	for {
		t.nextMID++
		mid := t.nextMID
		if _, inFlight := t.pending[mid]; !inFlight {
			return mid, nil
		}
		if t.nextMID == start {
			return 0, ErrTooManyInFlight
		}
	}
}

// HandleResponse is called by the dispatcher with the payload of a
// decoded MUP1 "C" frame. A parse failure that still yields a mid
// (anything but a too-short message) is reported to the matching
// pending request as ErrProtocolError; one that yields no mid at all
// is only reported back to the caller.
func (t *Tracker) HandleResponse(coapBytes []byte) error {
	msg, err := coap.Parse(coapBytes)
	if err != nil {
		if msg != nil {
			t.rejectPending(msg.MID, err)
		}
		return err
	}

	t.mu.Lock()
	pr, ok := t.pending[msg.MID]
	if ok {
		pr.timer.Stop()
		delete(t.pending, msg.MID)
	}
	t.mu.Unlock()

	if !ok {
		// No pending entry: either it already timed out, or this is
		// an unsolicited response.
		logger.Debugf("tracker: discarding response for unknown/expired mid %d", msg.MID)
		return nil
	}

	pr.resultCh <- classify(msg)
	return nil
}

// rejectPending resolves the pending request for mid, if any, with
// ErrProtocolError. Used when a response fails to parse past its
// header: cause is logged, not surfaced to the waiting caller, since
// ErrProtocolError is the documented error class for this case.
func (t *Tracker) rejectPending(mid uint16, cause error) {
	t.mu.Lock()
	pr, ok := t.pending[mid]
	if ok {
		pr.timer.Stop()
		delete(t.pending, mid)
	}
	t.mu.Unlock()

	if !ok {
		logger.Debugf("tracker: malformed response for unknown/expired mid %d: %v", mid, cause)
		return
	}
	pr.resultCh <- requestResult{err: ErrProtocolError}
}

func classify(msg *coap.Message) requestResult {
	switch coap.Class(msg.Code) {
	case 2:
		return requestResult{resp: &Response{Payload: msg.Payload, RawPayload: msg.RawPayload}}
	case 4, 5:
		return requestResult{err: &ResponseError{
			Code:    msg.Code,
			Reason:  coap.ReasonText(msg.Code),
			Payload: msg.RawPayload,
		}}
	default:
		return requestResult{err: ErrProtocolError}
	}
}

// expire fires when a request's deadline elapses without a matching
// response. If the entry is already gone (resolved or torn down) this
// is a no-op.
func (t *Tracker) expire(mid uint16) {
	t.mu.Lock()
	pr, ok := t.pending[mid]
	if ok {
		delete(t.pending, mid)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	pr.resultCh <- requestResult{err: ErrTimeout}
}

// Close tears the tracker down: every pending request is rejected with
// ErrConnectionClosed and the pending map is drained. Safe to call
// more than once.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pending := t.pending
	t.pending = make(map[uint16]*pendingRequest)
	t.mu.Unlock()

	for _, pr := range pending {
		pr.timer.Stop()
		pr.resultCh <- requestResult{err: ErrConnectionClosed}
	}
}

// InFlight reports the number of pending requests. Exposed for tests
// and diagnostics; not part of the protocol contract.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
