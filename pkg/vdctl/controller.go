// Package vdctl is the controller facade: the thin glue
// that turns ping/device-info/system-command/CoAP operations into
// MUP1 frames and CoAP requests, and turns decoded frames back into
// typed results.
package vdctl

import (
	"strings"
	"time"

	"github.com/microchip-ung/velocitydrive-go/pkg/cborcodec"
	"github.com/microchip-ung/velocitydrive-go/pkg/coap"
	"github.com/microchip-ung/velocitydrive-go/pkg/events"
	"github.com/microchip-ung/velocitydrive-go/pkg/mup1"
	"github.com/microchip-ung/velocitydrive-go/pkg/tracker"
	"github.com/microchip-ung/velocitydrive-go/pkg/utils/logger"
)

const (
	pingTimeout   = 1 * time.Second
	systemTimeout = 2 * time.Second
)

const (
	sysInfo          = "info"
	sysSaveConfig    = "save-config"
	sysFactoryReset  = "factory-reset"
	sysReboot        = "reboot"
	successSubstring = "success"
)

// corecofHandshakePayload is the literal CBOR encoding of [0x7278]
// 0x81 (array of 1), 0x19 (uint16 follows), 0x72 0x78.
var corecofHandshakePayload = []byte{0x81, 0x19, 0x72, 0x78}

// Controller bundles the protocol stack into the operations a caller
// actually wants: ping, device info, system commands, and typed CoAP
// verbs.
type Controller struct {
	sender      tracker.Sender
	tracker     *tracker.Tracker
	bus         *events.Bus
	dispatcher  *events.Dispatcher
	reassembler *mup1.Reassembler

	deviceInfo *DeviceInfo
}

// New wires a fresh controller around sender, the external transport's
// outbound half. Feed inbound bytes to HandleBytes as they
// arrive.
func New(sender tracker.Sender) *Controller {
	bus := events.NewBus()
	tr := tracker.New(sender)
	return &Controller{
		sender:      sender,
		tracker:     tr,
		bus:         bus,
		dispatcher:  events.NewDispatcher(bus, tr),
		reassembler: mup1.NewReassembler(),
	}
}

// HandleBytes feeds one chunk of the inbound byte stream through the
// reassembler and dispatcher.
func (c *Controller) HandleBytes(chunk []byte) {
	for _, frame := range c.reassembler.Push(chunk, events.BadFrame) {
		c.dispatcher.Dispatch(frame)
	}
}

// Close tears the controller down: every in-flight CoAP request is
// rejected with tracker.ErrConnectionClosed.
func (c *Controller) Close() {
	c.tracker.Close()
}

// OnTrace subscribes a persistent callback to trace output.
func (c *Controller) OnTrace(cb events.Callback) uint64 {
	return c.bus.On(events.Trace, cb)
}

func (c *Controller) sendFrame(t mup1.FrameType, payload []byte) error {
	return c.sender.SendBytes(mup1.Encode(t, payload))
}

// Ping sends a MUP1 ping and waits up to 1s for the matching pong
// event.
func (c *Controller) Ping() bool {
	done := make(chan struct{}, 1)
	id := c.bus.Once(events.Pong, func([]byte) {
		select {
		case done <- struct{}{}:
		default:
		}
	})

	if err := c.sendFrame(mup1.TypePing, nil); err != nil {
		c.bus.Off(events.Pong, id)
		return false
	}

	select {
	case <-done:
		return true
	case <-time.After(pingTimeout):
		c.bus.Off(events.Pong, id)
		return false
	}
}

// DeviceInfo emits an "info" system command and waits for the next
// announcement, parsing and caching it.
func (c *Controller) DeviceInfo() (*DeviceInfo, error) {
	announced := make(chan DeviceInfo, 1)
	id := c.bus.Once(events.Announcement, func(payload []byte) {
		select {
		case announced <- ParseAnnouncement(payload):
		default:
		}
	})

	if err := c.sendFrame(mup1.TypeSystem, []byte(sysInfo)); err != nil {
		c.bus.Off(events.Announcement, id)
		return nil, err
	}

	select {
	case info := <-announced:
		c.deviceInfo = &info
		return &info, nil
	case <-time.After(systemTimeout):
		c.bus.Off(events.Announcement, id)
		return nil, tracker.ErrTimeout
	}
}

// CachedDeviceInfo returns the last DeviceInfo() result, or nil if
// none has been fetched yet.
func (c *Controller) CachedDeviceInfo() *DeviceInfo {
	return c.deviceInfo
}

// waitSystemSuccess emits a system command and waits for a
// system-response event containing "success" (case-sensitive).
func (c *Controller) waitSystemSuccess(cmd string) error {
	responses := make(chan string, 1)
	id := c.bus.Once(events.System, func(payload []byte) {
		select {
		case responses <- string(payload):
		default:
		}
	})

	if err := c.sendFrame(mup1.TypeSystem, []byte(cmd)); err != nil {
		c.bus.Off(events.System, id)
		return err
	}

	select {
	case resp := <-responses:
		if !strings.Contains(resp, successSubstring) {
			return &SystemCommandError{Command: cmd, Response: resp}
		}
		return nil
	case <-time.After(systemTimeout):
		c.bus.Off(events.System, id)
		return tracker.ErrTimeout
	}
}

// SaveConfig emits "save-config" and waits for a successful system
// response.
func (c *Controller) SaveConfig() error { return c.waitSystemSuccess(sysSaveConfig) }

// FactoryReset emits "factory-reset" and waits for a successful
// system response.
func (c *Controller) FactoryReset() error { return c.waitSystemSuccess(sysFactoryReset) }

// Reboot emits "reboot" without waiting for a response — the device is
// expected to drop the link.
func (c *Controller) Reboot() error {
	return c.sendFrame(mup1.TypeSystem, []byte(sysReboot))
}

// SystemCommandError is returned when a system command's response does
// not contain "success".
type SystemCommandError struct {
	Command  string
	Response string
}

func (e *SystemCommandError) Error() string {
	return "vdctl: system command " + e.Command + " failed: " + e.Response
}

// CoAPGet issues a CoAP GET against uri.
func (c *Controller) CoAPGet(uri string) (*tracker.Response, error) {
	return c.tracker.Request(coap.GET, uri, nil)
}

// CoAPDelete issues a CoAP DELETE against uri.
func (c *Controller) CoAPDelete(uri string) (*tracker.Response, error) {
	return c.tracker.Request(coap.DELETE, uri, nil)
}

// CoAPPost issues a CoAP POST against uri, CBOR-encoding payload.
func (c *Controller) CoAPPost(uri string, payload interface{}) (*tracker.Response, error) {
	return c.requestWithPayload(coap.POST, uri, payload)
}

// CoAPPut issues a CoAP PUT against uri, CBOR-encoding payload.
func (c *Controller) CoAPPut(uri string, payload interface{}) (*tracker.Response, error) {
	return c.requestWithPayload(coap.PUT, uri, payload)
}

// CoAPFetch issues a CoAP FETCH against uri, CBOR-encoding payload.
func (c *Controller) CoAPFetch(uri string, payload interface{}) (*tracker.Response, error) {
	return c.requestWithPayload(coap.FETCH, uri, payload)
}

func (c *Controller) requestWithPayload(method coap.Method, uri string, payload interface{}) (*tracker.Response, error) {
	encoded, err := cborcodec.Encode(payload)
	if err != nil {
		return nil, err
	}
	return c.tracker.Request(method, uri, encoded)
}

// Initialize pings the device, attempts a best-effort CORECONF
// handshake (failure logged, not fatal), then fetches device info.
func (c *Controller) Initialize() (*DeviceInfo, error) {
	if !c.Ping() {
		logger.Warnf("vdctl: device did not respond to ping during initialize")
	}

	if _, err := c.tracker.Request(coap.FETCH, "c?d=a", corecofHandshakePayload); err != nil {
		logger.Warnf("vdctl: coreconf handshake failed: %v", err)
	}

	return c.DeviceInfo()
}
