// Package serialtransport is the concrete external transport: a UART
// link opened with go.bug.st/serial, read in a background loop and
// handed to a byte-stream consumer, with advisory
// connected/disconnected/error notifications. A mutex-guarded port
// handle, a stop channel, and one read-loop goroutine deliver chunks
// to the consumer by callback.
package serialtransport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/microchip-ung/velocitydrive-go/pkg/utils/logger"
)

// DefaultReadBufSize is the chunk size used for each blocking read of
// the port.
const DefaultReadBufSize = 4096

// DefaultReadTimeout bounds each blocking read so the loop can notice
// a closed stopChan promptly instead of blocking forever on an idle
// line.
const DefaultReadTimeout = 200 * time.Millisecond

var ErrNotOpen = errors.New("serialtransport: port is not open")
var ErrAlreadyOpen = errors.New("serialtransport: port is already open")

// StatusHandler receives advisory lifecycle notifications: OnConnect
// when Open succeeds, OnDisconnect when Close closes the port, OnError
// for a read failure other than end-of-file. After such a read failure
// the read loop stops while the port stays open until Close. An
// end-of-file from the peer stops the read loop without any
// notification, and write failures are only returned by SendBytes.
type StatusHandler struct {
	OnConnect    func()
	OnDisconnect func()
	OnError      func(err error)
}

// Transport owns one open serial port and the goroutine reading it.
// Its SendBytes method satisfies tracker.Sender, and it feeds inbound
// bytes to an external consumer (typically (*vdctl.Controller).HandleBytes)
// through the onBytes callback given to New.
type Transport struct {
	mu       sync.Mutex
	port     serial.Port
	stopChan chan struct{}
	wg       sync.WaitGroup

	onBytes func(chunk []byte)
	status  StatusHandler
}

// New returns an unopened Transport. onBytes is called from the
// read-loop goroutine for every chunk read off the wire; it must not
// block for long, since it holds up delivery of subsequent chunks.
func New(onBytes func(chunk []byte), status StatusHandler) *Transport {
	return &Transport{onBytes: onBytes, status: status}
}

// Open opens path at baud 8N1 and starts the read loop.
func (t *Transport) Open(path string, baud int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return ErrAlreadyOpen
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return fmt.Errorf("serialtransport: open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(DefaultReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("serialtransport: set read timeout: %w", err)
	}

	t.port = port
	t.stopChan = make(chan struct{})
	t.wg.Add(1)
	go t.readLoop(port, t.stopChan)

	if t.status.OnConnect != nil {
		t.status.OnConnect()
	}
	return nil
}

// SendBytes writes data to the open port. Satisfies tracker.Sender.
func (t *Transport) SendBytes(data []byte) error {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()

	if port == nil {
		return ErrNotOpen
	}
	n, err := port.Write(data)
	if err != nil {
		return fmt.Errorf("serialtransport: write: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("serialtransport: short write: wrote %d of %d bytes", n, len(data))
	}
	return nil
}

// Close stops the read loop and closes the port. Safe to call more
// than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	port := t.port
	stopChan := t.stopChan
	t.port = nil
	t.stopChan = nil
	t.mu.Unlock()

	if port == nil {
		return nil
	}

	close(stopChan)
	err := port.Close()
	t.wg.Wait()

	if t.status.OnDisconnect != nil {
		t.status.OnDisconnect()
	}
	return err
}

// readLoop reads chunks off port until stopChan closes or the port
// reports a hard error (anything but a read-timeout, which the driver
// reports as n==0, err==nil per go.bug.st/serial's contract).
func (t *Transport) readLoop(port serial.Port, stopChan chan struct{}) {
	defer t.wg.Done()

	buf := make([]byte, DefaultReadBufSize)
	for {
		select {
		case <-stopChan:
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debugf("serialtransport: port closed")
				return
			}
			logger.Warnf("serialtransport: read error: %v", err)
			if t.status.OnError != nil {
				t.status.OnError(err)
			}
			return
		}
		if n == 0 {
			continue // read timeout, no data yet
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		if t.onBytes != nil {
			t.onBytes(chunk)
		}
	}
}
