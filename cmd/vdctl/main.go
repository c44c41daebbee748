// Command vdctl is an interactive CLI for talking CORECONF to a
// VelocityDRIVE-class switch over its UART control channel: a CLI
// struct wrapping the facade, a REPL over stdin, and signal-driven
// shutdown.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/microchip-ung/velocitydrive-go/pkg/serialtransport"
	"github.com/microchip-ung/velocitydrive-go/pkg/utils/config"
	"github.com/microchip-ung/velocitydrive-go/pkg/utils/logger"
	"github.com/microchip-ung/velocitydrive-go/pkg/vdctl"
)

// CLI wraps the controller facade with the bookkeeping an interactive
// session needs: the loaded config and the open transport.
type CLI struct {
	cfg        *config.Config
	transport  *serialtransport.Transport
	controller *vdctl.Controller
}

// NewCLI returns an unconnected CLI bound to cfg.
func NewCLI(cfg *config.Config) *CLI {
	return &CLI{cfg: cfg}
}

// byteSink breaks the construction cycle between the transport (which
// needs an onBytes callback up front) and the controller (which needs
// the transport as its Sender): the transport is built against the
// sink, the controller against the transport, then the sink is pointed
// at the controller before the port is opened.
type byteSink struct {
	controller *vdctl.Controller
}

func (s *byteSink) HandleBytes(chunk []byte) {
	if s.controller != nil {
		s.controller.HandleBytes(chunk)
	}
}

// Initialize opens the serial port, wires the controller to it, and
// performs the ping/handshake/device-info startup sequence.
func (c *CLI) Initialize() error {
	logger.Info("[CLI] opening serial port")

	sink := &byteSink{}
	transport := serialtransport.New(sink.HandleBytes, serialtransport.StatusHandler{
		OnConnect:    func() { logger.Info("[CLI] serial port connected") },
		OnDisconnect: func() { logger.Warn("[CLI] serial port disconnected") },
		OnError:      func(err error) { logger.Errorf("[CLI] serial error: %v", err) },
	})
	controller := vdctl.New(transport)
	sink.controller = controller

	if err := transport.Open(c.cfg.Serial.Port, c.cfg.Serial.Baud); err != nil {
		return fmt.Errorf("open serial port: %w", err)
	}

	c.transport = transport
	c.controller = controller

	info, err := c.controller.Initialize()
	if err != nil {
		transport.Close()
		return fmt.Errorf("device initialize: %w", err)
	}

	logger.Infof("[CLI] connected to %s firmware %s serial %s",
		info.DeviceType, info.FirmwareVersion, info.SerialNumber)
	return nil
}

// Shutdown closes the serial port and any pending requests.
func (c *CLI) Shutdown() {
	logger.Info("[CLI] shutting down")
	if c.controller != nil {
		c.controller.Close()
	}
	if c.transport != nil {
		c.transport.Close()
	}
}

func (c *CLI) printHelp() {
	fmt.Println("\navailable commands:")
	fmt.Println("  help                 - show this help")
	fmt.Println("  ping                 - send a MUP1 ping, report pong/timeout")
	fmt.Println("  info                 - refresh and print device info")
	fmt.Println("  get <uri>            - CoAP GET")
	fmt.Println("  delete <uri>         - CoAP DELETE")
	fmt.Println("  post <uri> <json>    - CoAP POST, payload CBOR-encoded from JSON")
	fmt.Println("  put <uri> <json>     - CoAP PUT, payload CBOR-encoded from JSON")
	fmt.Println("  fetch <uri> <json>   - CoAP FETCH, payload CBOR-encoded from JSON")
	fmt.Println("  save-config          - persist the running configuration")
	fmt.Println("  factory-reset        - restore factory defaults")
	fmt.Println("  reboot               - reboot the device")
	fmt.Println("  exit, quit           - leave")
	fmt.Println()
}

func (c *CLI) runCoAP(parts []string) {
	if len(parts) < 2 {
		fmt.Println("usage: <verb> <uri> [json-payload]")
		return
	}
	verb, uri := parts[0], parts[1]

	var payload interface{}
	if len(parts) > 2 {
		raw := strings.Join(parts[2:], " ")
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			fmt.Printf("invalid JSON payload: %v\n", err)
			return
		}
	}

	var (
		resp interface{}
		err  error
	)
	switch verb {
	case "get":
		resp, err = c.controller.CoAPGet(uri)
	case "delete":
		resp, err = c.controller.CoAPDelete(uri)
	case "post":
		resp, err = c.controller.CoAPPost(uri, payload)
	case "put":
		resp, err = c.controller.CoAPPut(uri, payload)
	case "fetch":
		resp, err = c.controller.CoAPFetch(uri, payload)
	}

	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("%+v\n", resp)
}

// InteractiveMode runs the REPL until stdin closes or exit is typed.
func (c *CLI) InteractiveMode() {
	fmt.Println("\n===========================================")
	fmt.Println("    VelocityDRIVE control CLI")
	fmt.Printf("    port: %s\n", c.cfg.Serial.Port)
	fmt.Println("===========================================")
	fmt.Println("\ntype 'help' for a command list")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nvdctl> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		cmd := parts[0]

		switch cmd {
		case "help", "h":
			c.printHelp()

		case "ping":
			if c.controller.Ping() {
				fmt.Println("pong")
			} else {
				fmt.Println("no response")
			}

		case "info":
			info, err := c.controller.DeviceInfo()
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Printf("device: %+v\n", *info)

		case "get", "delete", "post", "put", "fetch":
			c.runCoAP(parts)

		case "save-config":
			if err := c.controller.SaveConfig(); err != nil {
				fmt.Printf("error: %v\n", err)
			} else {
				fmt.Println("saved")
			}

		case "factory-reset":
			if err := c.controller.FactoryReset(); err != nil {
				fmt.Printf("error: %v\n", err)
			} else {
				fmt.Println("reset")
			}

		case "reboot":
			if err := c.controller.Reboot(); err != nil {
				fmt.Printf("error: %v\n", err)
			} else {
				fmt.Println("rebooting")
			}

		case "exit", "quit", "q":
			fmt.Println("bye")
			return

		default:
			fmt.Printf("unknown command: %s (type 'help')\n", cmd)
		}
	}
}

func main() {
	cfg := config.Parse()
	cli := NewCLI(cfg)

	if err := cli.Initialize(); err != nil {
		fmt.Printf("initialize failed: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nsignal received, shutting down...")
		cli.Shutdown()
		os.Exit(0)
	}()

	defer cli.Shutdown()
	cli.InteractiveMode()
}
