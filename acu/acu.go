// Package acu speaks the antenna control unit's ASCII line protocol:
// status polling, mode and preset commands, and ProgramTrack stack
// uploads, over TCP or a serial port.
package acu

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

type StatusCallback func(status Status)

const (
	// FullStack is the capacity of the onboard ProgramTrack stack.
	FullStack = 10000

	defaultPollInterval = 100 * time.Millisecond
	staleAfter          = 2 * time.Second
)

// Client maintains a connection to the ACU, polls STATUS, and issues
// commands.  All commands are request/response transactions serialized
// on one connection.
type Client struct {
	statusCallback StatusCallback
	pollInterval   time.Duration

	mu   sync.Mutex
	conn io.ReadWriteCloser
	rd   *bufio.Reader

	statusMu sync.Mutex
	status   Status
	ok       bool
}

// Connect starts a client for an ACU reachable over TCP.  The
// connection is established (and re-established) in the background.
func Connect(ctx context.Context, addr string, statusCallback StatusCallback) (*Client, error) {
	c := &Client{statusCallback: statusCallback, pollInterval: defaultPollInterval}
	go c.reconnectLoop(ctx, func() (io.ReadWriteCloser, error) {
		dialer := &net.Dialer{Timeout: time.Second}
		return dialer.DialContext(ctx, "tcp", addr)
	}, addr)
	return c, nil
}

// ConnectSerial starts a client for an ACU on a local serial port.
func ConnectSerial(ctx context.Context, port string, baud int, statusCallback StatusCallback) (*Client, error) {
	c := &Client{statusCallback: statusCallback, pollInterval: defaultPollInterval}
	go c.reconnectLoop(ctx, func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(&serial.Config{Name: port, Baud: baud})
	}, port)
	return c, nil
}

// connectPipe attaches the client directly to an existing connection;
// used by tests and the simulator harness.
func connectPipe(ctx context.Context, conn io.ReadWriteCloser, statusCallback StatusCallback) *Client {
	c := &Client{statusCallback: statusCallback, pollInterval: 10 * time.Millisecond}
	c.setConn(conn)
	go c.watch(ctx)
	return c
}

func (c *Client) reconnectLoop(ctx context.Context, dial func() (io.ReadWriteCloser, error), name string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
		conn, err := dial()
		if err != nil {
			log.Printf("opening %q: %v", name, err)
			continue
		}
		log.Printf("opened %q", name)
		c.setConn(conn)
		c.watch(ctx)
		c.setConn(nil)
	}
}

func (c *Client) setConn(conn io.ReadWriteCloser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	if conn != nil {
		c.rd = bufio.NewReader(conn)
	} else {
		c.rd = nil
	}
}

// watch polls STATUS until the connection fails or the context ends.
func (c *Client) watch(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.pollInterval):
		}
		if err := c.pollStatus(); err != nil {
			log.Printf("status poll: %v", err)
			return
		}
	}
}

func (c *Client) pollStatus() error {
	line, err := c.transact(func(w io.Writer) error {
		_, err := io.WriteString(w, "STATUS\r\n")
		return err
	})
	if err != nil {
		return err
	}
	status, err := ParseStatus(line)
	if err != nil {
		// Not ready yet; keep polling.
		log.Printf("parsing status %q: %v", line, err)
		return nil
	}
	status.Received = time.Now()
	c.statusMu.Lock()
	c.status = status
	c.ok = true
	c.statusMu.Unlock()
	if c.statusCallback != nil {
		c.statusCallback(status)
	}
	return nil
}

// Latest returns the most recent status report.  The second return is
// false until a report has arrived and whenever the report has gone
// stale.
func (c *Client) Latest() (Status, bool) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	if !c.ok || time.Since(c.status.Received) > staleAfter {
		return c.status, false
	}
	return c.status, true
}

// transact writes one command and reads one response line while
// holding the connection.
func (c *Client) transact(write func(w io.Writer) error) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return "", errors.New("not connected")
	}
	if err := write(c.conn); err != nil {
		return "", errors.Wrap(err, "writing command")
	}
	line, err := c.rd.ReadString('\n')
	if err != nil {
		return "", errors.Wrap(err, "reading response")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func checkAck(resp string) error {
	if resp == "OK, Command executed." || resp == "OK, Command send." {
		return nil
	}
	return errors.Errorf("command rejected: %q", resp)
}

func (c *Client) command(cmd string) error {
	resp, err := c.transact(func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s\r\n", cmd)
		return err
	})
	if err != nil {
		return err
	}
	return checkAck(resp)
}

// SetMode switches one axis (or All) to Stop, Preset, or ProgramTrack.
func (c *Client) SetMode(axis, mode string) error {
	return c.command(fmt.Sprintf("MODE %s %s", axis, mode))
}

// GoTo sets the preset target for one axis.  The axis must be (or be
// put) in Preset mode to act on it.
func (c *Client) GoTo(axis string, position float64) error {
	return c.command(fmt.Sprintf("GOTO %s %.6f", axis, position))
}

// Preset sets the target for one axis and engages Preset mode, as one
// logical command.
func (c *Client) Preset(axis string, position float64) error {
	if err := c.GoTo(axis, position); err != nil {
		return err
	}
	return c.SetMode(axis, ModePreset)
}

// Stop halts all axes.
func (c *Client) Stop() error {
	return c.SetMode(AxisAll, ModeStop)
}

// UploadTrack sends a batch of ProgramTrack lines to the onboard
// stack.  Lines must already carry their CRLF terminators.
func (c *Client) UploadTrack(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	resp, err := c.transact(func(w io.Writer) error {
		if _, err := fmt.Fprintf(w, "TRACK %d\r\n", len(lines)); err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := io.WriteString(w, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return checkAck(resp)
}

// ClearStack discards all pending ProgramTrack points.
func (c *Client) ClearStack() error {
	return c.command("CLEARSTACK")
}

// ClearFaults resets latched fault bits.
func (c *Client) ClearFaults() error {
	return c.command("CLEARFAULTS")
}
