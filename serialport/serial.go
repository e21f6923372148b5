// Package serialport owns the byte stream to the CNC controller: framing
// incoming lines, writing outgoing commands, and sending immediate
// single-byte controls. It is a thin, mechanical layer -- reconnection
// policy lives in motionadapter.Supervisor, and the protocol engine
// (package protocol) owns all semantic interpretation of what comes back.
package serialport

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// DefaultBaud is the default line speed spoken by the CNC controller.
const DefaultBaud = 115200

// Immediate control bytes, sent unterminated and outside the line queue.
const (
	StatusQuery = byte('?')
	FeedHold    = byte('!')
	CycleStart  = byte('~')
	SoftReset   = byte(0x18)
)

// ErrClosed is returned by writes made after the port has been closed.
var ErrClosed = errors.New("serialport: port is closed")

// Config describes how to open the serial device.
type Config struct {
	Device string
	Baud   int
}

func (c Config) withDefaults() Config {
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}
	return c
}

// Port owns one open connection to the controller: a single mutex-guarded
// writer, and a background goroutine that splits the reader on '\n' and
// publishes trimmed, non-empty lines to a single consumer channel.
type Port struct {
	mu     sync.Mutex
	conn   io.ReadWriteCloser
	lines  chan string
	closed chan struct{}
	err    chan error

	closeOnce sync.Once
}

// Open opens the serial device at the configured baud (default 115200,
// 8N1, via github.com/tarm/serial) and starts the background read loop.
func Open(cfg Config) (*Port, error) {
	cfg = cfg.withDefaults()
	sc := &serial.Config{Name: cfg.Device, Baud: cfg.Baud}
	conn, err := serial.OpenPort(sc)
	if err != nil {
		return nil, errors.Wrapf(err, "serialport: open %s", cfg.Device)
	}
	return wrap(conn), nil
}

// wrap builds a Port around an already-open connection; used directly by
// Open, and by tests that supply an io.ReadWriteCloser in place of a real
// serial device.
func wrap(conn io.ReadWriteCloser) *Port {
	p := &Port{
		conn:   conn,
		lines:  make(chan string, 64),
		closed: make(chan struct{}),
		err:    make(chan error, 1),
	}
	go p.readLoop()
	return p
}

// OpenConn adapts an already-open io.ReadWriteCloser (e.g. a mock, or a
// connection opened by a test harness) into a Port with the same framing
// and locking behavior as a real serial device.
func OpenConn(conn io.ReadWriteCloser) *Port {
	return wrap(conn)
}

// Lines returns the channel of trimmed, non-empty lines read from the
// controller. It is closed when the port disconnects.
func (p *Port) Lines() <-chan string {
	return p.lines
}

// Disconnected returns a channel that is closed when the read loop hits an
// error and the port has stopped. Err returns the error that caused it.
func (p *Port) Disconnected() <-chan struct{} {
	return p.closed
}

// Err returns the error that caused disconnection, or nil while still
// connected. After Close it returns the read error that the closed
// connection produced in the read loop.
func (p *Port) Err() error {
	select {
	case e := <-p.err:
		p.err <- e
		return e
	default:
		return nil
	}
}

// WriteLine appends '\n' and writes s to the controller.
func (p *Port) WriteLine(s string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isClosed() {
		return ErrClosed
	}
	_, err := io.WriteString(p.conn, s+"\n")
	return errors.Wrap(err, "serialport: write line")
}

// WriteByte sends a single unterminated byte -- used for the immediate
// controls (?, !, ~, soft reset).
func (p *Port) WriteByte(b byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isClosed() {
		return ErrClosed
	}
	_, err := p.conn.Write([]byte{b})
	return errors.Wrap(err, "serialport: write byte")
}

func (p *Port) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// Close closes the underlying connection. The read loop observes the
// resulting error (or EOF) and stops, closing Lines and Disconnected and
// recording the error for Err exactly as for an unexpected read error.
// It is safe to call unconditionally during shutdown.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Close()
}

func (p *Port) readLoop() {
	r := bufio.NewReader(p.conn)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			trimmed := strings.TrimRight(line, "\r\n")
			if trimmed != "" {
				p.lines <- trimmed
			}
		}
		if err != nil {
			p.signalDisconnect(err)
			return
		}
	}
}

func (p *Port) signalDisconnect(err error) {
	p.closeOnce.Do(func() {
		p.err <- err
		close(p.lines)
		close(p.closed)
	})
}
