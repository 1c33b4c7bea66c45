// Package serialport owns the serial link to the node. A single Manager
// goroutine holds the port and multiplexes inbound lines with outbound
// commands; everything else talks to it through the Messages stream and
// a Handle.
package serialport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/moonblokz/moonprobe/internal/clock"
	"github.com/moonblokz/moonprobe/internal/retry"
)

const (
	// CommandQueueSize bounds the outbound queue shared by the command
	// dispatcher and the update manager.
	CommandQueueSize = 32
	messageQueueSize = 64
)

// Options configures a Manager.
type Options struct {
	Path     string
	BaudRate int
	// Open defaults to OpenSerial.
	Open Opener
	// Resolve maps the configured path to a device; defaults to
	// ResolvePort, which handles AutoPath.
	Resolve func(path string) (string, error)
	Clock   clock.Clock
	Logger  zerolog.Logger
}

// Manager keeps the serial port connected, reconnecting with
// exponential backoff, and forwards received lines.
type Manager struct {
	path     string
	baudRate int
	open     Opener
	resolve  func(string) (string, error)
	clock    clock.Clock
	log      zerolog.Logger

	messages  chan Message
	commands  chan Command
	connected atomic.Bool
	device    atomic.Value // string
}

// NewManager creates a Manager. Call Run to start it.
func NewManager(opts Options) *Manager {
	if opts.Open == nil {
		opts.Open = OpenSerial
	}
	if opts.Resolve == nil {
		opts.Resolve = ResolvePort
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	m := &Manager{
		path:     opts.Path,
		baudRate: opts.BaudRate,
		open:     opts.Open,
		resolve:  opts.Resolve,
		clock:    opts.Clock,
		log:      opts.Logger.With().Str("component", "serial").Logger(),
		messages: make(chan Message, messageQueueSize),
		commands: make(chan Command, CommandQueueSize),
	}
	m.device.Store("")
	return m
}

// Messages returns the stream of received lines and connection changes.
func (m *Manager) Messages() <-chan Message {
	return m.messages
}

// Handle returns the command sink for this manager.
func (m *Manager) Handle() Handle {
	return Handle{commands: m.commands}
}

// Connected reports whether the port is currently open.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// Device returns the device path of the current or last connection.
func (m *Manager) Device() string {
	return m.device.Load().(string)
}

// Run connects and serves the port until ctx ends. It never returns on
// its own; every disconnect is followed by a backoff wait and a new
// attempt.
func (m *Manager) Run(ctx context.Context) error {
	backoff := retry.Default()
	for {
		connected, err := m.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff.Reset()
		}

		wait := backoff.Next()
		switch {
		case err == nil:
			m.log.Info().Dur("retry_in", wait).Msg("serial connection closed")
		case isConfigError(err):
			m.log.Error().Err(err).Str("device", m.path).Dur("retry_in", wait).Msg("serial port unusable")
		default:
			m.log.Warn().Err(err).Str("device", m.path).Dur("retry_in", wait).Msg("serial connection error")
		}

		if err := clock.Sleep(ctx, m.clock, wait); err != nil {
			return err
		}
	}
}

// session opens the port and serves it until it fails or closes.
// connected reports whether the open succeeded.
func (m *Manager) session(ctx context.Context) (connected bool, err error) {
	device, err := m.resolve(m.path)
	if err != nil {
		return false, fmt.Errorf("resolving port %s: %w", m.path, err)
	}
	port, err := m.open(device, m.baudRate)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", device, err)
	}

	m.device.Store(device)
	m.connected.Store(true)
	m.log.Info().Str("device", device).Int("baud", m.baudRate).Msg("serial connected")
	m.emit(ctx, Message{Kind: Connected, Text: device})

	done := make(chan struct{})
	lines := make(chan string)
	readErr := make(chan error, 1)
	go m.readLoop(port, lines, readErr, done)

	defer func() {
		close(done)
		port.Close()
		m.connected.Store(false)
		m.emit(ctx, Message{Kind: Disconnected})
	}()

	for {
		select {
		case line := <-lines:
			m.log.Trace().Str("line", line).Msg("received")
			if !m.emit(ctx, Message{Kind: LineReceived, Text: line}) {
				return true, ctx.Err()
			}
		case err := <-readErr:
			return true, err
		case cmd := <-m.commands:
			if err := m.write(port, cmd); err != nil {
				return true, err
			}
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func (m *Manager) write(port Port, cmd Command) error {
	m.log.Debug().Str("command", cmd.Text).Msg("sending command")
	if _, err := io.WriteString(port, cmd.Text+"\r\n"); err != nil {
		return fmt.Errorf("writing command %q: %w", cmd.Text, err)
	}
	if err := port.Drain(); err != nil {
		return fmt.Errorf("flushing command %q: %w", cmd.Text, err)
	}
	return nil
}

// readLoop delivers trimmed, non-empty lines until the port fails. A
// clean end of stream is reported as a nil error.
func (m *Manager) readLoop(port Port, lines chan<- string, readErr chan<- error, done <-chan struct{}) {
	reader := bufio.NewReader(eofReader{r: port})
	for {
		raw, err := reader.ReadString('\n')
		if line := strings.TrimRightFunc(raw, unicode.IsSpace); line != "" {
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				err = nil
			}
			readErr <- err
			return
		}
	}
}

// emit blocks until msg is queued or ctx ends.
func (m *Manager) emit(ctx context.Context, msg Message) bool {
	select {
	case m.messages <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
