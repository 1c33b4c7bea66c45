// Package collector turns lines received from the node into buffered
// log entries.
package collector

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/moonblokz/moonprobe/internal/clock"
	"github.com/moonblokz/moonprobe/internal/logbuf"
	"github.com/moonblokz/moonprobe/internal/serialport"
)

// ErrStreamClosed is returned by Run when the message stream is closed.
var ErrStreamClosed = errors.New("collector: message stream closed")

var levelTags = []string{"[TRACE]", "[DEBUG]", "[INFO]", "[WARN]", "[ERROR]"}

// Options configures a Collector.
type Options struct {
	Buffer *logbuf.Buffer
	Filter *logbuf.Filter
	Clock  clock.Clock
	Logger zerolog.Logger
	// RequireLevelTag drops lines that do not start with a [LEVEL] tag.
	RequireLevelTag bool
}

// Collector consumes the serial message stream.
type Collector struct {
	buffer          *logbuf.Buffer
	filter          *logbuf.Filter
	clock           clock.Clock
	log             zerolog.Logger
	requireLevelTag bool
}

// New creates a Collector.
func New(opts Options) *Collector {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Collector{
		buffer:          opts.Buffer,
		filter:          opts.Filter,
		clock:           opts.Clock,
		log:             opts.Logger.With().Str("component", "collector").Logger(),
		requireLevelTag: opts.RequireLevelTag,
	}
}

// Run handles messages until ctx ends or the stream is closed.
func (c *Collector) Run(ctx context.Context, messages <-chan serialport.Message) error {
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return ErrStreamClosed
			}
			c.Handle(msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Handle processes one message and reports whether a line was buffered.
func (c *Collector) Handle(msg serialport.Message) bool {
	switch msg.Kind {
	case serialport.Connected:
		c.log.Info().Str("device", msg.Text).Msg("node connected")
		return false
	case serialport.Disconnected:
		c.log.Warn().Int("buffered", c.buffer.Len()).Msg("node disconnected")
		return false
	case serialport.LineReceived:
	default:
		return false
	}

	if c.requireLevelTag && !hasLevelTag(msg.Text) {
		c.log.Trace().Str("line", msg.Text).Msg("dropped untagged line")
		return false
	}
	if !c.filter.Accept(msg.Text) {
		return false
	}
	c.buffer.Push(logbuf.NewEntry(c.clock.Now(), msg.Text))
	return true
}

func hasLevelTag(line string) bool {
	for _, tag := range levelTags {
		if strings.HasPrefix(line, tag) {
			return true
		}
	}
	return false
}
