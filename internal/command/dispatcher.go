package command

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/moonblokz/moonprobe/internal/clock"
	"github.com/moonblokz/moonprobe/internal/logbuf"
	"github.com/moonblokz/moonprobe/internal/schedule"
)

// RebootDelay is how long reboot_probe waits before rebooting the host.
const RebootDelay = 2 * time.Second

// MaxPeriod bounds the upload periods a server may set.
const MaxPeriod = 24 * time.Hour

// Sender writes a line to the node.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Rebooter restarts the host.
type Rebooter interface {
	Reboot(ctx context.Context) error
}

// Options configures a Dispatcher.
type Options struct {
	Serial   Sender
	Filter   *logbuf.Filter
	Schedule *schedule.Holder
	Rebooter Rebooter
	Clock    clock.Clock
	Logger   zerolog.Logger
	// DefaultInterval applies outside an explicit upload window.
	DefaultInterval time.Duration
	// RebootDelay overrides the package default when positive.
	RebootDelay time.Duration
}

// Dispatcher executes server commands against the serial link, the
// log filter, the upload schedule and the host.
type Dispatcher struct {
	serial          Sender
	filter          *logbuf.Filter
	schedule        *schedule.Holder
	rebooter        Rebooter
	clock           clock.Clock
	log             zerolog.Logger
	defaultInterval time.Duration
	rebootDelay     time.Duration
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.RebootDelay <= 0 {
		opts.RebootDelay = RebootDelay
	}
	return &Dispatcher{
		serial:          opts.Serial,
		filter:          opts.Filter,
		schedule:        opts.Schedule,
		rebooter:        opts.Rebooter,
		clock:           opts.Clock,
		log:             opts.Logger.With().Str("component", "dispatcher").Logger(),
		defaultInterval: opts.DefaultInterval,
		rebootDelay:     opts.RebootDelay,
	}
}

// Dispatch carries out cmd. Malformed or unknown commands are logged and
// skipped with a nil error; an error means the command was understood
// but could not be delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) error {
	log := d.log.With().Str("command", cmd.Name()).Logger()

	switch c := cmd.(type) {
	case SetUpdateInterval:
		d.setUpdateInterval(log, c)
		return nil

	case SetLogLevel:
		directive, ok := LevelDirective(c.Level)
		if !ok {
			log.Warn().Str("level", c.Level).Msg("unknown log level")
			return nil
		}
		return d.send(ctx, directive)

	case SetLogFilter:
		d.filter.Set(c.Value)
		log.Info().Str("filter", c.Value).Msg("log filter updated")
		return nil

	case RunCommand:
		if c.Text == "" {
			log.Warn().Msg("run_command without a command")
			return nil
		}
		return d.send(ctx, c.Text)

	case StartMeasurement:
		if c.Sequence == 0 {
			log.Warn().Msg("start_measurement without a sequence")
			return nil
		}
		return d.send(ctx, MeasurementDirective(c.Sequence))

	case UpdateNode, UpdateProbe:
		log.Info().Msg("update requested; the update manager applies it on its next check")
		return nil

	case RebootProbe:
		log.Warn().Dur("delay", d.rebootDelay).Msg("rebooting host")
		if err := clock.Sleep(ctx, d.clock, d.rebootDelay); err != nil {
			return err
		}
		if err := d.rebooter.Reboot(ctx); err != nil {
			return fmt.Errorf("rebooting host: %w", err)
		}
		return nil

	default:
		log.Warn().Msg("unrecognized command")
		return nil
	}
}

func (d *Dispatcher) send(ctx context.Context, text string) error {
	if err := d.serial.Send(ctx, text); err != nil {
		return fmt.Errorf("sending %q to node: %w", text, err)
	}
	return nil
}

func (d *Dispatcher) setUpdateInterval(log zerolog.Logger, p SetUpdateInterval) {
	limit := uint64(MaxPeriod / time.Second)
	if p.ActivePeriod > limit || p.InactivePeriod > limit {
		log.Warn().
			Uint64("active_period", p.ActivePeriod).
			Uint64("inactive_period", p.InactivePeriod).
			Dur("max", MaxPeriod).
			Msg("set_update_interval period out of range")
		return
	}
	active := time.Duration(p.ActivePeriod) * time.Second
	inactive := time.Duration(p.InactivePeriod) * time.Second
	switch {
	case active == 0 && inactive == 0:
		log.Warn().Msg("set_update_interval without periods")
		return
	case active == 0:
		active = inactive
	case inactive == 0:
		inactive = active
	}

	s := schedule.Schedule{
		Start:           parseBound(log, "start_time", p.StartTime),
		End:             parseBound(log, "end_time", p.EndTime),
		ActivePeriod:    active,
		InactivePeriod:  inactive,
		DefaultInterval: d.defaultInterval,
	}
	if !s.HasWindow() {
		// Without a window the configured period applies everywhere.
		s.DefaultInterval = active
	}

	interval := d.schedule.Store(s, d.clock.Now())
	log.Info().
		Dur("active", active).
		Dur("inactive", inactive).
		Bool("window", s.HasWindow()).
		Dur("interval", interval).
		Msg("upload schedule updated")
}

func parseBound(log zerolog.Logger, field, value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		log.Warn().Err(err).Str("field", field).Msg("ignoring malformed timestamp")
		return time.Time{}
	}
	return t
}
