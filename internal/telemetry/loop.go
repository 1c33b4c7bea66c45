package telemetry

import (
	"bytes"
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/moonblokz/moonprobe/internal/clock"
	"github.com/moonblokz/moonprobe/internal/command"
	"github.com/moonblokz/moonprobe/internal/logbuf"
	"github.com/moonblokz/moonprobe/internal/retry"
	"github.com/moonblokz/moonprobe/internal/schedule"
)

// Uploader sends one batch of entries.
type Uploader interface {
	Upload(ctx context.Context, entries []logbuf.Entry) (*Response, error)
}

// Dispatcher executes a decoded command.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) error
}

// LoopOptions configures a Loop.
type LoopOptions struct {
	Buffer     *logbuf.Buffer
	Schedule   *schedule.Holder
	Uploader   Uploader
	Dispatcher Dispatcher
	Clock      clock.Clock
	Logger     zerolog.Logger
	// Backoff governs the extra wait after a failed cycle. Defaults to
	// retry.Default().
	Backoff *retry.Backoff
}

// Loop periodically uploads the buffer and runs returned commands.
type Loop struct {
	buffer     *logbuf.Buffer
	schedule   *schedule.Holder
	uploader   Uploader
	dispatcher Dispatcher
	clock      clock.Clock
	log        zerolog.Logger
	backoff    *retry.Backoff
}

// NewLoop creates a Loop.
func NewLoop(opts LoopOptions) *Loop {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.Default()
	}
	return &Loop{
		buffer:     opts.Buffer,
		schedule:   opts.Schedule,
		uploader:   opts.Uploader,
		dispatcher: opts.Dispatcher,
		clock:      opts.Clock,
		log:        opts.Logger.With().Str("component", "telemetry").Logger(),
		backoff:    opts.Backoff,
	}
}

// Run sleeps for the current interval and runs a cycle, forever. A failed
// cycle adds a backoff wait before the next interval. Run returns only
// when ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		interval := l.schedule.Current(l.clock.Now())
		if err := clock.Sleep(ctx, l.clock, interval); err != nil {
			return err
		}

		if err := l.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := l.backoff.Next()
			l.log.Error().Err(err).Dur("retry_in", wait).Msg("upload failed")
			if err := clock.Sleep(ctx, l.clock, wait); err != nil {
				return err
			}
			continue
		}
		l.backoff.Reset()
	}
}

// Cycle uploads a snapshot of the buffer. On success exactly the
// snapshotted entries are removed and the returned commands are
// dispatched in order. On failure the buffer is left as it was, with the
// snapshot still ahead of anything appended since.
func (l *Loop) Cycle(ctx context.Context) error {
	snap := l.buffer.Snapshot()
	start := l.clock.Now()

	resp, err := l.uploader.Upload(ctx, snap.Entries)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			l.log.Warn().Int("status", se.StatusCode).Int("entries", snap.Len()).Msg("upload rejected")
		}
		return err
	}

	removed := l.buffer.Commit(snap)
	l.log.Debug().
		Str("batch_id", resp.BatchID).
		Int("entries", snap.Len()).
		Int("removed", removed).
		Dur("took", l.clock.Now().Sub(start)).
		Msg("upload delivered")

	l.dispatch(ctx, resp.Body)
	return nil
}

func (l *Loop) dispatch(ctx context.Context, body []byte) {
	if len(bytes.TrimSpace(body)) == 0 {
		return
	}
	cmds, err := command.Decode(body)
	if err != nil {
		l.log.Warn().Err(err).Msg("ignoring unparseable server response")
		return
	}
	for _, cmd := range cmds {
		if err := l.dispatcher.Dispatch(ctx, cmd); err != nil {
			l.log.Error().Err(err).Str("command", cmd.Name()).Msg("command failed")
		}
	}
}

var _ Uploader = (*Client)(nil)
