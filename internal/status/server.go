// Package status serves a read-only view of the bridge's state for
// operators on the local network.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/moonblokz/moonprobe/internal/clock"
	"github.com/moonblokz/moonprobe/internal/logbuf"
	"github.com/moonblokz/moonprobe/internal/schedule"
	"github.com/moonblokz/moonprobe/internal/store"
	"github.com/moonblokz/moonprobe/internal/update"
)

const shutdownTimeout = 5 * time.Second

// Link reports the serial connection state.
type Link interface {
	Connected() bool
	Device() string
}

// UpdateSource reports an update manager's last check.
type UpdateSource interface {
	Status() update.Status
}

// History lists recorded update attempts.
type History interface {
	Updates() ([]store.UpdateRecord, error)
}

// Options configures a Server.
type Options struct {
	Addr     string
	Version  string
	NodeID   string
	Link     Link
	Buffer   *logbuf.Buffer
	Filter   *logbuf.Filter
	Schedule *schedule.Holder
	Updates  []UpdateSource
	History  History
	Clock    clock.Clock
	Logger   zerolog.Logger
}

// Report is the /status response.
type Report struct {
	Version        string          `json:"version"`
	NodeID         string          `json:"node_id"`
	Uptime         string          `json:"uptime"`
	Serial         SerialReport    `json:"serial"`
	Buffer         BufferReport    `json:"buffer"`
	Filter         string          `json:"filter"`
	UploadInterval int64           `json:"upload_interval_seconds"`
	Window         *WindowReport   `json:"window,omitempty"`
	Updates        []update.Status `json:"updates"`
}

// SerialReport is the serial link state.
type SerialReport struct {
	Connected bool   `json:"connected"`
	Device    string `json:"device,omitempty"`
}

// BufferReport describes the log buffer fill and evictions.
type BufferReport struct {
	Len      int    `json:"len"`
	Capacity int    `json:"capacity"`
	Dropped  uint64 `json:"dropped"`
}

// WindowReport is the upload window set by the server, with periods in
// seconds.
type WindowReport struct {
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	ActivePeriod   int64     `json:"active_period"`
	InactivePeriod int64     `json:"inactive_period"`
}

// Server is the status HTTP endpoint.
type Server struct {
	opts    Options
	echo    *echo.Echo
	started time.Time
}

// New creates a Server and registers its routes.
func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	opts.Logger = opts.Logger.With().Str("component", "status").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			opts.Logger.Debug().Str("uri", v.URI).Int("status", v.Status).Msg("request")
			return nil
		},
	}))

	s := &Server{opts: opts, echo: e, started: opts.Clock.Now()}
	e.GET("/healthz", s.handleHealth)
	e.GET("/status", s.handleStatus)
	e.GET("/history", s.handleHistory)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.opts.Logger.Info().Str("addr", ln.Addr().String()).Msg("status server listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Report())
}

// handleHistory returns update attempts, newest first.
func (s *Server) handleHistory(c echo.Context) error {
	if s.opts.History == nil {
		return c.JSON(http.StatusOK, []store.UpdateRecord{})
	}
	records, err := s.opts.History.Updates()
	if err != nil {
		s.opts.Logger.Warn().Err(err).Msg("reading update history")
		return echo.NewHTTPError(http.StatusInternalServerError, "reading update history")
	}
	out := make([]store.UpdateRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
	}
	return c.JSON(http.StatusOK, out)
}

// Report assembles the current state.
func (s *Server) Report() Report {
	now := s.opts.Clock.Now()
	r := Report{
		Version: s.opts.Version,
		NodeID:  s.opts.NodeID,
		Uptime:  now.Sub(s.started).Truncate(time.Second).String(),
		Updates: []update.Status{},
	}
	if s.opts.Link != nil {
		r.Serial = SerialReport{Connected: s.opts.Link.Connected(), Device: s.opts.Link.Device()}
	}
	if s.opts.Buffer != nil {
		r.Buffer = BufferReport{
			Len:      s.opts.Buffer.Len(),
			Capacity: s.opts.Buffer.Capacity(),
			Dropped:  s.opts.Buffer.Dropped(),
		}
	}
	if s.opts.Filter != nil {
		r.Filter = s.opts.Filter.Get()
	}
	if s.opts.Schedule != nil {
		sch := s.opts.Schedule.Load()
		r.UploadInterval = int64(sch.Interval(now) / time.Second)
		if sch.HasWindow() {
			r.Window = &WindowReport{
				Start:          sch.Start,
				End:            sch.End,
				ActivePeriod:   int64(sch.ActivePeriod / time.Second),
				InactivePeriod: int64(sch.InactivePeriod / time.Second),
			}
		}
	}
	for _, u := range s.opts.Updates {
		r.Updates = append(r.Updates, u.Status())
	}
	return r
}
