// Package update keeps the node firmware and the bridge binary at the
// latest published version.
package update

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moonblokz/moonprobe/internal/clock"
	"github.com/moonblokz/moonprobe/internal/store"
)

// DefaultCheckInterval is the wait between checks.
const DefaultCheckInterval = time.Hour

const downloadTimeout = 10 * time.Minute

// Installer puts a verified artifact in place.
type Installer interface {
	Install(ctx context.Context, version uint32, data []byte) error
}

// Resumer is implemented by installers that can be left with unfinished
// work after Install returns, such as a reboot into an installed binary
// that failed. Resume is called before every check.
type Resumer interface {
	Resume(ctx context.Context) error
}

// History records update attempts.
type History interface {
	AddUpdate(r store.UpdateRecord) error
}

// Status is a snapshot of a manager's last check.
type Status struct {
	Target    string    `json:"target"`
	Current   uint32    `json:"current"`
	Latest    uint32    `json:"latest"`
	LastCheck time.Time `json:"last_check,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Options configures a Manager.
type Options struct {
	Artifact  Artifact
	BaseURL   string
	Dir       string
	Installer Installer
	History   History
	Interval  time.Duration
	Client    *http.Client
	Clock     clock.Clock
	Logger    zerolog.Logger
}

// Manager runs the check/download/verify/install cycle for one target.
type Manager struct {
	artifact  Artifact
	baseURL   string
	dir       string
	installer Installer
	history   History
	interval  time.Duration
	client    *http.Client
	clock     clock.Clock
	log       zerolog.Logger

	mu     sync.Mutex
	status Status
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = DefaultCheckInterval
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: downloadTimeout}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Manager{
		artifact:  opts.Artifact,
		baseURL:   opts.BaseURL,
		dir:       opts.Dir,
		installer: opts.Installer,
		history:   opts.History,
		interval:  opts.Interval,
		client:    opts.Client,
		clock:     opts.Clock,
		log:       opts.Logger.With().Str("component", "update").Str("target", opts.Artifact.Target).Logger(),
		status:    Status{Target: opts.Artifact.Target},
	}
}

// Run checks immediately and then once per interval until ctx is done.
// Failed checks are logged and retried on the next interval.
func (m *Manager) Run(ctx context.Context) error {
	for {
		if _, err := m.CheckAndUpdate(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Error().Err(err).Msg("update check failed")
		}
		if err := clock.Sleep(ctx, m.clock, m.interval); err != nil {
			return err
		}
	}
}

// CheckAndUpdate installs the remote version if it is strictly newer
// than the deployed one. It reports whether an install completed.
func (m *Manager) CheckAndUpdate(ctx context.Context) (bool, error) {
	if r, ok := m.installer.(Resumer); ok {
		if err := r.Resume(ctx); err != nil {
			m.setStatus(0, 0, err)
			return false, fmt.Errorf("resuming %s install: %w", m.artifact.Target, err)
		}
	}
	info, err := FetchVersion(ctx, m.client, m.baseURL)
	if err != nil {
		m.setStatus(0, 0, err)
		return false, err
	}
	current, err := CurrentVersion(m.dir, m.artifact)
	if err != nil {
		m.setStatus(0, info.Version, err)
		return false, err
	}
	m.setStatus(current, info.Version, nil)

	log := m.log.With().Uint32("current", current).Uint32("latest", info.Version).Logger()
	if info.Version <= current {
		log.Debug().Msg("up to date")
		return false, nil
	}

	log.Info().Msg("update available")
	start := m.clock.Now()
	err = m.apply(ctx, info)
	m.record(current, info.Version, start, err)
	if err != nil {
		m.setStatus(current, info.Version, err)
		return false, fmt.Errorf("updating %s to %d: %w", m.artifact.Target, info.Version, err)
	}
	m.setStatus(info.Version, info.Version, nil)
	log.Info().Msg("update installed")
	return true, nil
}

func (m *Manager) apply(ctx context.Context, info VersionInfo) error {
	url := m.baseURL + "/" + m.artifact.FileName(info.Version)
	data, err := get(ctx, m.client, url, maxArtifactSize)
	if err != nil {
		return fmt.Errorf("downloading: %w", err)
	}
	if err := Verify(data, info); err != nil {
		return err
	}
	m.log.Info().Uint32("version", info.Version).Int("bytes", len(data)).Msg("artifact verified")
	return m.installer.Install(ctx, info.Version, data)
}

func (m *Manager) record(from, to uint32, start time.Time, err error) {
	if m.history == nil {
		return
	}
	r := store.UpdateRecord{
		Target:      m.artifact.Target,
		FromVersion: from,
		ToVersion:   to,
		Timestamp:   start.UTC(),
		Success:     err == nil,
		Duration:    m.clock.Now().Sub(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	if herr := m.history.AddUpdate(r); herr != nil {
		m.log.Warn().Err(herr).Msg("recording update history")
	}
}

func (m *Manager) setStatus(current, latest uint32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.LastCheck = m.clock.Now()
	if current != 0 || latest != 0 {
		m.status.Current = current
		m.status.Latest = latest
	}
	m.status.LastError = ""
	if err != nil {
		m.status.LastError = err.Error()
	}
}

// Status returns the outcome of the last check.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}
