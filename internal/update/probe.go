package update

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/moonblokz/moonprobe/internal/blockdev"
	"github.com/moonblokz/moonprobe/internal/clock"
)

// DefaultHandoffDelay is the wait between installing a new binary and
// rebooting into it.
const DefaultHandoffDelay = 5 * time.Second

// ProbeInstaller replaces the bridge binary. The host is rebooted only
// after the new binary and its start script are fully in place. When
// that reboot fails the installed version stays pending and Resume
// retries the reboot.
type ProbeInstaller struct {
	Rebooter blockdev.Rebooter
	Clock    clock.Clock
	Logger   zerolog.Logger

	Dir         string
	StartScript string
	// ConfigPath is passed to the new binary by the start script.
	ConfigPath   string
	HandoffDelay time.Duration

	pending atomic.Uint32
}

// Install deploys data as version v and reboots.
func (p *ProbeInstaller) Install(ctx context.Context, v uint32, data []byte) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.Real()
	}
	delay := p.HandoffDelay
	if delay <= 0 {
		delay = DefaultHandoffDelay
	}
	log := p.Logger.With().Str("component", "update").Str("target", ProbeBinary.Target).Uint32("version", v).Logger()

	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("creating deployed dir: %w", err)
	}
	binary, err := filepath.Abs(filepath.Join(p.Dir, ProbeBinary.FileName(v)))
	if err != nil {
		return err
	}
	if err := writeFileAtomic(binary, data, 0o755); err != nil {
		return fmt.Errorf("writing binary: %w", err)
	}
	if err := WriteStartScript(p.StartScript, binary, p.ConfigPath); err != nil {
		return fmt.Errorf("writing start script: %w", err)
	}

	removed, err := Cleanup(p.Dir, ProbeBinary, v)
	for _, r := range removed {
		log.Info().Str("file", r).Msg("removed superseded binary")
	}
	if err != nil {
		log.Warn().Err(err).Msg("cleaning up old binaries")
	}

	log.Warn().Dur("delay", delay).Msg("new binary installed; rebooting")
	if err := clock.Sleep(ctx, clk, delay); err != nil {
		return err
	}
	if err := p.Rebooter.Reboot(ctx); err != nil {
		p.pending.Store(v)
		return fmt.Errorf("rebooting into new binary: %w", err)
	}
	return nil
}

// Pending returns the installed version still waiting for a reboot, or 0.
func (p *ProbeInstaller) Pending() uint32 {
	return p.pending.Load()
}

// Resume retries the reboot into a binary whose install could not
// reboot. It does nothing when no version is pending.
func (p *ProbeInstaller) Resume(ctx context.Context) error {
	v := p.pending.Load()
	if v == 0 {
		return nil
	}
	p.Logger.Warn().
		Str("component", "update").
		Str("target", ProbeBinary.Target).
		Uint32("version", v).
		Msg("installed binary not running yet; retrying reboot")
	if err := p.Rebooter.Reboot(ctx); err != nil {
		return fmt.Errorf("rebooting into version %d: %w", v, err)
	}
	p.pending.CompareAndSwap(v, 0)
	return nil
}

// StartScript renders the launch script for binary.
func StartScript(binary, configPath string) string {
	script := "#!/bin/sh\n# Generated by moonprobe on self-update.\nexec " + shellQuote(binary) + " run"
	if configPath != "" {
		script += " --config " + shellQuote(configPath)
	}
	return script + "\n"
}

// WriteStartScript atomically replaces path with the launch script.
func WriteStartScript(path, binary, configPath string) error {
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return err
		}
		configPath = abs
	}
	return writeFileAtomic(path, []byte(StartScript(binary, configPath)), 0o755)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
