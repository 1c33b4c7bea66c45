package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/moonblokz/moonprobe/internal/blockdev"
	"github.com/moonblokz/moonprobe/internal/collector"
	"github.com/moonblokz/moonprobe/internal/command"
	"github.com/moonblokz/moonprobe/internal/config"
	"github.com/moonblokz/moonprobe/internal/logbuf"
	"github.com/moonblokz/moonprobe/internal/logging"
	"github.com/moonblokz/moonprobe/internal/schedule"
	"github.com/moonblokz/moonprobe/internal/serialport"
	"github.com/moonblokz/moonprobe/internal/status"
	"github.com/moonblokz/moonprobe/internal/store"
	"github.com/moonblokz/moonprobe/internal/sysexec"
	"github.com/moonblokz/moonprobe/internal/telemetry"
	"github.com/moonblokz/moonprobe/internal/update"
)

func runBridge(args []string, stderr io.Writer) error {
	var (
		path string
		ov   config.Overrides
	)
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.StringVarP(&path, "config", "c", config.DefaultPath, "configuration file (YAML or JSON)")
	fs.StringVar(&ov.USBPort, "port", "", "serial port of the node, or \"auto\"")
	fs.StringVar(&ov.ServerURL, "server", "", "telemetry server base URL")
	fs.StringVar(&ov.NodeID, "node-id", "", "node identifier sent with uploads")
	fs.StringVar(&ov.LogLevel, "log-level", "", "TRACE, DEBUG, INFO, WARN or ERROR")
	if ok, err := parseFlags(fs, args, stderr); !ok {
		return err
	}

	cfg, err := config.Load(path, ov)
	if err != nil {
		return err
	}
	log, err := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", version).
		Str("node_id", cfg.NodeID).
		Str("port", cfg.USBPort).
		Str("config", cfg.Path).
		Msg("starting bridge")

	err = newBridge(cfg, log).run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("bridge stopped")
		return err
	}
	log.Info().Msg("bridge stopped")
	return nil
}

// bridge holds the wired components of a running bridge.
type bridge struct {
	log       zerolog.Logger
	serial    *serialport.Manager
	collector *collector.Collector
	telemetry *telemetry.Loop
	node      *update.Manager
	probe     *update.Manager
	status    *status.Server
}

func newBridge(cfg config.Config, log zerolog.Logger) *bridge {
	buffer := logbuf.NewBuffer(cfg.BufferSize)
	filter := &logbuf.Filter{}
	sched := schedule.NewHolder(schedule.Default(cfg.UploadEvery()))

	serial := serialport.NewManager(serialport.Options{
		Path:     cfg.USBPort,
		BaudRate: cfg.BaudRate,
		Logger:   log,
	})
	handle := serial.Handle()

	runner := sysexec.DefaultRunner{
		Sudo: cfg.UseSudo,
		Env:  sysexec.EnvWithPath(sysexec.SystemBinDirs...),
	}
	rebooter := blockdev.CommandRebooter{Runner: runner}
	history := store.New(cfg.StateDir)

	dispatcher := command.NewDispatcher(command.Options{
		Serial:          handle,
		Filter:          filter,
		Schedule:        sched,
		Rebooter:        rebooter,
		Logger:          log,
		DefaultInterval: cfg.UploadEvery(),
	})
	client := telemetry.NewClient(telemetry.ClientOptions{
		ServerURL: cfg.ServerURL,
		NodeID:    cfg.NodeID,
		APIKey:    cfg.APIKey,
		Compress:  cfg.CompressUploads,
	})

	b := &bridge{
		log:    log,
		serial: serial,
		collector: collector.New(collector.Options{
			Buffer:          buffer,
			Filter:          filter,
			Logger:          log,
			RequireLevelTag: cfg.RequireLevelTag,
		}),
		telemetry: telemetry.NewLoop(telemetry.LoopOptions{
			Buffer:     buffer,
			Schedule:   sched,
			Uploader:   client,
			Dispatcher: dispatcher,
			Logger:     log,
		}),
		node: update.NewManager(update.Options{
			Artifact: update.NodeFirmware,
			BaseURL:  cfg.NodeFirmwareURL,
			Dir:      cfg.DeployedDir,
			Installer: &update.NodeInstaller{
				Serial:     handle,
				Prober:     blockdev.LsblkProber{Runner: runner},
				Mounter:    blockdev.NewMounter(runner),
				Syncer:     blockdev.SystemSyncer{},
				Rebooter:   rebooter,
				Logger:     log,
				Dir:        cfg.DeployedDir,
				Label:      cfg.BootloaderLabel,
				MountPoint: cfg.MountPoint,
			},
			History:  history,
			Interval: cfg.UpdateEvery(),
			Logger:   log,
		}),
		probe: update.NewManager(update.Options{
			Artifact: update.ProbeBinary,
			BaseURL:  cfg.ProbeFirmwareURL,
			Dir:      cfg.DeployedDir,
			Installer: &update.ProbeInstaller{
				Rebooter:    rebooter,
				Logger:      log,
				Dir:         cfg.DeployedDir,
				StartScript: cfg.StartScript,
				ConfigPath:  cfg.Path,
			},
			History:  history,
			Interval: cfg.UpdateEvery(),
			Logger:   log,
		}),
	}

	if cfg.StatusListen != "" {
		b.status = status.New(status.Options{
			Addr:     cfg.StatusListen,
			Version:  version,
			NodeID:   cfg.NodeID,
			Link:     serial,
			Buffer:   buffer,
			Filter:   filter,
			Schedule: sched,
			Updates:  []status.UpdateSource{b.node, b.probe},
			History:  history,
			Logger:   log,
		})
	}
	return b
}

// run starts every task and waits. The tasks only return when ctx ends,
// so any earlier return is a failure that stops the rest.
func (b *bridge) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	b.spawn(g, gctx, "serial", b.serial.Run)
	b.spawn(g, gctx, "collector", func(ctx context.Context) error {
		return b.collector.Run(ctx, b.serial.Messages())
	})
	b.spawn(g, gctx, "telemetry", b.telemetry.Run)
	b.spawn(g, gctx, "node update", b.node.Run)
	b.spawn(g, gctx, "probe update", b.probe.Run)
	if b.status != nil {
		b.spawn(g, gctx, "status", b.status.Run)
	}
	return g.Wait()
}

func (b *bridge) spawn(g *errgroup.Group, ctx context.Context, name string, fn func(context.Context) error) {
	g.Go(func() error {
		err := fn(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("exited unexpectedly")
		}
		return fmt.Errorf("%s: %w", name, err)
	})
}
