package main

import (
	"context"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/moonblokz/moonprobe/internal/config"
	"github.com/moonblokz/moonprobe/internal/console"
	"github.com/moonblokz/moonprobe/internal/logging"
	"github.com/moonblokz/moonprobe/internal/serialport"
)

func runConsole(args []string, stderr io.Writer) error {
	var (
		port    string
		baud    int
		logFile string
	)
	fs := pflag.NewFlagSet("console", pflag.ContinueOnError)
	fs.StringVarP(&port, "port", "p", serialport.AutoPath, "serial port of the node, or \"auto\"")
	fs.IntVarP(&baud, "baud", "b", config.DefaultBaudRate, "baud rate")
	fs.StringVar(&logFile, "log-file", "", "write JSON logs to this file")
	if ok, err := parseFlags(fs, args, stderr); !ok {
		return err
	}

	// The terminal belongs to the TUI, so logs go to a file or nowhere.
	log := zerolog.Nop()
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		if log, err = logging.New(f, "DEBUG", logging.FormatJSON); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := serialport.NewManager(serialport.Options{
		Path:     port,
		BaudRate: baud,
		Logger:   log,
	})
	go mgr.Run(ctx)

	program := tea.NewProgram(console.New(mgr.Messages(), mgr.Handle()), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
