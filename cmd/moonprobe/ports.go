package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/moonblokz/moonprobe/internal/serialport"
)

func runPorts(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("ports", pflag.ContinueOnError)
	if ok, err := parseFlags(fs, args, stderr); !ok {
		return err
	}
	ports, err := serialport.ListPorts()
	if err != nil {
		return fmt.Errorf("listing serial ports: %w", err)
	}
	return writePorts(stdout, ports)
}

// writePorts prints one port per line and marks RP2040 devices.
func writePorts(w io.Writer, ports []serialport.PortInfo) error {
	if len(ports) == 0 {
		_, err := fmt.Fprintln(w, "no serial ports found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tVID:PID\tSERIAL\t")
	for _, p := range ports {
		id := "-"
		if p.IsUSB {
			id = p.VID + ":" + p.PID
		}
		serial := p.SerialNumber
		if serial == "" {
			serial = "-"
		}
		mark := ""
		if p.IsUSB && strings.EqualFold(p.VID, serialport.RP2040VendorID) {
			mark = "rp2040"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, id, serial, mark)
	}
	return tw.Flush()
}
