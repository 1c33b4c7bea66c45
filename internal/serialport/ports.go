package serialport

import (
	"errors"
	"strings"

	"go.bug.st/serial/enumerator"
)

// RP2040VendorID is the USB vendor id the node enumerates with.
const RP2040VendorID = "2E8A"

// AutoPath asks ResolvePort to pick the node's port automatically.
const AutoPath = "auto"

// ErrNoPort is returned when auto-detection finds no matching port.
var ErrNoPort = errors.New("serialport: no RP2040 USB serial port found")

// PortInfo holds details about a serial port.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
}

// ListPorts returns available serial ports.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	var result []PortInfo
	for _, p := range ports {
		result = append(result, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
		})
	}
	return result, nil
}

// ResolvePort returns path unchanged unless it is AutoPath, in which
// case the first USB port with the RP2040 vendor id is returned.
func ResolvePort(path string) (string, error) {
	return resolvePort(path, ListPorts)
}

func resolvePort(path string, list func() ([]PortInfo, error)) (string, error) {
	if path != AutoPath {
		return path, nil
	}
	ports, err := list()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, RP2040VendorID) {
			return p.Name, nil
		}
	}
	return "", ErrNoPort
}
