package serialport

import (
	"errors"
	"io"

	"go.bug.st/serial"
)

// ErrClosed is returned by a Handle that is not attached to a Manager.
var ErrClosed = errors.New("serialport: command queue closed")

// Port is the part of a serial port the Manager uses. Drain blocks until
// everything written has been transmitted.
type Port interface {
	io.ReadWriteCloser
	Drain() error
}

// Opener opens the port at path with the given baud rate.
type Opener func(path string, baudRate int) (Port, error)

// OpenSerial opens a real serial port in 8N1 mode.
func OpenSerial(path string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// isConfigError reports errors that will not clear up by reconnecting,
// such as a missing device node or insufficient permissions.
func isConfigError(err error) bool {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return false
	}
	switch portErr.Code() {
	case serial.PermissionDenied, serial.InvalidSpeed, serial.InvalidDataBits,
		serial.InvalidParity, serial.InvalidStopBits, serial.FunctionNotImplemented:
		return true
	default:
		return false
	}
}

// eofReader turns a zero-byte read without error into io.EOF. With no
// read timeout configured a zero-byte read only happens once the peer
// has gone away.
type eofReader struct {
	r io.Reader
}

func (e eofReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}
