package serialport

import "context"

// Kind tells consumers what a Message carries.
type Kind int

const (
	LineReceived Kind = iota
	Connected
	Disconnected
)

func (k Kind) String() string {
	switch k {
	case LineReceived:
		return "line"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Message is emitted by the Manager on its message stream. Text holds
// the line for LineReceived and the device path for Connected.
type Message struct {
	Kind Kind
	Text string
}

// Command is queued for transmission to the node. Text is sent followed
// by CR-LF.
type Command struct {
	Text string
}

// Handle is the producer side of the Manager's command queue. It is
// safe to copy and to use from several goroutines.
type Handle struct {
	commands chan<- Command
}

// Send queues text for the node. It blocks while the queue is full and
// returns ctx.Err() if ctx ends first. Commands queued while the port is
// disconnected are written after the next successful connect.
func (h Handle) Send(ctx context.Context, text string) error {
	if h.commands == nil {
		return ErrClosed
	}
	select {
	case h.commands <- Command{Text: text}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
