// Package command decodes the commands returned by the telemetry server
// and carries them out.
package command

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Command is one decoded server command. The concrete types below each
// hold the fully resolved parameters of one command name, with every
// optional field at an explicit zero default.
type Command interface {
	Name() string
}

// SetUpdateInterval replaces the upload schedule. Times are the raw
// RFC 3339 strings; the dispatcher validates them.
type SetUpdateInterval struct {
	StartTime      string
	EndTime        string
	ActivePeriod   uint64
	InactivePeriod uint64
}

// SetLogLevel changes the node's log level.
type SetLogLevel struct {
	Level string
}

// SetLogFilter replaces the substring filter. An empty Value clears it.
type SetLogFilter struct {
	Value string
}

// RunCommand forwards Text to the node verbatim.
type RunCommand struct {
	Text string
}

// StartMeasurement starts measurement Sequence on the node.
type StartMeasurement struct {
	Sequence uint64
}

// UpdateNode and UpdateProbe are informational; updates run on their own
// schedule.
type UpdateNode struct{}

type UpdateProbe struct{}

// RebootProbe reboots the host.
type RebootProbe struct{}

// Unknown is a command whose name is not recognized, or an array element
// that is not an object.
type Unknown struct {
	Command string
}

func (SetUpdateInterval) Name() string { return "set_update_interval" }
func (SetLogLevel) Name() string       { return "set_log_level" }
func (SetLogFilter) Name() string      { return "set_log_filter" }
func (RunCommand) Name() string        { return "run_command" }
func (StartMeasurement) Name() string  { return "start_measurement" }
func (UpdateNode) Name() string        { return "update_node" }
func (UpdateProbe) Name() string       { return "update_probe" }
func (RebootProbe) Name() string       { return "reboot_probe" }
func (u Unknown) Name() string         { return u.Command }

// Decode parses a response body holding an ordered array of command
// objects. Parameters may appear next to "command" or inside a nested
// "parameters" object; nested values win. Fields with an unusable type
// are treated as missing. Only a body that is not a JSON array is an
// error.
func Decode(body []byte) ([]Command, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decoding command list: %w", err)
	}

	commands := make([]Command, 0, len(items))
	for _, item := range items {
		commands = append(commands, decodeOne(item))
	}
	return commands, nil
}

func decodeOne(item json.RawMessage) Command {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(item, &top); err != nil {
		return Unknown{}
	}

	name := str(top["command"])
	// At top level "command" is the command name, so it is not a
	// run_command parameter there.
	f := fields{top: top}
	delete(f.top, "command")
	if raw, ok := top["parameters"]; ok {
		_ = json.Unmarshal(raw, &f.nested)
	}

	switch name {
	case "set_update_interval":
		return SetUpdateInterval{
			StartTime:      f.str("start_time"),
			EndTime:        f.str("end_time"),
			ActivePeriod:   f.number("active_period"),
			InactivePeriod: f.number("inactive_period"),
		}
	case "set_log_level":
		return SetLogLevel{Level: f.str("log_level", "level")}
	case "set_log_filter", "set_filter":
		return SetLogFilter{Value: f.str("log_filter", "value")}
	case "run_command":
		return RunCommand{Text: f.str("command", "value")}
	case "start_measurement":
		return StartMeasurement{Sequence: f.number("sequence")}
	case "update_node":
		return UpdateNode{}
	case "update_probe":
		return UpdateProbe{}
	case "reboot_probe":
		return RebootProbe{}
	default:
		return Unknown{Command: name}
	}
}

// fields looks parameters up in the nested object first, then at top
// level.
type fields struct {
	top    map[string]json.RawMessage
	nested map[string]json.RawMessage
}

func (f fields) lookup(key string) []json.RawMessage {
	return []json.RawMessage{f.nested[key], f.top[key]}
}

// str returns the first non-empty string found under any of keys, in
// order.
func (f fields) str(keys ...string) string {
	for _, key := range keys {
		for _, raw := range f.lookup(key) {
			if v := str(raw); v != "" {
				return v
			}
		}
	}
	return ""
}

func (f fields) number(key string) uint64 {
	for _, raw := range f.lookup(key) {
		if v := number(raw); v != 0 {
			return v
		}
	}
	return 0
}

// str returns raw as a string, or "" when it is missing or not a string.
func str(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// number accepts a non-negative JSON number or a numeric string.
func number(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0
		}
		n = json.Number(strings.TrimSpace(s))
	}
	if v, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return v
	}
	f, err := n.Float64()
	if err != nil || f < 0 {
		return 0
	}
	return uint64(f)
}
