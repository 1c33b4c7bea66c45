package command

import (
	"fmt"
	"strings"
)

// DirectiveBootloader asks the node to reboot into its USB bootloader.
const DirectiveBootloader = "/BS"

var levelDirectives = map[string]string{
	"TRACE": "/LT",
	"DEBUG": "/LD",
	"INFO":  "/LI",
	"WARN":  "/LW",
	"ERROR": "/LE",
}

// LevelDirective returns the serial directive that sets the node's log
// level. Matching is case-insensitive.
func LevelDirective(level string) (string, bool) {
	d, ok := levelDirectives[strings.ToUpper(strings.TrimSpace(level))]
	return d, ok
}

// MeasurementDirective returns the directive that starts measurement seq.
func MeasurementDirective(seq uint64) string {
	return fmt.Sprintf("/M_%d_", seq)
}
