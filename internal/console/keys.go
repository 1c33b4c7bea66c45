package console

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	Send       key.Binding
	Trace      key.Binding
	Debug      key.Binding
	Info       key.Binding
	Warn       key.Binding
	Error      key.Binding
	Bootloader key.Binding
	Follow     key.Binding
	Clear      key.Binding
	Quit       key.Binding
}

var Keys = KeyMap{
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	Trace: key.NewBinding(
		key.WithKeys("f1"),
		key.WithHelp("f1", "trace"),
	),
	Debug: key.NewBinding(
		key.WithKeys("f2"),
		key.WithHelp("f2", "debug"),
	),
	Info: key.NewBinding(
		key.WithKeys("f3"),
		key.WithHelp("f3", "info"),
	),
	Warn: key.NewBinding(
		key.WithKeys("f4"),
		key.WithHelp("f4", "warn"),
	),
	Error: key.NewBinding(
		key.WithKeys("f5"),
		key.WithHelp("f5", "error"),
	),
	Bootloader: key.NewBinding(
		key.WithKeys("f9"),
		key.WithHelp("f9", "bootloader"),
	),
	Follow: key.NewBinding(
		key.WithKeys("ctrl+f"),
		key.WithHelp("ctrl+f", "follow"),
	),
	Clear: key.NewBinding(
		key.WithKeys("ctrl+l"),
		key.WithHelp("ctrl+l", "clear"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "esc"),
		key.WithHelp("esc", "quit"),
	),
}

// ShortHelp lists the bindings shown in the status bar.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Trace, k.Debug, k.Info, k.Warn, k.Error, k.Bootloader, k.Follow, k.Clear, k.Quit}
}
