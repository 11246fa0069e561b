// Package output renders reports for the terminal (pterm) or as
// newline-delimited JSON.
package output

// Mode represents the output mode.
type Mode int

const (
	// ModeTUI is the interactive terminal UI mode.
	ModeTUI Mode = iota
	// ModePlain is the plain text mode.
	ModePlain
	// ModeJSON is the structured JSON output mode.
	ModeJSON
	// ModeQuiet suppresses most output.
	ModeQuiet
)

func (m Mode) String() string {
	switch m {
	case ModeTUI:
		return "tui"
	case ModePlain:
		return "plain"
	case ModeJSON:
		return "json"
	case ModeQuiet:
		return "quiet"
	}
	return "unknown"
}

// ModeFor picks the output mode from the global flags. The TUI is only
// chosen when the caller wants it and stdout is a terminal.
func ModeFor(jsonOut, quiet, plain, wantTUI, tty bool) Mode {
	switch {
	case jsonOut:
		return ModeJSON
	case quiet:
		return ModeQuiet
	case plain || !wantTUI || !tty:
		return ModePlain
	}
	return ModeTUI
}
