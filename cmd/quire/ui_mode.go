package main

import (
	"os"
	"strings"
)

// uiMode is the value of --ui. It satisfies pflag.Value, so a bad mode is
// rejected while flags are parsed.
type uiMode string

const (
	uiModeAuto uiMode = "auto"
	uiModeOn   uiMode = "on"
	uiModeOff  uiMode = "off"
)

func (m *uiMode) Set(value string) error {
	switch v := uiMode(strings.TrimSpace(strings.ToLower(value))); v {
	case "":
		*m = uiModeAuto
	case uiModeAuto, uiModeOn, uiModeOff:
		*m = v
	default:
		return errInvalidFlag("ui", value, "auto|on|off")
	}
	return nil
}

func (m *uiMode) String() string { return string(*m) }

func (*uiMode) Type() string { return "mode" }

// enabled decides whether the progress UI runs. In auto mode it needs a
// terminal on stdout and no --quiet.
func (m uiMode) enabled(quiet bool) bool {
	switch m {
	case uiModeOn:
		return true
	case uiModeOff:
		return false
	}
	return !quiet && isTerminal(os.Stdout)
}
