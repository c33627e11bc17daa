// Package ui renders the ANSI colors used by the agentlog CLI.
package ui

import "fmt"

// ANSI256 color codes.
const (
	colorAccent  = 74  // blue
	colorCmd     = 250 // light gray
	colorMuted   = 245 // medium gray
	colorUrgent  = 173 // orange
	colorSuccess = 114 // green
	colorFailure = 167 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderPriority colors a message priority; normal is left plain.
func RenderPriority(p string) string {
	switch p {
	case "urgent":
		return paint(colorUrgent, p)
	case "low":
		return paint(colorMuted, p)
	}
	return p
}

// RenderOutcome renders a completion result as "ok" or "failed".
func RenderOutcome(success bool) string {
	if success {
		return paint(colorSuccess, "ok")
	}
	return paint(colorFailure, "failed")
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
