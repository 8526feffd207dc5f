package view

import "context"

type settingsKey string

const (
	// BasicModeKey is the key for the basic mode setting in the request
	// context.
	BasicModeKey settingsKey = "basicMode"
)

// IsBasicMode reports whether the request opted into script-free pages.
// Basic mode skips the editor scripts, so such clients get no autosave,
// presence heartbeat, or live notifications; they edit through plain form
// posts and the conflict check still runs on save.
func IsBasicMode(ctx context.Context) bool {
	basic, ok := ctx.Value(BasicModeKey).(bool)
	return ok && basic
}
