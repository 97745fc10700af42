package logging

import (
	"fmt"
	"log/slog"
)

var levelNames = map[slog.Level]string{
	LevelTrace:    "TRACE",
	LevelSecurity: "SECURITY",
}

// Renders the custom levels by name and expands errors
// created with go-xerrors into their detailed form, which
// includes the stack trace captured by Logger.Error.
func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.LevelKey:
		level, ok := a.Value.Any().(slog.Level)
		if !ok {
			return a
		}
		if name, exists := levelNames[level]; exists {
			a.Value = slog.StringValue(name)
		}
	case "error":
		if err, ok := a.Value.Any().(error); ok {
			a.Value = slog.StringValue(fmt.Sprintf("%+v", err))
		}
	}
	return a
}
