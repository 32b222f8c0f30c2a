package compiler

import "log/slog"

// SetupLogger builds the compiler's logger. A nil handler discards
// everything. group, when set, nests the compiler's records under it.
func SetupLogger(handler slog.Handler, name, group string) (slog.Handler, *slog.Logger) {
	if handler == nil {
		handler = slog.DiscardHandler
	}
	if name != "" {
		handler = handler.WithGroup(name)
	}
	if group != "" {
		return handler, slog.New(handler.WithGroup(group))
	}
	return handler, slog.New(handler)
}
