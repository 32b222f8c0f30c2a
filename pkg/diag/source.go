package diag

import (
	"fmt"
	"log/slog"
	"strings"
)

// Source is the template text an error position refers to.
type Source struct {
	Name string
	Text string
}

// LineCol converts a byte offset into a 1-based line and column.
func (s *Source) LineCol(pos int) (int, int) {
	if s == nil || s.Text == "" || pos < 0 {
		return 0, 0
	}
	if pos > len(s.Text) {
		pos = len(s.Text)
	}
	line := 1 + strings.Count(s.Text[:pos], "\n")
	col := pos - strings.LastIndexByte(s.Text[:pos], '\n')
	return line, col
}

// Format renders err as "name:line:col: message".
func (s *Source) Format(err error) string {
	name := "<template>"
	if s != nil && s.Name != "" {
		name = s.Name
	}
	pos := Position(err)
	if pos == NoPos {
		return fmt.Sprintf("%s: %v", name, err)
	}
	line, col := s.LineCol(pos)
	return fmt.Sprintf("%s:%d:%d: %v", name, line, col, err)
}

// Reporter routes compiler warnings to a logger or, when configured, back to
// the caller as errors.
type Reporter struct {
	Logger   *slog.Logger
	Source   *Source
	Enabled  bool
	AsErrors bool
}

// Warn logs msg or returns it as an error when warnings are promoted.
func (r *Reporter) Warn(pos int, msg string) error {
	if r == nil || !r.Enabled {
		return nil
	}
	if r.AsErrors {
		return fmt.Errorf("%w: %s", ErrWarning, msg)
	}
	if r.Logger == nil {
		return nil
	}
	line, col := r.Source.LineCol(pos)
	r.Logger.Warn(msg, "line", line, "col", col)
	return nil
}
