package logging

import (
	"io"
	"regexp"
	"strings"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBlue   = "\x1b[34m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiGray   = "\x1b[90m"
	ansiGreen  = "\x1b[32m"
	ansiCyan   = "\x1b[36m"
)

// tokenPattern matches, in priority order: quoted strings, IPv4 addresses,
// and bare numbers.
var tokenPattern = regexp.MustCompile(`"[^"]*"|(?:\d{1,3}\.){3}\d{1,3}|\d+(?:\.\d+)?`)

// colorLineWriter colors slog line-format records for terminal output.
// Level selects the base line color; quoted strings, IPs, and numbers get
// their own token colors. Lines without a recognized level pass through.
// Params: dst receives colored bytes.
// Returns: io.Writer wrapper.
type colorLineWriter struct {
	dst io.Writer
}

// Write colors one log line and forwards it to the destination.
// Params: p one rendered log record.
// Returns: reported length of the input and destination write error.
func (w *colorLineWriter) Write(p []byte) (int, error) {
	line := string(p)

	base := levelColor(line)
	if base == "" {
		if _, err := w.dst.Write(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	trailingNewline := strings.HasSuffix(line, "\n")
	body := strings.TrimSuffix(line, "\n")

	colored := tokenPattern.ReplaceAllStringFunc(body, func(token string) string {
		return tokenColor(token) + token + ansiReset + base
	})

	var builder strings.Builder
	builder.Grow(len(colored) + len(base) + len(ansiReset) + 1)
	builder.WriteString(base)
	builder.WriteString(colored)
	builder.WriteString(ansiReset)
	if trailingNewline {
		builder.WriteByte('\n')
	}

	if _, err := io.WriteString(w.dst, builder.String()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// levelColor picks the base color from the record's level token.
// Params: line rendered log record.
// Returns: ANSI color or empty string when no level is present.
func levelColor(line string) string {
	switch {
	case strings.Contains(line, "level=DEBUG"):
		return ansiGray
	case strings.Contains(line, "level=INFO"):
		return ansiBlue
	case strings.Contains(line, "level=WARN"):
		return ansiYellow
	case strings.Contains(line, "level=ERROR"):
		return ansiRed
	default:
		return ""
	}
}

// tokenColor picks the highlight color for one matched token.
// Params: token matched text.
// Returns: ANSI color for quoted strings, IPs, or numbers.
func tokenColor(token string) string {
	if strings.HasPrefix(token, `"`) {
		return ansiGreen
	}
	if strings.Count(token, ".") == 3 {
		return ansiCyan
	}
	return ansiYellow
}
