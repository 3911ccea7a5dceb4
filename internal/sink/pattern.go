package sink

import (
	"strings"
	"time"
)

// Pattern is the line template a message is rendered under. Tokens {ts},
// {level} and {msg} are substituted; everything else is literal.
type Pattern string

const (
	// PatternDiagnostic prefixes every line with timestamp and level.
	PatternDiagnostic Pattern = "{ts} | {level} | {msg}"

	// PatternRaw writes the payload untouched. Device payloads are already
	// formatted log lines, so this is the default for sink traffic.
	PatternRaw Pattern = "{msg}"
)

const timeLayout = "2006-01-02 15:04:05"

func (p Pattern) Render(ts time.Time, level, msg string) string {
	return strings.NewReplacer(
		"{ts}", ts.Format(timeLayout),
		"{level}", level,
		"{msg}", msg,
	).Replace(string(p))
}
