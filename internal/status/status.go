// Package status defines the closed set of check outcomes maremma records,
// their precedence order for rollups, and the mapping to the Nagios exit-code
// convention that every probe executor must honor.
package status

import (
	"strings"
	"unicode/utf8"
)

// Status is a check outcome. The zero value is not a valid Status; always use
// one of the named constants.
type Status string

const (
	Ok       Status = "ok"
	Pending  Status = "pending"
	Disabled Status = "disabled"
	Unknown  Status = "unknown"
	Warning  Status = "warning"
	Critical Status = "critical"
	Error    Status = "error"
)

// precedence gives the total order used for rollups: higher wins.
var precedence = map[Status]int{
	Ok:       0,
	Pending:  1,
	Disabled: 2,
	Unknown:  3,
	Warning:  4,
	Critical: 5,
	Error:    6,
}

// Precedence returns this status's rank in the rollup order. Unknown values
// (should never occur outside of corrupted persisted data) sort below Ok.
func (s Status) Precedence() int {
	if p, ok := precedence[s]; ok {
		return p
	}
	return -1
}

// Worse reports whether s outranks other in the rollup order.
func (s Status) Worse(other Status) bool {
	return s.Precedence() > other.Precedence()
}

// Valid reports whether s is one of the closed enumeration's members.
func (s Status) Valid() bool {
	_, ok := precedence[s]
	return ok
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// CSSClass returns a bare CSS class token for the UI to style a status badge
// with. It carries no markup, only a hint.
func (s Status) CSSClass() string {
	switch s {
	case Ok:
		return "status-ok"
	case Pending:
		return "status-pending"
	case Disabled:
		return "status-disabled"
	case Unknown:
		return "status-unknown"
	case Warning:
		return "status-warning"
	case Critical:
		return "status-critical"
	case Error:
		return "status-error"
	default:
		return "status-unknown"
	}
}

// FromExitCode maps a child process (or remote command) exit code to a
// Status per the Nagios convention: 0 -> Ok, 1 -> Warning, 2 -> Critical,
// 3 -> Unknown. Any other code, or a signal-terminated process, maps to
// Error.
func FromExitCode(code int, signaled bool) Status {
	if signaled {
		return Error
	}
	switch code {
	case 0:
		return Ok
	case 1:
		return Warning
	case 2:
		return Critical
	case 3:
		return Unknown
	default:
		return Error
	}
}

// ToExitCode is the inverse of FromExitCode for the statuses that have a
// canonical exit code. Error has no canonical exit code in the Nagios
// convention; ok reports false for it.
func (s Status) ToExitCode() (code int, ok bool) {
	switch s {
	case Ok:
		return 0, true
	case Warning:
		return 1, true
	case Critical:
		return 2, true
	case Unknown:
		return 3, true
	default:
		return 0, false
	}
}

// MaxTextBytes bounds the size of a Result's human-readable text before
// persistence.
const MaxTextBytes = 64 * 1024

// Result is the outcome of a single probe execution.
type Result struct {
	Status  Status
	Elapsed int64 // milliseconds
	Text    string
}

// Sanitize trims surrounding whitespace and truncates Text to MaxTextBytes of
// UTF-8, never splitting a multi-byte rune.
func (r Result) Sanitize() Result {
	text := strings.TrimSpace(r.Text)
	if len(text) > MaxTextBytes {
		text = truncateUTF8(text, MaxTextBytes)
	}
	r.Text = text
	return r
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	b := s[:max]
	for len(b) > 0 && !utf8.ValidString(b) {
		b = b[:len(b)-1]
	}
	return b
}
