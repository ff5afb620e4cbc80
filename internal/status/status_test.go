package status

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrecedenceOrder(t *testing.T) {
	order := []Status{Ok, Pending, Disabled, Unknown, Warning, Critical, Error}
	for i := 1; i < len(order); i++ {
		assert.True(t, order[i].Worse(order[i-1]), "%s should outrank %s", order[i], order[i-1])
	}
}

func TestFromExitCode(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		signaled bool
		want     Status
	}{
		{"zero is ok", 0, false, Ok},
		{"one is warning", 1, false, Warning},
		{"two is critical", 2, false, Critical},
		{"three is unknown", 3, false, Unknown},
		{"other code is error", 42, false, Error},
		{"signaled is always error", 0, true, Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromExitCode(tt.code, tt.signaled))
		})
	}
}

func TestToExitCodeRoundTrip(t *testing.T) {
	for _, s := range []Status{Ok, Warning, Critical, Unknown} {
		code, ok := s.ToExitCode()
		assert.True(t, ok)
		assert.Equal(t, s, FromExitCode(code, false))
	}

	_, ok := Error.ToExitCode()
	assert.False(t, ok)
}

func TestResultSanitizeTrimsAndTruncates(t *testing.T) {
	r := Result{Status: Ok, Text: "  hello world  "}.Sanitize()
	assert.Equal(t, "hello world", r.Text)

	huge := strings.Repeat("é", MaxTextBytes) // 2 bytes per rune
	r = Result{Status: Ok, Text: huge}.Sanitize()
	assert.LessOrEqual(t, len(r.Text), MaxTextBytes)
	assert.True(t, strings.HasPrefix(huge, r.Text))
}

func TestValid(t *testing.T) {
	assert.True(t, Ok.Valid())
	assert.False(t, Status("bogus").Valid())
}
