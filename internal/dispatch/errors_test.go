package dispatch_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/mailpost/internal/dispatch"
)

func TestStatusErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", "endpoint returned status 500"},
		{"short body", "boom", "endpoint returned status 500: boom"},
		{"long ascii body", strings.Repeat("a", 250), "endpoint returned status 500: " + strings.Repeat("a", 200) + "..."},
		// 199 bytes of ASCII put the two-byte "é" across the cut.
		{"cut inside a rune", strings.Repeat("a", 199) + strings.Repeat("é", 10), "endpoint returned status 500: " + strings.Repeat("a", 199) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := (&dispatch.StatusError{StatusCode: 500, Body: tt.body}).Error()
			assert.Equal(t, tt.want, msg)
			assert.True(t, utf8.ValidString(msg))
		})
	}
}
