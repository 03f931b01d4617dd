package gitadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPushStderr(t *testing.T) {
	cases := []struct {
		name    string
		stderr  string
		outcome PushOutcome
	}{
		{"non-fast-forward", "! [rejected] knots -> knots (non-fast-forward)", PushNonFastForward},
		{"fetch first", "hint: Updates were rejected because the remote contains work that you do\nhint: not have locally... fetch first", PushNonFastForward},
		{"stale info", "! [rejected] knots -> knots (stale info)", PushNonFastForward},
		{"host unreachable", "fatal: unable to access 'https://example.com/': Could not resolve host: example.com", PushTransient},
		{"connection timed out", "ssh: connect to host example.com port 22: Connection timed out", PushTransient},
		{"early eof", "fatal: early EOF", PushTransient},
		{"permission denied", "fatal: Authentication failed for 'https://example.com/'", PushFatal},
		{"unrelated", "fatal: something unexpected happened", PushFatal},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.outcome, classifyPushStderr(c.stderr))
		})
	}
}
