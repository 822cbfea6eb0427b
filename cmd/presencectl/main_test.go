package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/halaqah-id/halaqah-realtime/internal/client"
	"github.com/halaqah-id/halaqah-realtime/internal/testutil"
	"github.com/halaqah-id/halaqah-realtime/internal/types"
	"github.com/stretchr/testify/assert"
)

func Test_runCommand(t *testing.T) {
	pc := client.NewPresenceContext(client.Options{
		URL:  "ws://localhost:0/ws",
		User: types.PresenceUser{UserId: "u1", Name: "Aisyah"},
	}, testutil.TestLogger(t))

	tcases := []struct {
		name string
		line string
		err  string
	}{
		{name: "join offline", line: "join C1"},
		{name: "leave offline", line: "leave C1"},
		{name: "missing arguments", line: "say C1 u2", err: "say needs 3 arguments"},
		{name: "unknown command", line: "shout C1", err: `unknown command "shout"`},
		{name: "send offline", line: "say C1 u2 salam", err: client.ErrNotConnected.Error()},
		{name: "state", line: "state"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			err := runCommand(pc, strings.Fields(tc.line), out)
			if tc.err == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.err)
		})
	}
}

func Test_repl(t *testing.T) {
	pc := client.NewPresenceContext(client.Options{
		User: types.PresenceUser{UserId: "u1", Name: "Aisyah"},
	}, testutil.TestLogger(t))

	out := &bytes.Buffer{}
	repl(pc, strings.NewReader("\njoin C1\nbogus\nquit\nstate\n"), out)

	assert.Contains(t, out.String(), `unknown command "bogus"`)
	assert.NotContains(t, out.String(), "Connected", "expected quit to stop reading")
}
