package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	root := newRootCommand()

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"serve", "call", "notify", "handshake", "health", "monitor"} {
		assert.Contains(t, names, want)
	}

	t.Run("call needs a name", func(t *testing.T) {
		root := newRootCommand()
		root.SetArgs([]string{"call"})
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		assert.Error(t, root.Execute())
	})

	t.Run("monitor refuses stdio", func(t *testing.T) {
		root := newRootCommand()
		root.SetArgs([]string{"monitor", "--config", writeConfig(t, "[transport]\nurl = \"stdio:\"\n")})
		err := root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "amqp or nats")
	})

	t.Run("unknown scheme", func(t *testing.T) {
		root := newRootCommand()
		root.SetArgs([]string{"notify", "say", "--url", "http://localhost", "--config", writeConfig(t, "")})
		err := root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported transport scheme")
	})
}
