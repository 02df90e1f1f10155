package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"index", "embeddings", "build-index", "search", "watch", "daemon", "mcp", "version"}
	have := map[string]bool{}
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, have[name], "missing subcommand %s", name)
	}
}

func TestRootCmd_UnknownCommandFails(t *testing.T) {
	_, err := execute(t, "frobnicate")
	require.Error(t, err)
}

func TestRootCmd_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "folder-mcp")
	assert.Contains(t, out, "daemon")
}

func TestUsageErrorf_FormatsMessage(t *testing.T) {
	assert.Equal(t, "bad input", usageErrorf("bad %s", "input").Error())
}

func TestIsCobraUsageError(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"index"}) // missing required arg
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	require.Error(t, err)
	assert.True(t, isCobraUsageError(err), "got: %v", err)
}
