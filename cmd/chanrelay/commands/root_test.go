package commands

import (
	"bytes"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the real root command with args and returns its stdout.
// Flag values persist between cobra executions, so every flag is reset first.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, key := range []string{"RELAY_INSTANCE_NAME", "REDIS_URL", "RELAY_STORE_DSN"} {
		t.Setenv(key, "")
	}

	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	rootCmd.PersistentFlags().VisitAll(reset)
	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(reset)
	}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	out, err := execute(t)

	assert.NoError(t, err)
	assert.Contains(t, out, "Usage:", "Help should be displayed")
	assert.Contains(t, out, "chanrelay", "Help should show command name")
}

func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	_, err := execute(t, "--unknown-flag", "value")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"init", "collections", "show", "post", "command", "watch", "reindex"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestSetVersionInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-10-16")
	assert.Equal(t, "1.2.3 (commit: abc123, built: 2026-10-16)", rootCmd.Version)
}

func TestConfigFlag_Shorthand(t *testing.T) {
	f := rootCmd.PersistentFlags().ShorthandLookup("c")
	require.NotNil(t, f)
	assert.Equal(t, "config", f.Name)
}
