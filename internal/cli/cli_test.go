package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionRunsWithoutConfig(t *testing.T) {
	t.Setenv("KEEPER_PRIVATE_KEY", "")
	t.Setenv("BONDKEEPER_CHAIN_PRIVATE_KEY", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	require.Contains(t, out.String(), "version: ")
	require.Nil(t, appHandle, "version must not load configuration")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "snapshot", "monitor", "show", "export", "backfill", "notify-test", "version"} {
		require.True(t, names[want], "missing command %s", want)
	}
}
