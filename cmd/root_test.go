package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"serve", "join", "table", "themes", "towns", "loads"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "vmt-browser", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestJoinCommand_Flags(t *testing.T) {
	for _, name := range []string{"years", "json"} {
		assert.NotNil(t, joinCmd.Flags().Lookup(name), "join should have --%s flag", name)
	}
}

func TestTableCommand_Flags(t *testing.T) {
	year := tableCmd.Flags().Lookup("year")
	require.NotNil(t, year)
	assert.Equal(t, "0", year.DefValue)
	assert.NotNil(t, tableCmd.Flags().Lookup("family"))
	assert.Error(t, tableCmd.Args(tableCmd, nil), "table needs a municipality")
}

func TestLoadsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range loadsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "stats"} {
		assert.True(t, names[name], "loads should have subcommand %q", name)
	}

	limit := loadsListCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "50", limit.DefValue)
	since := loadsStatsCmd.Flags().Lookup("since")
	require.NotNil(t, since)
	assert.Equal(t, "24h0m0s", since.DefValue)
}
