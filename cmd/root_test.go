package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"import", "campaigns", "enroll", "enrollments", "run", "serve", "status"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "outreach-engine", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestImportCommand_Flags(t *testing.T) {
	flag := importCmd.Flags().Lookup("file")
	require.NotNil(t, flag, "import command should have --file flag")

	sourceFlag := importCmd.Flags().Lookup("source")
	require.NotNil(t, sourceFlag)
	assert.Equal(t, "import", sourceFlag.DefValue)
}

func TestEnrollCommand_Flags(t *testing.T) {
	flag := enrollCmd.Flags().Lookup("campaign")
	require.NotNil(t, flag, "enroll command should have --campaign flag")
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("once")
	require.NotNil(t, flag, "run command should have --once flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestCampaignsCommand_HasSubcommands(t *testing.T) {
	cmds := campaignsCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"load", "list", "pause", "resume"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}
