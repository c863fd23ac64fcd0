package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "setkeep", cmd.Use)
	assert.Contains(t, cmd.Short, "offline-first")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"init", "stats", "report", "cleanup", "retry", "dead-letters", "conflicts", "verify", "import"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestCleanupCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	cleanupCmd, _, err := cmd.Find([]string{"cleanup"})
	require.NoError(t, err)

	require.NotNil(t, cleanupCmd.Flags().Lookup("emergency"))
	require.NotNil(t, cleanupCmd.Flags().Lookup("level"))
}

func TestConflictsSubcommands(t *testing.T) {
	cmd := NewRootCommand()

	resolveCmd, _, err := cmd.Find([]string{"conflicts", "resolve"})
	require.NoError(t, err)
	assert.Equal(t, "resolve", resolveCmd.Name())
	require.NotNil(t, resolveCmd.Flags().Lookup("keep"))

	listCmd, _, err := cmd.Find([]string{"conflicts", "list"})
	require.NoError(t, err)
	assert.Equal(t, "list", listCmd.Name())
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "stats"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
