package commands

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/rubricwatch/internal/reconcile"
	"github.com/dyluth/rubricwatch/internal/server"
	"github.com/dyluth/rubricwatch/internal/watch"
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

const testInstance = "test-instance"

type cliEnv struct {
	store *checklist.Client
	mr    *miniredis.Miniredis
	args  []string
}

// setupCLI starts a server backed by miniredis and returns global flags
// pointing at it.
func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := checklist.NewClient(&redis.Options{Addr: mr.Addr()}, testInstance)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := reconcile.NewEngine(store, store, nil)
	ts := httptest.NewServer(server.New(engine, store).Handler())
	t.Cleanup(ts.Close)

	return &cliEnv{
		store: store,
		mr:    mr,
		args:  []string{"--server", ts.URL, "--redis", "redis://" + mr.Addr(), "--name", testInstance},
	}
}

// run executes rwctl with the environment's global flags and returns stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCommand(append(args, e.args...)...)
}

func runCommand(args ...string) (string, error) {
	resetFlags()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	if args == nil {
		args = []string{}
	}
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// resetFlags restores flag variables between executions of the shared rootCmd.
func resetFlags() {
	criteriaFile = ""
	checklistOutputFormat = "default"
	releaseScenario = ""
	resetConfirm = false
	watchGroup = watch.AllGroups
	watchOutputFormat = "default"
	watchUntilReleased = false
	watchTimeout = time.Hour
	historyOutputFormat = "default"
	historySince = ""
	historyUntil = ""
	historyStatus = ""
	historyCriterion = ""
}

func writeCriteriaFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "criteria.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const titrationYAML = `criteria:
  - description: States the aim of the titration
    rubric: Mentions finding the unknown concentration
  - description: Identifies the indicator
    rubric: Names phenolphthalein or methyl orange
    weight: 2
`

// TestRootCommand_ShowsHelpWhenNoSubcommand tests that the root command
// shows help instead of silently succeeding when invoked without a subcommand
func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	out, err := runCommand()
	assert.NoError(t, err)
	assert.Contains(t, out, "Usage:", "Help should be displayed")
	assert.Contains(t, out, "rwctl", "Help should show command name")
}

// TestRootCommand_RejectsUnknownFlags tests that unknown flags
// passed to the root command cause an error instead of being silently ignored
func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	_, err := runCommand("--unknown-flag", "value")
	require.Error(t, err, "Unknown flag should cause an error")
	assert.Contains(t, err.Error(), "unknown flag")
}

// TestRootCommand_RejectsSubcommandFlags tests that flags meant for
// subcommands are rejected when passed to the root command
func TestRootCommand_RejectsSubcommandFlags(t *testing.T) {
	testRoot := &cobra.Command{
		Use:  "rwctl",
		RunE: func(cmd *cobra.Command, args []string) error { return cmd.Help() },
	}
	var scenario string
	sub := &cobra.Command{
		Use:  "release",
		RunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
	sub.Flags().StringVar(&scenario, "scenario", "", "")
	testRoot.AddCommand(sub)

	testRoot.SetArgs([]string{"--scenario", "x"})
	testRoot.SetOut(new(bytes.Buffer))
	testRoot.SetErr(new(bytes.Buffer))

	err := testRoot.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag: --scenario")
}

func TestSetVersionInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2025-10-29")
	assert.Equal(t, "1.2.3 (commit: abc123, built: 2025-10-29)", rootCmd.Version)
}

func TestEnvOr(t *testing.T) {
	t.Setenv("RWCTL_TEST_VALUE", "set")
	assert.Equal(t, "set", envOr("RWCTL_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", envOr("RWCTL_TEST_UNSET_VALUE", "fallback"))
}

func TestParseGroup(t *testing.T) {
	group, err := parseGroup("3")
	require.NoError(t, err)
	assert.Equal(t, 3, group)

	for _, bad := range []string{"-1", "two", ""} {
		_, err := parseGroup(bad)
		assert.Error(t, err, bad)
	}
}

func TestConnectStoreFailsWhenRedisDown(t *testing.T) {
	env := setupCLI(t)
	env.mr.Close()

	_, err := env.run(t, "history", "s1", "1")
	require.Error(t, err)
	assert.Equal(t, "Redis connection failed", err.Error())
}

func TestInvalidServerURL(t *testing.T) {
	_, err := runCommand("checklist", "show", "s1", "1", "--server", "not-a-url")
	require.Error(t, err)
	assert.Equal(t, "invalid server URL", err.Error())
}
