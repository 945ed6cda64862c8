package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/rubricwatch/internal/apiclient"
	"github.com/dyluth/rubricwatch/internal/printer"
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

var (
	version string
	commit  string
	date    string

	serverURL    string
	redisURL     string
	instanceName string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rwctl",
	Short: "rwctl - operate a rubricwatch server",
	Long: `rwctl drives a rubricwatch server: it sets a session's criteria,
shows and releases group checklists, follows live broadcasts and tears
sessions down.

Commands that change state go through the server's HTTP API (--server).
Commands that only observe (watch, history) read Redis directly (--redis).`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("RUBRICWATCH_SERVER", "http://localhost:8080"), "rubricwatch server URL")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", envOr("REDIS_URL", "redis://localhost:6379"), "Redis URL used by watch and history")
	rootCmd.PersistentFlags().StringVarP(&instanceName, "name", "n", envOr("RUBRICWATCH_INSTANCE_NAME", "default"), "Target instance name")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newAPIClient creates a client for --server.
func newAPIClient() (*apiclient.Client, error) {
	client, err := apiclient.New(serverURL)
	if err != nil {
		return nil, printer.Error(
			"invalid server URL",
			err.Error(),
			[]string{"Pass a full URL:\n  rwctl --server http://localhost:8080 ..."},
		)
	}
	return client, nil
}

// connectStore opens and verifies the Redis connection for --redis and --name.
func connectStore(ctx context.Context) (*checklist.Client, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client, err := checklist.NewClient(redisOpts, instanceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create checklist client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", redisURL),
			map[string]string{"Instance": instanceName},
			[]string{
				"Check that the rubricwatch server's Redis is reachable",
				"Override the address:\n  rwctl --redis redis://host:6379 ...",
			},
		)
	}
	return client, nil
}

// apiError renders a failed server call.
func apiError(action string, err error) error {
	suggestions := []string{fmt.Sprintf("Check the server is running:\n  curl %s/healthz", serverURL)}
	if apiclient.IsRetryable(err) {
		suggestions = []string{"The store is temporarily unavailable, retry shortly"}
	}
	return printer.ErrorWithContext(
		fmt.Sprintf("failed to %s", action),
		err.Error(),
		map[string]string{"Server": serverURL},
		suggestions,
	)
}

// parseGroup validates a GROUP argument.
func parseGroup(arg string) (int, error) {
	group, err := strconv.Atoi(arg)
	if err != nil || group < 0 {
		return 0, printer.Error(
			"invalid group number",
			fmt.Sprintf("Group must be a non-negative integer, got %q", arg),
			nil,
		)
	}
	return group, nil
}
