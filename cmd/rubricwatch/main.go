package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/rubricwatch/internal/config"
	"github.com/dyluth/rubricwatch/internal/evidence"
	"github.com/dyluth/rubricwatch/internal/judge"
	"github.com/dyluth/rubricwatch/internal/metrics"
	"github.com/dyluth/rubricwatch/internal/reconcile"
	"github.com/dyluth/rubricwatch/internal/server"
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

const defaultConfigPath = "rubricwatch.yml"

func main() {
	// 1. Load environment variables
	instanceName := os.Getenv("RUBRICWATCH_INSTANCE_NAME")
	redisURL := os.Getenv("REDIS_URL")

	if instanceName == "" || redisURL == "" {
		fmt.Fprintf(os.Stderr, "Error: RUBRICWATCH_INSTANCE_NAME and REDIS_URL must be set\n")
		os.Exit(1)
	}

	// 2. Load rubricwatch.yml
	cfg, err := loadConfig(os.Getenv("RUBRICWATCH_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 3. Parse Redis URL
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	// 4. Create checklist client
	client, err := checklist.NewClient(redisOpts, instanceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create checklist client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	// 5. Verify Redis connectivity
	ctx := context.Background()
	if err := client.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	// 6. Metrics
	mp, shutdownMetrics, err := metrics.InitProvider("rubricwatch", instanceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialise metrics: %v\n", err)
		os.Exit(1)
	}
	defer shutdownMetrics(context.Background())

	met, err := metrics.New(mp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create instruments: %v\n", err)
		os.Exit(1)
	}

	// 7. Judge
	proposer, err := newProposer(cfg.Judge)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create judge: %v\n", err)
		os.Exit(1)
	}

	// 8. Engine and HTTP surface
	engine := reconcile.NewEngine(client, client, proposer,
		reconcile.WithResolver(evidence.NewResolver(evidence.WithRerouteMargin(*cfg.Engine.RerouteMargin))),
		reconcile.WithMetrics(met),
		reconcile.WithInstanceName(instanceName),
		reconcile.WithDefaultStrictness(cfg.Engine.Strictness()),
	)

	srv := server.New(engine, client,
		server.WithAddr(cfg.Server.Addr),
		server.WithEvaluationTimeout(cfg.Server.EvaluationTimeout),
		server.WithMetrics(met),
	)
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("rubricwatch started for instance '%s' on %s (judge: %s)\n", instanceName, srv.Addr(), cfg.Judge.Provider)

	// 9. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)

	// 10. Drain in-flight rounds, bounded by one evaluation timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.EvaluationTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] Shutdown incomplete: %v", err)
	}

	fmt.Println("rubricwatch stopped")
}

// loadConfig reads the configuration file. An unset path falls back to
// rubricwatch.yml in the working directory, and to defaults if that is absent.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(defaultConfigPath); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(defaultConfigPath)
}

// newProposer builds the judge selected by configuration.
func newProposer(cfg *config.JudgeConfig) (reconcile.Proposer, error) {
	switch cfg.Provider {
	case config.ProviderNone:
		log.Printf("[Judge] Provider 'none': every round yields no matches")
		return judge.Nop{}, nil
	case config.ProviderOpenAI:
		apiKey := cfg.APIKey()
		if apiKey == "" {
			return nil, fmt.Errorf("%s is not set", cfg.APIKeyEnv)
		}
		opts := []judge.OpenAIOption{
			judge.WithTimeout(cfg.Timeout),
			judge.WithTemperature(*cfg.Temperature),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, judge.WithBaseURL(cfg.BaseURL))
		}
		completer, err := judge.NewOpenAI(apiKey, cfg.Model, opts...)
		if err != nil {
			return nil, err
		}
		return judge.New(completer), nil
	default:
		return nil, fmt.Errorf("unknown judge provider %q", cfg.Provider)
	}
}
