// Command coval runs the app-generation orchestrator: an HTTP service
// that drives an AI agent inside remote sandboxes to build and update
// web applications, streaming progress to the client as NDJSON.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/covalabs/coval/internal/engine"
	"github.com/covalabs/coval/internal/llm"
	tracing "github.com/covalabs/coval/internal/observability"
	"github.com/covalabs/coval/internal/server"
	"github.com/covalabs/coval/pkg/config"
	"github.com/covalabs/coval/pkg/observability"
	"github.com/covalabs/coval/pkg/project"
	"github.com/covalabs/coval/pkg/sandbox"
)

// Version is set via ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coval",
		Short: "AI app-generation orchestrator",
	}
	rootCmd.SilenceUsage = true
	rootCmd.AddCommand(newServeCmd(), newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "coval %s\n", Version)
		},
	}
}

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_FILE"), "configuration file")
	return cmd
}

func serve(cfg *config.Config) error {
	log.Printf("Starting coval orchestrator v%s on %s", Version, cfg.ListenAddr)

	observability.InitMetrics()
	if err := tracing.InitFromEnv(); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	projects, err := newProjectStore(cfg)
	if err != nil {
		return fmt.Errorf("open project store: %w", err)
	}
	defer projects.Close()

	provider, err := llm.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
	if err != nil {
		return fmt.Errorf("init model provider: %w", err)
	}

	client := sandbox.NewClient(cfg.Sandbox.APIURL, cfg.Sandbox.APIKey)
	cache := sandbox.NewCache(client, cfg.Cache.SweepInterval,
		sandbox.WithTTL(cfg.Cache.TTL),
		sandbox.WithStatsHook(observability.RecordCacheHit, observability.RecordCacheMiss),
		sandbox.WithEvictionHook(func(string) { observability.RecordCacheEvictions(1) }),
	)
	defer cache.Stop()

	healthChecker := observability.InitHealthChecker()
	healthChecker.RegisterCheck(observability.ProjectStoreCheck(func(ctx context.Context) error {
		_, err := projects.List(ctx)
		return err
	}))
	healthChecker.RegisterCheck(observability.SandboxAPICheck(func(ctx context.Context) error {
		_, err := client.List(ctx)
		return err
	}))

	eng := engine.New(cfg, client, cache, provider, projects)
	srv := server.New(cfg, eng, client, cache, projects)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			log.Printf("Received %s, shutting down", sig)
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
		return nil
	})

	err = g.Wait()
	log.Println("Orchestrator stopped")
	return err
}

func newProjectStore(cfg *config.Config) (project.Store, error) {
	switch cfg.Store {
	case "redis":
		return project.NewRedisStore(project.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	case "", "file":
		return project.NewFileStore(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
