package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "github.com/rzbill/tradepost/internal/config"
	"github.com/rzbill/tradepost/internal/runtime"
	"github.com/rzbill/tradepost/internal/taskqueue"
	logpkg "github.com/rzbill/tradepost/pkg/log"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "tradepost",
		Short: "Tradepost coordination runtime CLI",
		Long:  "Tradepost is a Redis-backed coordination layer for marketplace services. This CLI runs the queue pollers and basic operations.",
	}
	rootCmd.PersistentFlags().String("config", "", "Config file path (JSON or YAML)")

	// serve
	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the queue pollers until interrupted",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			queueName, _ := cmd.Flags().GetString("queue")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
			if err != nil {
				return fmt.Errorf("open runtime: %w", err)
			}
			defer rt.Close()

			oq, err := rt.OpenQueue(queueName, runtime.LoggingDispatcher(logger))
			if err != nil {
				return err
			}
			oq.Pollers.Start()
			logger.Info("tradepost serving", logpkg.F("queue", queueName), logpkg.F("version", version))

			<-ctx.Done()
			logger.Info("shutting down")
			oq.Pollers.Stop()
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serveCmd.Flags().String("queue", "notify", "Queue to poll")
	rootCmd.AddCommand(serveCmd)

	// enqueue
	enqueueCmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Add a task to a queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			queueName, _ := cmd.Flags().GetString("queue")
			payload, _ := cmd.Flags().GetString("payload")
			className, _ := cmd.Flags().GetString("class")
			delay, _ := cmd.Flags().GetDuration("delay")

			class, err := taskqueue.ParseClass(className)
			if err != nil {
				return err
			}
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("payload is not valid JSON")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			rt, err := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
			if err != nil {
				return fmt.Errorf("open runtime: %w", err)
			}
			defer rt.Close()

			taskID, err := rt.Enqueue(ctx, queueName, json.RawMessage(payload), class, delay)
			if err != nil {
				return err
			}
			fmt.Println(taskID)
			return nil
		},
	}
	enqueueCmd.Flags().String("queue", "notify", "Queue name")
	enqueueCmd.Flags().String("payload", "{}", "Task payload (JSON)")
	enqueueCmd.Flags().String("class", "MEDIUM", "Priority class: HIGH|MEDIUM|LOW")
	enqueueCmd.Flags().Duration("delay", 0, "Delay before the task becomes dispatchable")
	rootCmd.AddCommand(enqueueCmd)

	// stats
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show a queue's set sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			queueName, _ := cmd.Flags().GetString("queue")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			rt, err := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
			if err != nil {
				return fmt.Errorf("open runtime: %w", err)
			}
			defer rt.Close()

			oq, err := rt.OpenQueue(queueName, nil)
			if err != nil {
				return err
			}
			st, err := oq.Queue.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("queue=%s ready=%d delayed=%d dead=%d\n", queueName, st.Ready, st.Delayed, st.Dead)
			return nil
		},
	}
	statsCmd.Flags().String("queue", "notify", "Queue name")
	rootCmd.AddCommand(statsCmd)

	// version
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves config from flag + env and builds the logger from its
// log section.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, logpkg.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	cfgpkg.FromEnv(&cfg)

	level, err := logpkg.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logpkg.InfoLevel
	}
	var formatter logpkg.Formatter = &logpkg.TextFormatter{}
	if cfg.Log.Format == "json" {
		formatter = &logpkg.JSONFormatter{}
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(level),
		logpkg.WithFormatter(formatter),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	return cfg, logger, nil
}
