package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/comigor/parley/internal/agent"
	"github.com/comigor/parley/internal/config"
	"github.com/comigor/parley/internal/history"
	"github.com/comigor/parley/internal/llm"
	"github.com/comigor/parley/internal/logger"
	"github.com/comigor/parley/internal/speech"
)

var (
	// Global flags
	configPath string
	logLevel   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Chat with hosted language models from the terminal",
	Long: `parley keeps a list of chat sessions, forwards your messages (and
images) to a model backend, reads replies aloud and exports conversations.

Run without arguments to start the interactive chat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		logger.Configure(level, cfg.Log.Format, os.Stderr)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $CONFIG_PATH or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(speakCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired components shared by the subcommands.
type app struct {
	slot   *history.SQLiteSlot
	store  *history.Store
	agent  *agent.Agent
	player *speech.Player
}

// openStore loads the persisted sessions.
func openStore(ctx context.Context, cfg *config.Config) (*app, error) {
	slot := history.NewSQLiteSlot(cfg.Storage.Path, cfg.Storage.Slot, cfg.Storage.QuotaBytes)
	store := history.NewStore(slot)
	if err := store.Load(ctx); err != nil {
		_ = slot.Close()
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	return &app{slot: slot, store: store}, nil
}

// openApp wires the store, the model and, when configured, speech.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	model, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize model: %w", err)
	}
	a.agent = agent.New(a.store, model)

	a.player, err = newPlayer(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// newPlayer returns nil without error when speech is disabled.
func newPlayer(cfg *config.Config) (*speech.Player, error) {
	engine, err := speech.NewEngine(*cfg)
	if errors.Is(err, speech.ErrDisabled) {
		logger.L.Info("speech disabled", "reason", err.Error())
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize speech: %w", err)
	}
	return speech.NewPlayer(engine, cfg.Speech.MaxSegment), nil
}

func (a *app) Close() {
	if a.player != nil {
		a.player.Stop()
	}
	if err := a.slot.Close(); err != nil {
		logger.L.Warn("failed to close storage", "error", err)
	}
}
