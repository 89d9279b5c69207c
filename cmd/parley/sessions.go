package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/comigor/parley/internal/export"
	"github.com/comigor/parley/internal/history"
	"github.com/comigor/parley/internal/logger"
	"github.com/comigor/parley/internal/speech"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions",
	Long: `List and manage chat sessions.

Subcommands:
  list          - List all sessions, newest first
  new           - Create a new session; the next chat opens in it
  delete <id>   - Delete a session`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	RunE:  runSessionsList,
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new session for the next chat",
	Long: `Create a new, empty session. Sessions are listed newest first and the
chat always opens in the newest one, so the next chat starts in it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(store *history.Store) error {
			s := store.Create(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), s.ID)
			return nil
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(store *history.Store) error {
			if _, ok := store.Get(args[0]); !ok {
				return fmt.Errorf("%w: %s", history.ErrSessionNotFound, args[0])
			}
			store.Delete(cmd.Context(), args[0])
			return nil
		})
	},
}

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(store *history.Store) error {
			path, err := exportSession(store, args[0], exportFormat, exportOut)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		})
	},
}

var speakCmd = &cobra.Command{
	Use:   "speak <text>",
	Short: "Read text aloud with the configured speech engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		player, err := newPlayer(cfg)
		if err != nil {
			return err
		}
		if player == nil {
			return speech.ErrDisabled
		}
		return speakAndWait(cmd.Context(), player, args[0])
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsNewCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", string(export.FormatText), "Export format: text or structured")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output directory (default: export.output_dir)")
}

func withStore(ctx context.Context, fn func(*history.Store) error) error {
	a, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.store)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	return withStore(cmd.Context(), func(store *history.Store) error {
		printSessions(cmd.OutOrStdout(), store)
		return nil
	})
}

func printSessions(w io.Writer, store *history.Store) {
	active, _ := store.Active()
	for _, s := range store.List() {
		marker := " "
		if s.ID == active.ID {
			marker = "*"
		}
		created := time.UnixMilli(s.CreatedAt).Format("2006-01-02 15:04")
		fmt.Fprintf(w, "%s %s  %s  %-25s  %d messages\n", marker, s.ID, created, s.Title, len(s.Messages))
	}
}

func exportSession(store *history.Store, id, format, dir string) (string, error) {
	s, ok := store.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", history.ErrSessionNotFound, id)
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return "", err
	}
	doc, err := export.Export(s, f)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = cfg.Export.OutputDir
	}
	return export.WriteFile(dir, doc)
}

func speakAndWait(ctx context.Context, player *speech.Player, text string) error {
	defer player.Stop()
	if !player.Speak("cli", text) {
		logger.L.Info("nothing to speak")
		return nil
	}
	return player.Wait(ctx)
}
