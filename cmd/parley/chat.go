package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/comigor/parley/internal/agent"
	"github.com/comigor/parley/internal/chat"
	"github.com/comigor/parley/internal/export"
	"github.com/comigor/parley/internal/history"
	"github.com/comigor/parley/internal/speech"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat",
	Long: `Chat with the model in the active session.

Commands:
  /new                 start a new session
  /list                list sessions
  /switch <n>          activate session n from /list
  /delete              delete the active session
  /image <path>        attach an image to the next message
  /send                send the pending image without text
  /speak               read the last reply aloud (again to stop)
  /stop                stop reading
  /export <format>     export the active session (text or structured)
  /quit                leave`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize markdown renderer: %w", err)
	}

	r := &repl{
		agent:     a.agent,
		store:     a.store,
		player:    a.player,
		exportDir: cfg.Export.OutputDir,
		render:    renderer.Render,
		out:       cmd.OutOrStdout(),
	}
	return r.run(ctx, cmd.InOrStdin())
}

// repl is the line-oriented chat loop.
type repl struct {
	agent     *agent.Agent
	store     *history.Store
	player    *speech.Player // nil when speech is disabled
	exportDir string
	render    func(markdown string) (string, error)
	out       io.Writer
}

var errQuit = errors.New("quit")

func (r *repl) run(ctx context.Context, in io.Reader) error {
	r.printActive()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var err error
		if strings.HasPrefix(line, "/") {
			err = r.command(ctx, line)
		} else {
			err = r.send(ctx, line)
		}
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
	}
}

func (r *repl) send(ctx context.Context, text string) error {
	r.agent.SetDraft(text, r.agent.Draft().Image)
	return r.sendDraft(ctx)
}

// sendDraft sends the pending input and prints the rendered reply.
func (r *repl) sendDraft(ctx context.Context) error {
	reply, err := r.agent.SendDraft(ctx)
	if err != nil {
		return err
	}
	rendered, err := r.render(reply.Content)
	if err != nil {
		rendered = reply.Content + "\n"
	}
	fmt.Fprint(r.out, rendered)
	return nil
}

func (r *repl) command(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return errQuit
	case "/new":
		r.agent.NewSession(ctx)
		r.printActive()
	case "/list":
		r.list()
	case "/switch":
		n, err := strconv.Atoi(arg)
		sessions := r.store.List()
		if err != nil || n < 1 || n > len(sessions) {
			return fmt.Errorf("usage: /switch <1-%d>", len(sessions))
		}
		if err := r.store.Activate(sessions[n-1].ID); err != nil {
			return err
		}
		r.printActive()
	case "/delete":
		active, ok := r.store.Active()
		if !ok {
			return agent.ErrNoActiveSession
		}
		r.agent.DeleteSession(ctx, active.ID)
		r.printActive()
	case "/image":
		if arg == "" {
			return errors.New("usage: /image <path>")
		}
		att, err := chat.AttachmentFromFile(arg)
		if err != nil {
			return err
		}
		r.agent.SetDraft(r.agent.Draft().Text, att)
		fmt.Fprintf(r.out, "attached %s (%d bytes); type a message or /send to send it\n", att.MIMEType, len(att.Data))
	case "/send":
		return r.sendDraft(ctx)
	case "/speak":
		return r.speak()
	case "/stop":
		if r.player != nil {
			r.player.Stop()
		}
	case "/export":
		if arg == "" {
			arg = string(export.FormatText)
		}
		return r.export(arg)
	default:
		return fmt.Errorf("unknown command %s", name)
	}
	return nil
}

func (r *repl) speak() error {
	if r.player == nil {
		return speech.ErrDisabled
	}
	active, ok := r.store.Active()
	if !ok {
		return agent.ErrNoActiveSession
	}
	for i := len(active.Messages) - 1; i >= 0; i-- {
		if m := active.Messages[i]; m.Role == chat.RoleModel {
			if r.player.Speak(m.ID, m.Content) {
				fmt.Fprintln(r.out, "(speaking)")
			} else {
				fmt.Fprintln(r.out, "(stopped)")
			}
			return nil
		}
	}
	return errors.New("no reply to read yet")
}

func (r *repl) export(format string) error {
	active, ok := r.store.Active()
	if !ok {
		return agent.ErrNoActiveSession
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	doc, err := export.Export(active, f)
	if err != nil {
		return err
	}
	path, err := export.WriteFile(r.exportDir, doc)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "exported to %s\n", path)
	return nil
}

func (r *repl) list() {
	active, _ := r.store.Active()
	for i, s := range r.store.List() {
		marker := " "
		if s.ID == active.ID {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %d. %s (%d messages)\n", marker, i+1, s.Title, len(s.Messages))
	}
}

func (r *repl) printActive() {
	active, ok := r.store.Active()
	if !ok {
		return
	}
	fmt.Fprintf(r.out, "[%s] %d messages\n", active.Title, len(active.Messages))
}
