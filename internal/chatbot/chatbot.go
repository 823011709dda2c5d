package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"TemanTenang/internal/backend"
	"TemanTenang/internal/cache"
	"TemanTenang/internal/config"
	"TemanTenang/internal/persona"
	"TemanTenang/internal/session"
	"TemanTenang/internal/telemetry"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	userStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	botStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	infoStyle  = lipgloss.NewStyle().Faint(true)
)

// ChatBot is the terminal front-end: it turns typed lines into commands
// for the session's Controller and prints the conversation.
type ChatBot struct {
	config     config.Config
	hub        *Hub
	logger     *slog.Logger
	in         io.Reader
	out        io.Writer
	sessionID  string
	instanceID string

	// unsaved custom persona text
	draft string

	closers []func()
}

// NewChatBot wires logging, telemetry, the turn journal and the configured
// backend, and returns a ChatBot reading from in and writing to out.
func NewChatBot(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) (*ChatBot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	closers := []func(){func() { _ = logFile.Close() }}
	fail := func(err error) (*ChatBot, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	tracer, meter := telemetry.Noop()
	if cfg.Telemetry {
		var cleanup func()
		tracer, meter, cleanup, err = telemetry.InitTelemetry(ctx, cfg.LogDir)
		if err != nil {
			return fail(fmt.Errorf("failed to initialize telemetry: %w", err))
		}
		closers = append(closers, cleanup)
	}

	journal, err := telemetry.OpenJournal(cfg.JournalPath)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize journal: %w", err))
	}
	closers = append(closers, func() {
		if err := journal.Close(); err != nil {
			logger.Error("failed to close journal", "error", err)
		}
	})

	svc, err := backend.New(cfg, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize backend: %w", err))
	}
	svc = backend.Instrument(svc, tracer, meter)
	if cfg.CacheReplies {
		svc = cache.New(svc, cfg.CacheSize, logger)
	}

	if cfg.Debug {
		logger.Debug("Debug mode enabled")
	}

	metrics := telemetry.NewTurnMetrics(meter)
	hub := NewHub(func(sessionID string) (*Controller, error) {
		return NewController(sessionID, svc, cfg.Persona,
			WithLogger(logger),
			WithTracer(tracer),
			WithMetrics(metrics),
			WithJournal(journal),
			WithTemperature(cfg.Temperature),
		)
	})

	cb := newChatBot(cfg, hub, logger, in, out)
	cb.closers = closers
	return cb, nil
}

func newChatBot(cfg config.Config, hub *Hub, logger *slog.Logger, in io.Reader, out io.Writer) *ChatBot {
	cb := &ChatBot{
		config:     cfg,
		hub:        hub,
		logger:     logger,
		in:         in,
		out:        out,
		sessionID:  NewSessionID(),
		instanceID: cfg.ResolveInstanceID(),
	}
	cb.logger.Info("created new session", "session_id", cb.sessionID, "backend", cfg.Backend)
	return cb
}

// Close releases the journal, telemetry exporters and log file
func (cb *ChatBot) Close() {
	for i := len(cb.closers) - 1; i >= 0; i-- {
		cb.closers[i]()
	}
	cb.closers = nil
}

func (cb *ChatBot) controller() (*Controller, error) {
	return cb.hub.Controller(cb.sessionID)
}

func (cb *ChatBot) printf(format string, args ...any) {
	fmt.Fprintf(cb.out, format, args...)
}

func (cb *ChatBot) info(format string, args ...any) {
	fmt.Fprintln(cb.out, infoStyle.Render(fmt.Sprintf(format, args...)))
}

// sendMessage runs one turn, printing the reply as it streams in
func (cb *ChatBot) sendMessage(ctx context.Context, text string) error {
	c, err := cb.controller()
	if err != nil {
		return err
	}
	return cb.stream(ctx, c, SubmitMessage{Text: text})
}

func (cb *ChatBot) stream(ctx context.Context, c *Controller, cmd Command) error {
	cb.printf("%s ", botStyle.Render("Bot:"))
	_, err := c.Handle(ctx, cmd, func(fragment string) {
		fmt.Fprint(cb.out, fragment)
	})
	cb.printf("\n")

	var be *backend.Error
	if errors.As(err, &be) {
		cb.printf("%s\n", errorStyle.Render(fmt.Sprintf("Reply failed: %v", be)))
		cb.info("Your message was kept. Type /retry to try again.")
		cb.printf("\n")
		cb.logger.Error("failed to send message", "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	cb.printf("\n")
	return nil
}

// handleCommand handles slash commands. It reports whether the user asked to quit.
func (cb *ChatBot) handleCommand(ctx context.Context, line string) (bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, nil
	}
	arg := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new-session":
		cb.hub.End(cb.sessionID)
		cb.sessionID = NewSessionID()
		cb.draft = ""
		cb.logger.Info("created new session", "session_id", cb.sessionID)
		cb.info("Started new session: %s", cb.sessionID)
		return false, nil

	case "/persona":
		if arg == "" {
			return false, fmt.Errorf("usage: /persona <%s>", strings.Join(persona.Names(), "|"))
		}
		c, err := cb.controller()
		if err != nil {
			return false, err
		}
		if _, err := c.Handle(ctx, SetPersona{Name: arg}, nil); err != nil {
			return false, err
		}
		cb.info("Persona set to %s", arg)
		return false, nil

	case "/mode":
		mode, err := persona.ParseMode(arg)
		if err != nil {
			return false, fmt.Errorf("usage: /mode <predefined|custom>: %w", err)
		}
		c, err := cb.controller()
		if err != nil {
			return false, err
		}
		if _, err := c.Handle(ctx, SelectPersonaMode{Mode: mode}, nil); err != nil {
			return false, err
		}
		cb.info("Persona mode: %s (the active persona changes with the next /persona or /save)", mode)
		return false, nil

	case "/custom":
		c, err := cb.controller()
		if err != nil {
			return false, err
		}
		if c.Mode() != persona.ModeCustom {
			return false, fmt.Errorf("custom persona is off, use /mode custom first")
		}
		cb.draft = arg
		if _, err := c.Handle(ctx, SetCustomPersona{Text: arg}, nil); err != nil {
			return false, err
		}
		cb.info("Custom persona drafted. Type /save to use it.")
		return false, nil

	case "/save":
		c, err := cb.controller()
		if err != nil {
			return false, err
		}
		if _, err := c.Handle(ctx, SetCustomPersona{Text: cb.draft, Save: true}, nil); err != nil {
			return false, err
		}
		cb.info("Custom persona saved")
		return false, nil

	case "/temperature":
		if arg == "" {
			return false, fmt.Errorf("usage: /temperature <0.0-1.0>")
		}
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return false, fmt.Errorf("invalid temperature %q: %w", arg, session.ErrInvalidInput)
		}
		c, err := cb.controller()
		if err != nil {
			return false, err
		}
		if _, err := c.Handle(ctx, SetTemperature{Value: v}, nil); err != nil {
			return false, err
		}
		cb.info("Temperature set to %.2f", v)
		return false, nil

	case "/history":
		c, err := cb.controller()
		if err != nil {
			return false, err
		}
		cb.printHistory(c)
		return false, nil

	case "/retry":
		c, err := cb.controller()
		if err != nil {
			return false, err
		}
		return false, cb.stream(ctx, c, Retry{})

	case "/status":
		c, err := cb.controller()
		if err != nil {
			return false, err
		}
		cb.printf("Session:      %s\n", cb.sessionID)
		cb.printf("Instance ID:  %s\n", cb.instanceID)
		cb.printf("Backend:      %s\n", c.Backend().Name())
		cb.printf("Persona mode: %s\n", c.Mode())
		cb.printf("Temperature:  %.2f\n", c.Temperature())
		if last := c.LastTurn(); last != nil {
			cb.printf("Last turn:    %s (%d fragments, %s)\n", last.State, last.Fragments, last.Duration.Round(time.Millisecond))
		}
		cb.printf("\n")
		return false, nil

	case "/help":
		cb.printf("Available commands:\n")
		cb.printf("  /persona <name>           - Use a predefined persona (%s)\n", strings.Join(persona.Names(), ", "))
		cb.printf("  /mode <predefined|custom> - Switch between predefined and custom personas\n")
		cb.printf("  /custom <text>            - Draft a custom persona\n")
		cb.printf("  /save                     - Save the drafted custom persona\n")
		cb.printf("  /temperature <0.0-1.0>    - Set reply randomness\n")
		cb.printf("  /history                  - Show the conversation\n")
		cb.printf("  /retry                    - Retry the last unanswered message\n")
		cb.printf("  /status                   - Show session settings\n")
		cb.printf("  /new-session              - Start a new conversation\n")
		cb.printf("  /quit, /exit              - Exit the chatbot\n")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s, type /help for commands", parts[0])
	}
}

func (cb *ChatBot) printHistory(c *Controller) {
	n := 0
	for msg := range c.History() {
		label := userStyle.Render("You:")
		if msg.Role == session.RoleAssistant {
			label = botStyle.Render("Bot:")
		}
		cb.printf("%s %s\n", label, msg.Content)
		n++
	}
	if n == 0 {
		cb.info("No messages yet.")
	}
	cb.printf("\n")
}

// Run starts the chat bot and returns when input ends, the user quits or ctx is cancelled.
func (cb *ChatBot) Run(ctx context.Context) error {
	defer cb.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cb.printf("%s\n", titleStyle.Render("=== TemanTenang ==="))
	cb.printf("Instance ID: %s\n", cb.instanceID)
	cb.printf("Session: %s\n", cb.sessionID)
	cb.printf("Backend: %s\n", cb.config.Backend)
	cb.printf("Type /help for commands, /quit to exit\n\n")

	if _, err := cb.controller(); err != nil {
		return err
	}

	// stdin reader goroutine -> lines into channel
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cb.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		cb.printf("%s ", userStyle.Render("You:"))

		var input string
		var ok bool
		select {
		case <-ctx.Done():
			cb.printf("\n")
			cb.logger.Info("session interrupted", "session_id", cb.sessionID)
			return nil
		case input, ok = <-lines:
		}
		if !ok {
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				cb.printf("%s\n", errorStyle.Render(fmt.Sprintf("Error: %v", err)))
				cb.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if err := cb.sendMessage(ctx, input); err != nil {
			cb.printf("%s\n", errorStyle.Render(fmt.Sprintf("Error: %v", err)))
			cb.logger.Error("failed to send message", "error", err)
		}
	}

	select {
	case err := <-scanErr:
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
	default:
	}

	cb.printf("Goodbye!\n")
	return nil
}
