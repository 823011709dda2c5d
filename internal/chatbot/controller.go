package chatbot

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"TemanTenang/internal/backend"
	"TemanTenang/internal/config"
	"TemanTenang/internal/persona"
	"TemanTenang/internal/session"
	"TemanTenang/internal/telemetry"
)

// TurnState is the position of a controller in the turn state machine
type TurnState int

const (
	StateIdle TurnState = iota
	StateUserAppended
	StateStreaming
	StateCommitted
	StateFailed
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateUserAppended:
		return "USER_APPENDED"
	case StateStreaming:
		return "STREAMING"
	case StateCommitted:
		return "COMMITTED"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("TurnState(%d)", int(s))
}

var (
	// ErrTurnInProgress is returned when a turn starts while another one is running
	ErrTurnInProgress = fmt.Errorf("turn already in progress: %w", session.ErrStateInvariant)

	// ErrNothingToRetry is returned by Retry when the last message already has a reply
	ErrNothingToRetry = fmt.Errorf("no unanswered message to retry: %w", session.ErrInvalidInput)

	// ErrPersonaMode is returned when a persona change does not match the selected mode
	ErrPersonaMode = fmt.Errorf("persona change does not match persona mode: %w", session.ErrInvalidInput)
)

// TurnResult describes a finished turn
type TurnResult struct {
	ID        string
	State     TurnState
	Reply     string
	Fragments int
	Duration  time.Duration
	Err       error
}

// Controller runs the turns of one session against a completion backend.
// It is owned by a single session and is not meant for concurrent turns.
type Controller struct {
	sessionID   string
	state       *session.State
	backend     backend.Service
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *telemetry.TurnMetrics
	journal     *telemetry.Journal
	temperature float64
	mode        persona.Mode

	mu   sync.Mutex
	turn TurnState
	last *TurnResult
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger turns are logged to
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithTracer sets the tracer that opens a span per turn
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) { c.tracer = tracer }
}

// WithMetrics sets the instruments turn outcomes are recorded on
func WithMetrics(m *telemetry.TurnMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithJournal records every finished turn in j
func WithJournal(j *telemetry.Journal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithTemperature sets the temperature the session starts with
func WithTemperature(t float64) Option {
	return func(c *Controller) { c.temperature = t }
}

// NewController creates the controller of one session. The conversation
// starts with the predefined persona named by defaultPersona.
func NewController(sessionID string, svc backend.Service, defaultPersona string, opts ...Option) (*Controller, error) {
	tracer, meter := telemetry.Noop()
	c := &Controller{
		sessionID:   sessionID,
		state:       session.NewState(),
		backend:     svc,
		logger:      slog.Default(),
		tracer:      tracer,
		metrics:     telemetry.NewTurnMetrics(meter),
		temperature: config.DefaultTemperature,
		mode:        persona.ModePredefined,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("session_id", sessionID)

	if c.temperature < 0 || c.temperature > 1 {
		return nil, fmt.Errorf("temperature %.2f out of range [0, 1]: %w", c.temperature, session.ErrInvalidInput)
	}
	if err := c.SetPersona(defaultPersona); err != nil {
		return nil, err
	}
	return c, nil
}

// SessionID returns the session this controller belongs to
func (c *Controller) SessionID() string { return c.sessionID }

// Backend returns the completion backend
func (c *Controller) Backend() backend.Service { return c.backend }

// Temperature returns the temperature used by the next turn
func (c *Controller) Temperature() float64 { return c.temperature }

// SetTemperature changes the temperature for later turns
func (c *Controller) SetTemperature(t float64) error {
	if t < 0 || t > 1 {
		return fmt.Errorf("temperature %.2f out of range [0, 1]: %w", t, session.ErrInvalidInput)
	}
	c.temperature = t
	return nil
}

// Mode returns the selected persona mode
func (c *Controller) Mode() persona.Mode { return c.mode }

// SelectMode switches between predefined and custom personas. The active
// persona stays as it is until the next explicit persona change.
func (c *Controller) SelectMode(m persona.Mode) {
	if m != c.mode {
		c.logger.Info("persona mode selected", "mode", m)
	}
	c.mode = m
}

// Persona returns the active persona text
func (c *Controller) Persona() string {
	p, _ := c.state.Persona()
	return p
}

// SetPersona applies one of the predefined personas
func (c *Controller) SetPersona(name string) error {
	if c.mode != persona.ModePredefined {
		return ErrPersonaMode
	}
	text, err := persona.Predefined(name)
	if err != nil {
		return err
	}
	if err := c.state.SetPersona(text); err != nil {
		return err
	}
	c.logger.Info("persona set", "persona", name)
	return nil
}

// SaveCustomPersona applies user supplied persona text verbatim. Blank text
// is rejected and the previous persona stays active.
func (c *Controller) SaveCustomPersona(text string) error {
	if c.mode != persona.ModeCustom {
		return ErrPersonaMode
	}
	text, err := persona.Custom(text)
	if err != nil {
		return err
	}
	if err := c.state.SetPersona(text); err != nil {
		return err
	}
	c.logger.Info("custom persona saved", "length", len(text))
	return nil
}

// History yields the visible conversation, system persona excluded
func (c *Controller) History() iter.Seq[session.Message] {
	return c.state.VisibleHistory()
}

// State returns the current turn state
func (c *Controller) State() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn
}

// LastTurn returns the result of the most recent finished turn, or nil
func (c *Controller) LastTurn() *TurnResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Controller) setTurn(s TurnState) {
	c.mu.Lock()
	c.turn = s
	c.mu.Unlock()
}

// Submit runs one turn: text is appended as a user message, the backend
// reply is streamed to display and committed once the stream is exhausted.
// The user message stays in history when the backend fails.
func (c *Controller) Submit(ctx context.Context, text string, display func(string)) (*TurnResult, error) {
	c.mu.Lock()
	if c.turn != StateIdle {
		c.mu.Unlock()
		return nil, ErrTurnInProgress
	}
	if _, err := c.state.AppendUser(text); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.turn = StateUserAppended
	c.mu.Unlock()

	return c.run(ctx, display)
}

// Retry streams a new reply for the unanswered user message left by a
// failed turn. The message is not appended again.
func (c *Controller) Retry(ctx context.Context, display func(string)) (*TurnResult, error) {
	c.mu.Lock()
	if c.turn != StateIdle {
		c.mu.Unlock()
		return nil, ErrTurnInProgress
	}
	if !c.state.Pending() {
		c.mu.Unlock()
		return nil, ErrNothingToRetry
	}
	c.turn = StateUserAppended
	c.mu.Unlock()

	return c.run(ctx, display)
}

func (c *Controller) run(ctx context.Context, display func(string)) (*TurnResult, error) {
	defer c.setTurn(StateIdle)

	result := &TurnResult{ID: uuid.NewString()}
	ctx = telemetry.WithTurnID(ctx, result.ID)
	ctx, span := c.tracer.Start(ctx, "chat_turn", trace.WithAttributes(
		attribute.String("session_id", c.sessionID),
		attribute.String("turn_id", result.ID),
		attribute.Float64("temperature", c.temperature),
	))
	defer span.End()

	start := time.Now()
	snapshot := c.state.Snapshot()

	c.setTurn(StateStreaming)
	stream := backend.Tap(c.backend.Stream(ctx, snapshot, c.temperature), display)
	reply, fragments, err := backend.Collect(stream)
	result.Fragments = fragments

	if err != nil {
		result.State = StateFailed
		result.Err = backend.Wrap(c.backend.Name(), err)
	} else if _, err := c.state.AppendAssistant(reply); err != nil {
		result.State = StateFailed
		result.Err = err
	} else {
		result.State = StateCommitted
		result.Reply = reply
	}
	result.Duration = time.Since(start)

	span.SetAttributes(attribute.String("state", result.State.String()), attribute.Int("fragments", fragments))
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
	c.finish(ctx, start, result)

	if result.Err != nil {
		return result, result.Err
	}
	return result, nil
}

func (c *Controller) finish(ctx context.Context, start time.Time, result *TurnResult) {
	c.mu.Lock()
	c.last = result
	c.mu.Unlock()

	c.metrics.Record(ctx, c.backend.Name(), result.State.String(), result.Fragments, result.Duration)

	if result.Err != nil {
		level := slog.LevelWarn
		if errors.Is(result.Err, session.ErrStateInvariant) {
			level = slog.LevelError
		}
		c.logger.Log(ctx, level, "turn failed", "turn_id", result.ID, "fragments", result.Fragments, "error", result.Err)
	} else {
		c.logger.Info("turn committed", "turn_id", result.ID, "fragments", result.Fragments, "duration", result.Duration)
	}

	if c.journal == nil {
		return
	}
	rec := telemetry.TurnRecord{
		SessionID: c.sessionID,
		TurnID:    result.ID,
		Backend:   c.backend.Name(),
		State:     result.State.String(),
		Fragments: result.Fragments,
		Duration:  result.Duration,
		StartedAt: start,
	}
	if result.Err != nil {
		rec.Error = result.Err.Error()
	}
	// a cancelled turn still gets its journal entry
	if err := c.journal.Record(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Warn("failed to journal turn", "turn_id", result.ID, "error", err)
	}
}
