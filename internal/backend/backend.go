// Package backend talks to text-generation services.
//
// A Service returns replies either as one string or as a lazy, single-pass
// sequence of fragments. Concatenating every fragment of a successful stream
// gives the full reply. A non-nil error element ends the sequence.
package backend

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"TemanTenang/internal/config"
	"TemanTenang/internal/session"
)

// Service is a text-generation backend
type Service interface {
	// Name identifies the backend in logs and errors
	Name() string

	// Stream sends the conversation and yields reply fragments in emission order
	Stream(ctx context.Context, messages []session.Message, temperature float64) iter.Seq2[string, error]

	// Complete sends the conversation and returns the whole reply
	Complete(ctx context.Context, messages []session.Message, temperature float64) (string, error)
}

// Error is a transport or backend failure during a completion call
type Error struct {
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap turns err into an *Error for the named backend unless it already is one.
func Wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Backend: name, Err: err}
}

// Collect drains seq into a single reply. It returns the number of fragments
// read; on error the partial text is discarded.
func Collect(seq iter.Seq2[string, error]) (string, int, error) {
	var sb strings.Builder
	n := 0
	for fragment, err := range seq {
		if err != nil {
			return "", n, err
		}
		sb.WriteString(fragment)
		n++
	}
	return sb.String(), n, nil
}

// Tap calls fn with every fragment of seq before passing it on.
func Tap(seq iter.Seq2[string, error], fn func(string)) iter.Seq2[string, error] {
	if fn == nil {
		return seq
	}
	return func(yield func(string, error) bool) {
		for fragment, err := range seq {
			if err == nil {
				fn(fragment)
			}
			if !yield(fragment, err) {
				return
			}
		}
	}
}

// Fail returns a sequence holding only err
func Fail(err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", err)
	}
}

// New creates the backend selected by cfg.Backend
func New(cfg config.Config, httpClient *http.Client) (Service, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	switch cfg.Backend {
	case config.BackendOllama:
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel, httpClient), nil
	case config.BackendOpenAI:
		key, err := config.APIKey(cfg.Backend)
		if err != nil {
			return nil, err
		}
		return NewOpenAI(config.BackendOpenAI, key, cfg.OpenAIBaseURL, cfg.OpenAIModel, httpClient), nil
	case config.BackendGrok:
		key, err := config.APIKey(cfg.Backend)
		if err != nil {
			return nil, err
		}
		return NewOpenAI(config.BackendGrok, key, cfg.GrokBaseURL, cfg.GrokModel, httpClient), nil
	case config.BackendAnthropic:
		key, err := config.APIKey(cfg.Backend)
		if err != nil {
			return nil, err
		}
		return NewAnthropic(key, cfg.AnthropicModel, cfg.MaxTokens, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}

type instrumented struct {
	Service
	tracer   trace.Tracer
	duration metric.Float64Histogram
}

// Instrument traces every call of svc and records its duration. Errors
// leaving the returned Service are always *Error values.
func Instrument(svc Service, tracer trace.Tracer, meter metric.Meter) Service {
	h, err := meter.Float64Histogram(
		"backend.request.duration",
		metric.WithDescription("Completion request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		h = metricnoop.Float64Histogram{}
	}
	return &instrumented{Service: svc, tracer: tracer, duration: h}
}

func (s *instrumented) attrs(messages []session.Message, temperature float64, stream bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("backend", s.Name()),
		attribute.Int("messages", len(messages)),
		attribute.Float64("temperature", temperature),
		attribute.Bool("stream", stream),
	}
}

func (s *instrumented) record(ctx context.Context, start time.Time, stream bool) {
	s.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("backend", s.Name()), attribute.Bool("stream", stream)))
}

func (s *instrumented) Stream(ctx context.Context, messages []session.Message, temperature float64) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := s.tracer.Start(ctx, s.Name()+"_stream", trace.WithAttributes(s.attrs(messages, temperature, true)...))
		defer span.End()
		start := time.Now()
		defer s.record(ctx, start, true)

		fragments := 0
		for fragment, err := range s.Service.Stream(ctx, messages, temperature) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.SetAttributes(attribute.Int("fragments", fragments))
				yield("", Wrap(s.Name(), err))
				return
			}
			fragments++
			if !yield(fragment, nil) {
				span.SetAttributes(attribute.Int("fragments", fragments), attribute.Bool("abandoned", true))
				return
			}
		}
		span.SetAttributes(attribute.Int("fragments", fragments))
	}
}

func (s *instrumented) Complete(ctx context.Context, messages []session.Message, temperature float64) (string, error) {
	ctx, span := s.tracer.Start(ctx, s.Name()+"_complete", trace.WithAttributes(s.attrs(messages, temperature, false)...))
	defer span.End()
	defer s.record(ctx, time.Now(), false)

	reply, err := s.Service.Complete(ctx, messages, temperature)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", Wrap(s.Name(), err)
	}
	return reply, nil
}
