package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"TemanTenang/internal/backend"
	"TemanTenang/internal/session"
)

// CachedResponse represents a cached API response
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from messages and the sampling temperature
func GenerateCacheKey(messages []session.Message, temperature float64) string {
	h := sha256.New()
	for _, msg := range messages {
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
		h.Write([]byte{0})
	}
	fmt.Fprintf(h, "t=%.4f", temperature)
	return fmt.Sprintf("%x", h.Sum(nil))
}

type entry struct {
	key      string
	response CachedResponse
}

// Service replays replies for conversations it has already seen. A reply is
// stored only once the wrapped stream has ended without error.
type Service struct {
	next    backend.Service
	logger  *slog.Logger
	maxSize int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

// New wraps next with a cache holding at most maxSize replies
func New(next backend.Service, maxSize int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		next:    next,
		logger:  logger,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (s *Service) Name() string { return s.next.Name() }

// Len returns the number of cached replies
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *Service) load(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.entries[key]
	if !ok {
		return "", false
	}
	s.order.MoveToFront(el)
	s.logger.Info("cache hit", "key", key[:16])
	return el.Value.(*entry).response.Response, true
}

func (s *Service) store(key, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.order.MoveToFront(el)
		return
	}
	s.entries[key] = s.order.PushFront(&entry{
		key:      key,
		response: CachedResponse{Response: response, Timestamp: time.Now()},
	})
	for s.order.Len() > s.maxSize {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*entry).key)
	}
	s.logger.Info("cached response", "key", key[:16])
}

func (s *Service) Stream(ctx context.Context, messages []session.Message, temperature float64) iter.Seq2[string, error] {
	key := GenerateCacheKey(messages, temperature)
	return func(yield func(string, error) bool) {
		if cached, ok := s.load(key); ok {
			yield(cached, nil)
			return
		}

		var sb strings.Builder
		for fragment, err := range s.next.Stream(ctx, messages, temperature) {
			if err != nil {
				yield("", err)
				return
			}
			sb.WriteString(fragment)
			if !yield(fragment, nil) {
				return
			}
		}
		s.store(key, sb.String())
	}
}

func (s *Service) Complete(ctx context.Context, messages []session.Message, temperature float64) (string, error) {
	key := GenerateCacheKey(messages, temperature)
	if cached, ok := s.load(key); ok {
		return cached, nil
	}
	response, err := s.next.Complete(ctx, messages, temperature)
	if err != nil {
		return "", err
	}
	s.store(key, response)
	return response, nil
}
