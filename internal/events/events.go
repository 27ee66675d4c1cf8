package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// HandlerFunc is the function called when an event is emitted.
type HandlerFunc func(context.Context, any) error

// SubjectOption configures a Subject
type SubjectOption func(*subjectConfig)

type subjectConfig struct {
	bufferSize   int
	syncDelivery bool
	logger       *slog.Logger
}

// WithBufferSize sets the event channel buffer size
func WithBufferSize(size int) SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.bufferSize = size
	}
}

// WithLogger sets a structured logger for event system errors
func WithLogger(logger *slog.Logger) SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.logger = logger
	}
}

// WithSyncDelivery forces synchronous (inline) event delivery.
// This serializes all handler calls within the single eventLoop goroutine,
// which is useful when handlers must not be called concurrently.
func WithSyncDelivery() SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.syncDelivery = true
	}
}

type event struct {
	topic   string
	message any
}

// Subscription represents a handler subscribed to a specific topic.
type Subscription struct {
	Topic       string
	ID          string
	Handler     HandlerFunc
	Unsubscribe func()
}

// Subject is a topic-keyed publish/subscribe hub backed by a single event
// loop goroutine.
type Subject struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]Subscription
	nextSubID   int64

	events   chan event
	shutdown chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup

	config subjectConfig
}

// NewSubject creates a new Subject with optional configuration.
func NewSubject(opts ...SubjectOption) *Subject {
	cfg := subjectConfig{
		bufferSize: 512,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Subject{
		subscribers: make(map[string]map[string]Subscription),
		events:      make(chan event, cfg.bufferSize),
		shutdown:    make(chan struct{}),
		config:      cfg,
	}

	s.wg.Add(1)
	go s.eventLoop()
	return s
}

// Emit emits an event to the given topic.
func Emit[T any](subject *Subject, topic string, value T) error {
	evt := event{
		topic:   topic,
		message: value,
	}

	select {
	case subject.events <- evt:
		return nil
	case <-subject.shutdown:
		return fmt.Errorf("subject completed, dropping event on %q", topic)
	case <-time.After(5 * time.Second):
		return fmt.Errorf("failed to emit event: %v", value)
	}
}

// Subscribe subscribes a typed handler to the given topic.
// A Subscription is returned that can be used to unsubscribe from the topic.
func Subscribe[T any](subject *Subject, topic string, handler func(context.Context, T) error) Subscription {
	wrappedHandler := HandlerFunc(func(ctx context.Context, data any) error {
		if typed, ok := data.(T); ok {
			return handler(ctx, typed)
		}
		return fmt.Errorf("type assertion failed for %T, expected %T", data, *new(T))
	})

	subID := atomic.AddInt64(&subject.nextSubID, 1)
	sub := Subscription{
		Topic:   topic,
		ID:      fmt.Sprintf("%s-%d", topic, subID),
		Handler: wrappedHandler,
	}
	sub.Unsubscribe = func() {
		subject.removeSubscription(topic, sub.ID)
	}

	subject.mu.Lock()
	if _, ok := subject.subscribers[topic]; !ok {
		subject.subscribers[topic] = make(map[string]Subscription)
	}
	subject.subscribers[topic][sub.ID] = sub
	subject.mu.Unlock()

	return sub
}

// Complete shuts down the event system, stopping the event loop and cleaning
// up resources. Idempotent and safe to call multiple times.
func Complete(s *Subject) {
	if s == nil {
		return
	}
	if s.closed.CompareAndSwap(false, true) {
		close(s.shutdown)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}
}

func (s *Subject) eventLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			return
		case evt := <-s.events:
			s.mu.RLock()
			subs := make([]Subscription, 0, len(s.subscribers[evt.topic]))
			for _, sub := range s.subscribers[evt.topic] {
				subs = append(subs, sub)
			}
			s.mu.RUnlock()

			for _, sub := range subs {
				s.sendToSubscriber(sub, evt, s.config.syncDelivery)
			}
		}
	}
}

func (s *Subject) removeSubscription(topic, subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if topicSubs, ok := s.subscribers[topic]; ok {
		delete(topicSubs, subID)
		if len(topicSubs) == 0 {
			delete(s.subscribers, topic)
		}
	}
}

// sendToSubscriber delivers an event to a subscriber.
// If sync is true, delivery is synchronous (blocking). If false, delivery is asynchronous.
func (s *Subject) sendToSubscriber(sub Subscription, evt event, sync bool) {
	deliverEvent := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := sub.Handler(ctx, evt.message); err != nil {
			if s.config.logger != nil {
				s.config.logger.Debug("event handler error",
					"topic", evt.topic,
					"error", err,
					"subscription_id", sub.ID)
			}
		}
	}

	if sync {
		deliverEvent()
	} else {
		go deliverEvent()
	}
}
