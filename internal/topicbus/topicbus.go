// Package topicbus is a thin pass-through over the transport layer's
// pubsub topics. It does not interpret topic content; publish/subscribe
// failures are logged, never surfaced as fatal.
package topicbus

import (
	"fmt"
	"sync"

	"github.com/scmessenger/core/internal/logger"
)

// Publisher is the transport-level capability TopicBus depends on.
type Publisher interface {
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Publish(topic string, data []byte) error
}

// Bus tracks subscribed topics and forwards publish/subscribe calls to
// the underlying transport driver.
type Bus struct {
	mu     sync.RWMutex
	driver Publisher
	topics map[string]bool
	log    logger.Logger
}

// New builds a Bus over driver.
func New(driver Publisher, log logger.Logger) *Bus {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Bus{driver: driver, topics: make(map[string]bool), log: log}
}

// Subscribe joins topic. Failure is logged and returned; callers that
// only want best-effort behavior may ignore the error.
func (b *Bus) Subscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.driver.Subscribe(topic); err != nil {
		b.log.Warn("topicbus: subscribe failed", logger.String("topic", topic), logger.Error(err))
		return fmt.Errorf("topicbus: subscribe %q: %w", topic, err)
	}
	b.topics[topic] = true
	return nil
}

// Unsubscribe leaves topic.
func (b *Bus) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.driver.Unsubscribe(topic); err != nil {
		b.log.Warn("topicbus: unsubscribe failed", logger.String("topic", topic), logger.Error(err))
		return fmt.Errorf("topicbus: unsubscribe %q: %w", topic, err)
	}
	delete(b.topics, topic)
	return nil
}

// Publish sends data on topic. Failure is logged and returned.
func (b *Bus) Publish(topic string, data []byte) error {
	if err := b.driver.Publish(topic, data); err != nil {
		b.log.Warn("topicbus: publish failed", logger.String("topic", topic), logger.Error(err))
		return fmt.Errorf("topicbus: publish %q: %w", topic, err)
	}
	return nil
}

// ListTopics returns the currently subscribed topics.
func (b *Bus) ListTopics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.topics))
	for t := range b.topics {
		out = append(out, t)
	}
	return out
}
