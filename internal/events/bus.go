// Package events is a small in-process publish/subscribe bus for media
// lifecycle notifications.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
)

// Topic names an event stream.
type Topic string

const (
	// TopicPreDelete fires before a media row is removed. Handlers run
	// synchronously and an error aborts the delete.
	TopicPreDelete Topic = "pre_delete"
	// TopicMediaServed fires each time a media file is streamed to a client.
	TopicMediaServed Topic = "media_served"
)

// PreDelete is the payload of TopicPreDelete.
type PreDelete struct {
	Media *models.Media
}

// Request describes the client a media file was served to.
type Request struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	RemoteAddr string `json:"remote_addr"`
	UserID     string `json:"user_id,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// MediaServed is the payload of TopicMediaServed.
type MediaServed struct {
	Media   *models.Media
	Request Request
}

// Handler receives the payload published on a topic.
type Handler func(ctx context.Context, payload any) error

type subscription struct {
	name    string
	handler Handler
}

// Bus dispatches events to subscribers in the order they subscribed.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]subscription)}
}

// Subscribe appends handler to topic. name shows up in dispatch errors.
func (b *Bus) Subscribe(topic Topic, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], subscription{name: name, handler: handler})
}

// Subscribers lists the handler names registered on topic, in order.
func (b *Bus) Subscribers(topic Topic) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.subs[topic]))
	for _, s := range b.subs[topic] {
		names = append(names, s.name)
	}
	return names
}

// Publish calls every subscriber of topic in turn. The first error stops
// dispatch and is returned.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler(ctx, payload); err != nil {
			return fmt.Errorf("%s handler %s: %w", topic, s.name, err)
		}
	}
	return nil
}
