package events

import (
	"context"
	"fmt"
	"time"
)

// TypeMessageSent is emitted after a message is persisted.
const TypeMessageSent = "message.sent"

// MessageEvent is published for downstream consumers such as notification
// fan-out. Delivery is best effort.
type MessageEvent struct {
	Type           string    `json:"type"`
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Receiver       string    `json:"receiver"`
	Text           string    `json:"text"`
	Date           time.Time `json:"date"`
	Outcome        string    `json:"outcome"`
}

// Publisher sends message events to an external bus. Publish runs on the
// send path and must not wait on the bus; delivery failures after it returns
// are the publisher's to report.
type Publisher interface {
	Publish(ctx context.Context, event MessageEvent) error
	Close() error
}

// Loader creates a Publisher from config.
type Loader func(ctx context.Context) (Publisher, error)

// Plugin represents an events plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an events plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered events plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named events plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown events publisher %q; valid: %v", name, Names())
}
