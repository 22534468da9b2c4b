// Package notify delivers user notifications. A notification is keyed by
// (user, tag): sending a new one under the same key replaces the previous
// one.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelInfo, LevelWarning, LevelError:
		return Level(s), nil
	}
	return "", fmt.Errorf("unknown notification level %q", s)
}

// Notification is a message for one user.
type Notification struct {
	UserID  string    `json:"user_id"`
	Level   Level     `json:"level"`
	Tag     string    `json:"tag"`
	Payload any       `json:"payload"`
	Date    time.Time `json:"date"`
}

// Sink stores or forwards notifications.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
	ClearTag(ctx context.Context, userID, tag string) error
}

// Replacer is a Sink able to swap the notification of a (user, tag) key
// atomically.
type Replacer interface {
	Replace(ctx context.Context, n Notification) error
}

// Replace removes the pending notifications of n's user under n's tag, then
// sends n.
func Replace(ctx context.Context, sink Sink, n Notification) error {
	if n.Date.IsZero() {
		n.Date = time.Now().UTC()
	}
	if r, ok := sink.(Replacer); ok {
		return r.Replace(ctx, n)
	}
	if err := sink.ClearTag(ctx, n.UserID, n.Tag); err != nil {
		return fmt.Errorf("clearing %s notifications: %w", n.Tag, err)
	}
	return sink.Notify(ctx, n)
}

// Fanout sends every notification to all of its sinks. Errors are joined;
// a failing sink does not stop the others.
type Fanout []Sink

// Notify implements Sink.
func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClearTag implements Sink.
func (f Fanout) ClearTag(ctx context.Context, userID, tag string) error {
	var errs []error
	for _, s := range f {
		if err := s.ClearTag(ctx, userID, tag); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Replace implements Replacer, replacing on each sink in turn.
func (f Fanout) Replace(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range f {
		if err := Replace(ctx, s, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every notification.
type Discard struct{}

// Notify implements Sink.
func (Discard) Notify(context.Context, Notification) error { return nil }

// ClearTag implements Sink.
func (Discard) ClearTag(context.Context, string, string) error { return nil }
