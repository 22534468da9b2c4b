package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nats-io/nats.go"
	"github.com/segmentio/encoding/json"

	"github.com/wetneb/dissemin/internal/resilience"
)

type recorder struct {
	calls []string
	err   error
}

func (r *recorder) Notify(_ context.Context, n Notification) error {
	r.calls = append(r.calls, "notify "+n.UserID+" "+n.Tag)
	return r.err
}

func (r *recorder) ClearTag(_ context.Context, userID, tag string) error {
	r.calls = append(r.calls, "clear "+userID+" "+tag)
	return r.err
}

func TestReplace(t *testing.T) {
	r := &recorder{}
	if err := Replace(context.Background(), r, Notification{UserID: "u1", Tag: "backend_orcid", Level: LevelError}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	want := []string{"clear u1 backend_orcid", "notify u1 backend_orcid"}
	if diff := cmp.Diff(want, r.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestFanout(t *testing.T) {
	failing := &recorder{err: errors.New("down")}
	ok := &recorder{}
	err := Fanout{failing, ok}.Notify(context.Background(), Notification{UserID: "u1", Tag: "t"})
	if err == nil {
		t.Error("expected the failing sink error")
	}
	if len(ok.calls) != 1 {
		t.Errorf("expected the second sink to be called, got %v", ok.calls)
	}
}

type replacer struct {
	recorder
}

func (r *replacer) Replace(_ context.Context, n Notification) error {
	if n.Date.IsZero() {
		return errors.New("missing date")
	}
	r.calls = append(r.calls, "replace "+n.UserID+" "+n.Tag)
	return nil
}

func TestFanoutReplace(t *testing.T) {
	plain, atomic := &recorder{}, &replacer{}
	f := Fanout{plain, atomic}
	if err := Replace(context.Background(), f, Notification{UserID: "u1", Tag: "backend_orcid"}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if diff := cmp.Diff([]string{"clear u1 backend_orcid", "notify u1 backend_orcid"}, plain.calls); diff != "" {
		t.Errorf("plain sink calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"replace u1 backend_orcid"}, atomic.calls); diff != "" {
		t.Errorf("replacer calls mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel("warning"); err != nil || l != LevelWarning {
		t.Errorf("expected warning, got %q, %v", l, err)
	}
	if _, err := ParseLevel("fatal"); err == nil {
		t.Error("expected error for unknown level")
	}
}

type fakePublisher struct {
	subjects []string
	messages [][]byte
	fail     int
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.fail > 0 {
		p.fail--
		return nats.ErrTimeout
	}
	p.subjects = append(p.subjects, subject)
	p.messages = append(p.messages, data)
	return nil
}

func TestNATSSink(t *testing.T) {
	pub := &fakePublisher{fail: 1}
	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	}, nil)
	sink := NewNATSSink(pub, "dissemin.notifications", exec)

	n := Notification{
		UserID:  "u1",
		Level:   LevelError,
		Tag:     "backend_orcid",
		Payload: map[string]any{"code": "IGNORED_PAPERS"},
		Date:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := Replace(context.Background(), sink, n); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if len(pub.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(pub.messages))
	}
	if pub.subjects[0] != "dissemin.notifications" {
		t.Errorf("unexpected subject %s", pub.subjects[0])
	}

	var clear, notify Event
	if err := json.Unmarshal(pub.messages[0], &clear); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(pub.messages[1], &notify); err != nil {
		t.Fatal(err)
	}
	if clear.Action != ActionClear || clear.Notification != nil {
		t.Errorf("expected clear event, got %+v", clear)
	}
	if notify.Action != ActionNotify || notify.Notification == nil || notify.Notification.Level != LevelError {
		t.Errorf("expected notify event, got %+v", notify)
	}
}
