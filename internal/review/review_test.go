package review

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mkwei/inkpress/internal/config"
	"github.com/mkwei/inkpress/internal/mailer"
	"github.com/mkwei/inkpress/internal/store"
)

type captureSender struct {
	sent []mailer.Message
	err  error
}

func (c *captureSender) Send(ctx context.Context, msg mailer.Message) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func pendingCycle(t *testing.T, s *store.Store, date string) *store.Cycle {
	t.Helper()
	cycle := &store.Cycle{
		Date:  date,
		Topic: "AI 编程助手",
		Candidates: []store.Candidate{
			{Position: 1, Topic: "上手实录", Angle: "hands-on", Content: strings.Repeat("一", 800), QualityScore: 6.5, WordCount: 800},
			{Position: 2, Topic: "行业观察", Angle: "analytical", Content: "短正文", QualityScore: 8.0, WordCount: 3},
		},
	}
	if err := s.CreateCycle(cycle, false); err != nil {
		t.Fatalf("CreateCycle: %v", err)
	}
	if err := s.MarkPendingReview(date); err != nil {
		t.Fatalf("MarkPendingReview: %v", err)
	}
	cycle.Status = store.CyclePendingReview
	return cycle
}

func TestRequestReview(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	sender := &captureSender{}
	cfg := config.ReviewConfig{Recipient: "op@example.com", ReplyTo: "review@example.com", PreviewChars: 100}
	m := NewManager(s, sender, cfg, "bot@example.com", "")

	cycle := pendingCycle(t, s, "20260831")
	req, err := m.RequestReview(context.Background(), cycle)
	if err != nil {
		t.Fatalf("RequestReview: %v", err)
	}
	if req.ID == "" || req.CycleDate != "20260831" {
		t.Fatalf("request = %+v", req)
	}

	if _, err := s.WaitingReview("20260831"); err != nil {
		t.Fatalf("no waiting review recorded: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "op@example.com" || msg.ReplyTo != "review@example.com" {
		t.Fatalf("message addressing: %+v", msg)
	}
	if !strings.Contains(msg.Subject, "2026-08-31") || !strings.Contains(msg.Subject, "审核") {
		t.Fatalf("subject = %q", msg.Subject)
	}
	for _, want := range []string{"上手实录", "行业观察", "发布 2", "跳过"} {
		if !strings.Contains(msg.HTMLBody, want) {
			t.Fatalf("HTML body missing %q", want)
		}
		if !strings.Contains(msg.PlainBody, want) {
			t.Fatalf("plain body missing %q", want)
		}
	}

	// The long candidate must be previewed, not included whole.
	if strings.Contains(msg.PlainBody, strings.Repeat("一", 800)) {
		t.Fatal("preview not truncated")
	}

	// A second request for the same cycle violates the one-waiting gate.
	if _, err := m.RequestReview(context.Background(), cycle); !errors.Is(err, store.ErrReviewPending) {
		t.Fatalf("second request = %v, want ErrReviewPending", err)
	}
}

func TestRequestReviewOutboxFallback(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	outbox := t.TempDir()
	sender := &captureSender{err: fmt.Errorf("%w: connection refused", mailer.ErrDelivery)}
	cfg := config.ReviewConfig{Recipient: "op@example.com", PreviewChars: 100}
	m := NewManager(s, sender, cfg, "bot@example.com", outbox)

	cycle := pendingCycle(t, s, "20260831")
	if _, err := m.RequestReview(context.Background(), cycle); err != nil {
		t.Fatalf("RequestReview with outbox fallback: %v", err)
	}

	entries, err := os.ReadDir(outbox)
	if err != nil {
		t.Fatalf("read outbox: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".eml") {
		t.Fatalf("outbox entries = %v, want one .eml file", entries)
	}

	data, err := os.ReadFile(filepath.Join(outbox, entries[0].Name()))
	if err != nil {
		t.Fatalf("read eml: %v", err)
	}
	if !strings.Contains(string(data), "To: op@example.com") {
		t.Fatalf("eml content:\n%s", data)
	}

	// The review request still opened; the mail exists, just undelivered.
	if _, err := s.WaitingReview("20260831"); err != nil {
		t.Fatalf("waiting review missing after fallback: %v", err)
	}
}

func TestRequestReviewNonDeliveryErrorPropagates(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	sender := &captureSender{err: errors.New("message rejected as spam")}
	m := NewManager(s, sender, config.ReviewConfig{Recipient: "op@example.com"}, "bot@example.com", t.TempDir())

	cycle := pendingCycle(t, s, "20260831")
	if _, err := m.RequestReview(context.Background(), cycle); err == nil {
		t.Fatal("want error for non-transport failure")
	}
	if _, err := s.WaitingReview("20260831"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("review opened despite failed send: %v", err)
	}
}

func TestSendCandidateView(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	sender := &captureSender{}
	m := NewManager(s, sender, config.ReviewConfig{Recipient: "op@example.com"}, "bot@example.com", "")

	cycle := pendingCycle(t, s, "20260831")
	if err := m.SendCandidateView(context.Background(), cycle, 2); err != nil {
		t.Fatalf("SendCandidateView: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].PlainBody, "短正文") {
		t.Fatalf("view body = %q, want full content", sender.sent[0].PlainBody)
	}

	if err := m.SendCandidateView(context.Background(), cycle, 9); err == nil {
		t.Fatal("want error for missing candidate")
	}
}

func TestExpiryCutoff(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, nil, config.ReviewConfig{ExpiryHours: 24}, "", "")
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	if got := m.ExpiryCutoff(now); !got.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("cutoff = %v", got)
	}

	// Zero config falls back to a day.
	m = NewManager(nil, nil, config.ReviewConfig{}, "", "")
	if got := m.ExpiryCutoff(now); !got.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("default cutoff = %v", got)
	}
}

func TestFormatDate(t *testing.T) {
	t.Parallel()

	if got := formatDate("20260831"); got != "2026-08-31" {
		t.Fatalf("formatDate = %q", got)
	}
	if got := formatDate("oddkey"); got != "oddkey" {
		t.Fatalf("formatDate passthrough = %q", got)
	}
}
