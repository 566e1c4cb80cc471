package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mkwei/inkpress/internal/config"
	"github.com/mkwei/inkpress/internal/dispatch"
	"github.com/mkwei/inkpress/internal/fetcher"
	"github.com/mkwei/inkpress/internal/generate"
	"github.com/mkwei/inkpress/internal/inbox"
	"github.com/mkwei/inkpress/internal/instruction"
	"github.com/mkwei/inkpress/internal/mailer"
	"github.com/mkwei/inkpress/internal/publisher"
	"github.com/mkwei/inkpress/internal/review"
	"github.com/mkwei/inkpress/internal/store"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (f *fakeSender) Send(ctx context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

type countPublisher struct {
	calls int
	paths []string
}

func (c *countPublisher) Publish(ctx context.Context, articlePath string) (publisher.Result, error) {
	c.calls++
	c.paths = append(c.paths, articlePath)
	return publisher.Result{MediaRef: "draft-1"}, nil
}

// fakeSource scripts the inbox: each Poll returns the next batch.
type fakeSource struct {
	batches [][]inbox.Message
}

func (f *fakeSource) Poll() ([]inbox.Message, error) {
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeSource) IsReviewReply(msg inbox.Message) bool {
	return true
}

type scriptProvider struct {
	mu  sync.Mutex
	err error
}

func (p *scriptProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	return "Title: 重生成稿\nAngle: hands-on\n\n这是重新生成的正文，包含案例和数据。", nil
}

func newTestApp(t *testing.T, provider generate.Provider) (*App, *fakeSender, *countPublisher, *fakeSource) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Store.OutputDir = filepath.Join(dir, "articles")
	cfg.Review.Recipient = "op@example.com"
	cfg.Review.AutoAck = false
	cfg.Review.PreviewChars = 100

	sender := &fakeSender{}
	reviews := review.NewManager(st, sender, cfg.Review, "bot@example.com", "")
	pub := &countPublisher{}
	src := &fakeSource{}

	a := &App{
		cfg:       cfg,
		store:     st,
		fetcher:   fetcher.New(nil, nil),
		generator: generate.NewWithProvider(provider, cfg.Generation, ""),
		reviews:   reviews,
		poller:    src,
		parser:    instruction.NewParser(instruction.DefaultTokens()),
	}
	a.dispatcher = dispatch.New(st, reviews, pub, a.generator, a.regenerateCycle, cfg.Store.OutputDir)
	return a, sender, pub, src
}

func seedCycle(t *testing.T, a *App, date string) {
	t.Helper()

	cycle := &store.Cycle{
		Date:  date,
		Topic: "AI 编程助手",
		Candidates: []store.Candidate{
			{Position: 1, Topic: "上手实录", Angle: "hands-on", Content: "第一篇", QualityScore: 6.5},
			{Position: 2, Topic: "行业观察", Angle: "analytical", Content: "第二篇", QualityScore: 8.0},
		},
	}
	if err := a.store.CreateCycle(cycle, false); err != nil {
		t.Fatalf("CreateCycle: %v", err)
	}
	if err := a.store.MarkPendingReview(date); err != nil {
		t.Fatalf("MarkPendingReview: %v", err)
	}
	req := &store.ReviewRequest{ID: "req-" + date, CycleDate: date, Recipient: "op@example.com"}
	if err := a.store.OpenReview(req); err != nil {
		t.Fatalf("OpenReview: %v", err)
	}
}

func TestCheckRepliesAppliesReplyOnce(t *testing.T) {
	t.Parallel()

	a, _, pub, src := newTestApp(t, &scriptProvider{})
	seedCycle(t, a, "20260831")

	msg := inbox.Message{ID: "<reply-1@mail>", From: "op@example.com", Body: "发布 2"}
	src.batches = [][]inbox.Message{{msg}, {msg}}

	if err := a.CheckReplies(context.Background()); err != nil {
		t.Fatalf("CheckReplies: %v", err)
	}
	if pub.calls != 1 {
		t.Fatalf("publisher calls = %d, want 1", pub.calls)
	}

	cycle, err := a.store.GetCycle("20260831")
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if cycle.Status != store.CycleResolved || cycle.ChosenCandidate != 2 {
		t.Fatalf("cycle after reply: status=%s chosen=%d", cycle.Status, cycle.ChosenCandidate)
	}

	// The same message delivered again on the next poll is dropped by the
	// processed-message log before anything runs.
	if err := a.CheckReplies(context.Background()); err != nil {
		t.Fatalf("second CheckReplies: %v", err)
	}
	if pub.calls != 1 {
		t.Fatalf("publisher calls after redelivery = %d, want 1", pub.calls)
	}
}

func TestCheckRepliesArrivalOrderWins(t *testing.T) {
	t.Parallel()

	a, _, pub, src := newTestApp(t, &scriptProvider{})
	seedCycle(t, a, "20260831")

	src.batches = [][]inbox.Message{{
		{ID: "<reply-1@mail>", From: "op@example.com", Body: "发布 1"},
		{ID: "<reply-2@mail>", From: "op@example.com", Body: "发布 2"},
	}}

	if err := a.CheckReplies(context.Background()); err != nil {
		t.Fatalf("CheckReplies: %v", err)
	}

	// The first reply resolves the cycle; the second finds nothing
	// waiting and is dropped instead of overwriting the choice.
	cycle, err := a.store.GetCycle("20260831")
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if cycle.ChosenCandidate != 1 {
		t.Fatalf("chosen = %d, want 1", cycle.ChosenCandidate)
	}
	if pub.calls != 1 {
		t.Fatalf("publisher calls = %d, want 1", pub.calls)
	}
}

func TestCheckRepliesNoWaitingReview(t *testing.T) {
	t.Parallel()

	a, _, pub, src := newTestApp(t, &scriptProvider{})

	msg := inbox.Message{ID: "<stray@mail>", From: "op@example.com", Body: "发布 1"}
	src.batches = [][]inbox.Message{{msg}}

	if err := a.CheckReplies(context.Background()); err != nil {
		t.Fatalf("CheckReplies: %v", err)
	}
	if pub.calls != 0 {
		t.Fatalf("publisher calls = %d, want 0", pub.calls)
	}

	// The stray message was remembered so later polls skip it.
	fresh, err := a.store.MarkProcessed(msg.ID, "")
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if fresh {
		t.Fatal("stray message was not recorded as processed")
	}
}

func TestRegenerateFailureKeepsReviewOpen(t *testing.T) {
	t.Parallel()

	provider := &scriptProvider{err: errors.New("provider down")}
	a, _, pub, src := newTestApp(t, provider)
	seedCycle(t, a, "20260831")

	src.batches = [][]inbox.Message{
		{{ID: "<regen@mail>", From: "op@example.com", Body: "重新生成，方向：更多实战案例"}},
		{{ID: "<publish@mail>", From: "op@example.com", Body: "发布 1"}},
	}

	if err := a.CheckReplies(context.Background()); err != nil {
		t.Fatalf("CheckReplies: %v", err)
	}

	// Generation failed, so the cycle and its review request are exactly
	// as they were.
	cycle, err := a.store.GetCycle("20260831")
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if cycle.Status != store.CyclePendingReview {
		t.Fatalf("cycle status = %s, want still pending_review", cycle.Status)
	}
	if _, err := a.store.WaitingReview("20260831"); err != nil {
		t.Fatalf("review should still be waiting: %v", err)
	}

	// A later reply still resolves the cycle normally.
	provider.mu.Lock()
	provider.err = nil
	provider.mu.Unlock()
	if err := a.CheckReplies(context.Background()); err != nil {
		t.Fatalf("second CheckReplies: %v", err)
	}
	if pub.calls != 1 {
		t.Fatalf("publisher calls = %d, want 1", pub.calls)
	}

	cycle, err = a.store.GetCycle("20260831")
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if cycle.Status != store.CycleResolved || cycle.ChosenCandidate != 1 {
		t.Fatalf("cycle after publish: status=%s chosen=%d", cycle.Status, cycle.ChosenCandidate)
	}
}

func TestRegenerateRebuildsCycleAndReopensGate(t *testing.T) {
	t.Parallel()

	a, sender, pub, src := newTestApp(t, &scriptProvider{})
	seedCycle(t, a, "20260831")

	src.batches = [][]inbox.Message{
		{{ID: "<regen@mail>", From: "op@example.com", Body: "重新生成，方向：更多实战案例"}},
	}

	if err := a.CheckReplies(context.Background()); err != nil {
		t.Fatalf("CheckReplies: %v", err)
	}

	cycle, err := a.store.GetCycle("20260831")
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if cycle.Status != store.CyclePendingReview {
		t.Fatalf("rebuilt cycle status = %s, want pending_review", cycle.Status)
	}
	if len(cycle.Candidates) == 0 || cycle.Candidates[0].Topic != "重生成稿" {
		t.Fatalf("cycle was not rebuilt: %+v", cycle.Candidates)
	}

	req, err := a.store.WaitingReview("20260831")
	if err != nil {
		t.Fatalf("new review request missing: %v", err)
	}
	if req.ID == "req-20260831" {
		t.Fatal("old review request still open, want a fresh one")
	}

	sender.mu.Lock()
	mails := len(sender.sent)
	sender.mu.Unlock()
	if mails != 1 {
		t.Fatalf("sent mails = %d, want 1 new review request", mails)
	}
	if pub.calls != 0 {
		t.Fatalf("publisher calls = %d, want 0", pub.calls)
	}
}
