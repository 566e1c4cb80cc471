// Package review runs the human approval gate: it mails candidate
// digests to the operator, tracks the outstanding request, and sends the
// follow-up notices that close the loop.
package review

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkwei/inkpress/internal/config"
	"github.com/mkwei/inkpress/internal/mailer"
	"github.com/mkwei/inkpress/internal/store"
)

// Manager owns review mail composition and request bookkeeping.
type Manager struct {
	store     *store.Store
	sender    mailer.Sender
	cfg       config.ReviewConfig
	fromAddr  string
	outboxDir string
}

// NewManager wires the review loop. outboxDir receives .eml files when
// SMTP delivery fails, so a review request is never silently lost.
func NewManager(st *store.Store, sender mailer.Sender, cfg config.ReviewConfig, fromAddr, outboxDir string) *Manager {
	return &Manager{
		store:     st,
		sender:    sender,
		cfg:       cfg,
		fromAddr:  fromAddr,
		outboxDir: outboxDir,
	}
}

// RequestReview mails the cycle's candidates to the operator and opens a
// waiting review request. The request row is written only after the mail
// is out the door (or parked in the outbox), so a waiting request always
// corresponds to mail the operator can answer.
func (m *Manager) RequestReview(ctx context.Context, cycle *store.Cycle) (*store.ReviewRequest, error) {
	if len(cycle.Candidates) == 0 {
		return nil, fmt.Errorf("cycle %s has no candidates to review", cycle.Date)
	}

	msg := mailer.Message{
		To:        m.cfg.Recipient,
		Subject:   fmt.Sprintf("【审核】%s 候选文章：%s", formatDate(cycle.Date), cycle.Topic),
		HTMLBody:  renderDigestHTML(cycle, m.previewChars()),
		PlainBody: renderDigestPlain(cycle, m.previewChars()),
		ReplyTo:   m.cfg.ReplyTo,
	}

	if err := m.deliver(ctx, msg); err != nil {
		return nil, err
	}

	req := &store.ReviewRequest{
		ID:        uuid.NewString(),
		CycleDate: cycle.Date,
		Recipient: m.cfg.Recipient,
		SentAt:    time.Now(),
	}
	if err := m.store.OpenReview(req); err != nil {
		return nil, err
	}

	log.Printf("[review] request %s sent for cycle %s (%d candidates)", req.ID, cycle.Date, len(cycle.Candidates))
	return req, nil
}

// SendCandidateView mails the full text of one candidate. It answers a
// view instruction and leaves the review request waiting.
func (m *Manager) SendCandidateView(ctx context.Context, cycle *store.Cycle, position int) error {
	c := cycle.CandidateAt(position)
	if c == nil {
		return fmt.Errorf("cycle %s has no candidate %d", cycle.Date, position)
	}

	msg := mailer.Message{
		To:        m.cfg.Recipient,
		Subject:   fmt.Sprintf("【审核】候选 %d 全文：%s", position, c.Topic),
		HTMLBody:  renderCandidateHTML(c),
		PlainBody: renderCandidatePlain(c),
		ReplyTo:   m.cfg.ReplyTo,
	}
	return m.deliver(ctx, msg)
}

// SendRevision mails a revised candidate so the operator can judge the
// rework. The original review request stays open; the eventual reply
// still resolves the same cycle.
func (m *Manager) SendRevision(ctx context.Context, cycle *store.Cycle, c *store.Candidate, feedback string) error {
	msg := mailer.Message{
		To:        m.cfg.Recipient,
		Subject:   fmt.Sprintf("【审核】候选 %d 修改稿：%s", c.Position, c.Topic),
		HTMLBody:  renderRevisionHTML(c, feedback),
		PlainBody: renderRevisionPlain(c, feedback),
		ReplyTo:   m.cfg.ReplyTo,
	}
	return m.deliver(ctx, msg)
}

// SendAck confirms a resolution back to the operator. Failures are
// logged, not returned: the resolution already happened and an ack is
// best-effort.
func (m *Manager) SendAck(ctx context.Context, cycleDate, summary string) {
	if !m.cfg.AutoAck {
		return
	}
	msg := mailer.Message{
		To:        m.cfg.Recipient,
		Subject:   fmt.Sprintf("【审核】%s 处理结果", formatDate(cycleDate)),
		PlainBody: summary,
		ReplyTo:   m.cfg.ReplyTo,
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		log.Printf("[review] ack for cycle %s not delivered: %v", cycleDate, err)
	}
}

// ExpiryCutoff returns the sent-at time before which waiting requests
// are considered expired.
func (m *Manager) ExpiryCutoff(now time.Time) time.Time {
	hours := m.cfg.ExpiryHours
	if hours <= 0 {
		hours = 24
	}
	return now.Add(-time.Duration(hours) * time.Hour)
}

// deliver sends the message, writing it to the outbox when the transport
// fails. An outbox write still counts as delivered for bookkeeping; the
// operator (or a cron job) drains the outbox manually.
func (m *Manager) deliver(ctx context.Context, msg mailer.Message) error {
	err := m.sender.Send(ctx, msg)
	if err == nil {
		return nil
	}
	if !errors.Is(err, mailer.ErrDelivery) || m.outboxDir == "" {
		return err
	}

	log.Printf("[review] delivery failed, parking mail in outbox: %v", err)
	if werr := m.writeOutbox(msg); werr != nil {
		return fmt.Errorf("delivery failed (%v) and outbox write failed: %w", err, werr)
	}
	return nil
}

func (m *Manager) writeOutbox(msg mailer.Message) error {
	if err := os.MkdirAll(m.outboxDir, 0700); err != nil {
		return err
	}
	name := fmt.Sprintf("%s_%s.eml", time.Now().Format("20060102T150405"), uuid.NewString()[:8])
	path := filepath.Join(m.outboxDir, name)
	return os.WriteFile(path, []byte(mailer.BuildMIME(m.fromAddr, msg)), 0600)
}

func (m *Manager) previewChars() int {
	if m.cfg.PreviewChars > 0 {
		return m.cfg.PreviewChars
	}
	return 500
}

// formatDate renders a YYYYMMDD cycle key as YYYY-MM-DD for subjects.
func formatDate(cycleDate string) string {
	if len(cycleDate) == 8 {
		return cycleDate[:4] + "-" + cycleDate[4:6] + "-" + cycleDate[6:]
	}
	return cycleDate
}

// preview truncates content at a rune boundary for the digest.
func preview(content string, n int) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "…"
}
