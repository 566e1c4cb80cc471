package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// OpenReview records a new review request in waiting_reply. The partial
// unique index on (cycle_date, waiting_reply) enforces the at-most-one
// outstanding request invariant; a violation maps to ErrReviewPending.
func (s *Store) OpenReview(req *ReviewRequest) error {
	if req.SentAt.IsZero() {
		req.SentAt = time.Now()
	}
	req.Status = ReviewWaiting

	_, err := s.db.Exec(`
		INSERT INTO review_requests (id, cycle_date, recipient, sent_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, req.ID, req.CycleDate, req.Recipient, req.SentAt, req.Status)
	if err != nil {
		if strings.Contains(err.Error(), "constraint") {
			return fmt.Errorf("%w: cycle %s", ErrReviewPending, req.CycleDate)
		}
		return err
	}
	return nil
}

// ResolveReview closes the waiting request for a cycle, recording the
// instruction that resolved it. status is ReviewResolved for an explicit
// reply or ReviewExpired for the timeout path. Fails with
// ErrAlreadyResolved when no request is waiting, which is the guard that
// makes resolution at-most-once.
func (s *Store) ResolveReview(cycleDate, instruction, status string) error {
	res, err := s.db.Exec(`
		UPDATE review_requests SET status = ?, instruction = ?, resolved_at = ?
		WHERE cycle_date = ? AND status = ?
	`, status, instruction, time.Now(), cycleDate, ReviewWaiting)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: cycle %s", ErrAlreadyResolved, cycleDate)
	}
	return nil
}

// WaitingReview returns the waiting request for a cycle, if any.
func (s *Store) WaitingReview(cycleDate string) (*ReviewRequest, error) {
	return s.scanReview(s.db.QueryRow(`
		SELECT id, cycle_date, recipient, sent_at, status, instruction, resolved_at
		FROM review_requests WHERE cycle_date = ? AND status = ?
	`, cycleDate, ReviewWaiting))
}

// LatestWaitingReview returns the most recently sent waiting request
// across all cycles. Replies are routed to this request: there is a
// single operator, so the newest outstanding gate is the one being
// answered.
func (s *Store) LatestWaitingReview() (*ReviewRequest, error) {
	return s.scanReview(s.db.QueryRow(`
		SELECT id, cycle_date, recipient, sent_at, status, instruction, resolved_at
		FROM review_requests WHERE status = ? ORDER BY sent_at DESC LIMIT 1
	`, ReviewWaiting))
}

// DueReviews returns waiting requests sent at or before the cutoff.
func (s *Store) DueReviews(cutoff time.Time) ([]ReviewRequest, error) {
	rows, err := s.db.Query(`
		SELECT id, cycle_date, recipient, sent_at, status, instruction, resolved_at
		FROM review_requests WHERE status = ? AND sent_at <= ? ORDER BY sent_at
	`, ReviewWaiting, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []ReviewRequest
	for rows.Next() {
		var r ReviewRequest
		var instr sql.NullString
		var resolvedAt sql.NullTime
		err := rows.Scan(&r.ID, &r.CycleDate, &r.Recipient, &r.SentAt, &r.Status, &instr, &resolvedAt)
		if err != nil {
			return nil, err
		}
		r.Instruction = instr.String
		r.ResolvedAt = resolvedAt.Time
		due = append(due, r)
	}
	return due, rows.Err()
}

func (s *Store) scanReview(row *sql.Row) (*ReviewRequest, error) {
	var r ReviewRequest
	var instr sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&r.ID, &r.CycleDate, &r.Recipient, &r.SentAt, &r.Status, &instr, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: review request", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	r.Instruction = instr.String
	r.ResolvedAt = resolvedAt.Time
	return &r, nil
}
