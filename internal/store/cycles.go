package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateCycle persists a cycle and its candidate list in one transaction.
// A cycle for the same date fails with ErrDuplicateCycle unless overwrite
// is set, in which case the old cycle and its candidates are replaced.
func (s *Store) CreateCycle(cycle *Cycle, overwrite bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM cycles WHERE date = ?)`, cycle.Date).Scan(&exists); err != nil {
		return err
	}
	if exists {
		if !overwrite {
			return fmt.Errorf("%w: %s", ErrDuplicateCycle, cycle.Date)
		}
		if _, err := tx.Exec(`DELETE FROM candidates WHERE cycle_date = ?`, cycle.Date); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM cycles WHERE date = ?`, cycle.Date); err != nil {
			return err
		}
	}

	if cycle.CreatedAt.IsZero() {
		cycle.CreatedAt = time.Now()
	}
	if cycle.Status == "" {
		cycle.Status = CycleGenerating
	}

	_, err = tx.Exec(`
		INSERT INTO cycles (date, topic, status, chosen_candidate, outcome, created_at)
		VALUES (?, ?, ?, NULL, NULL, ?)
	`, cycle.Date, cycle.Topic, cycle.Status, cycle.CreatedAt)
	if err != nil {
		return err
	}

	for i := range cycle.Candidates {
		if err := insertCandidate(tx, cycle.Date, &cycle.Candidates[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertCandidate(tx *sql.Tx, cycleDate string, c *Candidate) error {
	refsJSON, _ := json.Marshal(c.SourceRefs)

	_, err := tx.Exec(`
		INSERT INTO candidates (cycle_date, position, topic, angle, content,
			quality_score, uniqueness_score, word_count, source_refs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cycleDate, c.Position, c.Topic, c.Angle, c.Content,
		c.QualityScore, c.UniquenessScore, c.WordCount, string(refsJSON))
	return err
}

// GetCycle loads a cycle and its candidates by date key.
func (s *Store) GetCycle(date string) (*Cycle, error) {
	var c Cycle
	var chosen sql.NullInt64
	var outcome sql.NullString

	err := s.db.QueryRow(`
		SELECT date, topic, status, chosen_candidate, outcome, created_at
		FROM cycles WHERE date = ?
	`, date).Scan(&c.Date, &c.Topic, &c.Status, &chosen, &outcome, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: cycle %s", ErrNotFound, date)
	}
	if err != nil {
		return nil, err
	}
	c.ChosenCandidate = int(chosen.Int64)
	c.Outcome = outcome.String

	rows, err := s.db.Query(`
		SELECT position, topic, angle, content, quality_score, uniqueness_score, word_count, source_refs
		FROM candidates WHERE cycle_date = ? ORDER BY position
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var cand Candidate
		var refsJSON string
		err := rows.Scan(&cand.Position, &cand.Topic, &cand.Angle, &cand.Content,
			&cand.QualityScore, &cand.UniquenessScore, &cand.WordCount, &refsJSON)
		if err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(refsJSON), &cand.SourceRefs)
		c.Candidates = append(c.Candidates, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &c, nil
}

// MarkResolved transitions a cycle out of pending_review. chosenIndex is
// 1-based and may be 0 when no candidate was chosen (skip, supersede).
// Fails with ErrInvalidTransition if the cycle is not awaiting review.
func (s *Store) MarkResolved(date string, chosenIndex int, outcome string) error {
	var chosen any
	if chosenIndex > 0 {
		chosen = chosenIndex
	}

	res, err := s.db.Exec(`
		UPDATE cycles SET status = ?, chosen_candidate = ?, outcome = ?
		WHERE date = ? AND status = ?
	`, CycleResolved, chosen, outcome, date, CyclePendingReview)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing cycle from one in the wrong state.
		var status string
		err := s.db.QueryRow(`SELECT status FROM cycles WHERE date = ?`, date).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: cycle %s", ErrNotFound, date)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: cycle %s is %s, not %s", ErrInvalidTransition, date, status, CyclePendingReview)
	}
	return nil
}

// MarkPendingReview moves a freshly generated cycle into the review gate.
func (s *Store) MarkPendingReview(date string) error {
	res, err := s.db.Exec(`
		UPDATE cycles SET status = ? WHERE date = ? AND status = ?
	`, CyclePendingReview, date, CycleGenerating)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: cycle %s not in %s", ErrInvalidTransition, date, CycleGenerating)
	}
	return nil
}

// ReplaceCandidate swaps out a single candidate position, used when a
// revise instruction regenerates one variant. The cycle must still be
// awaiting review.
func (s *Store) ReplaceCandidate(date string, c *Candidate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM cycles WHERE date = ?`, date).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: cycle %s", ErrNotFound, date)
	}
	if err != nil {
		return err
	}
	if status != CyclePendingReview {
		return fmt.Errorf("%w: cycle %s is %s", ErrInvalidTransition, date, status)
	}

	res, err := tx.Exec(`DELETE FROM candidates WHERE cycle_date = ? AND position = ?`, date, c.Position)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: candidate %d in cycle %s", ErrNotFound, c.Position, date)
	}
	if err := insertCandidate(tx, date, c); err != nil {
		return err
	}

	return tx.Commit()
}

// RecentTopics returns the topics of the most recent cycles, newest first.
// Used to steer generation away from repeating itself.
func (s *Store) RecentTopics(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT topic FROM cycles ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}
