package store

import "time"

// SaveFeedback persists a piece of operator commentary against a cycle.
func (s *Store) SaveFeedback(f *FeedbackEntry) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	var candidate any
	if f.Candidate > 0 {
		candidate = f.Candidate
	}

	res, err := s.db.Exec(`
		INSERT INTO feedback (cycle_date, candidate, stage, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, f.CycleDate, candidate, f.Stage, f.Content, f.CreatedAt)
	if err != nil {
		return err
	}
	f.ID, _ = res.LastInsertId()
	return nil
}

// FeedbackFor returns all feedback recorded for a cycle, oldest first.
func (s *Store) FeedbackFor(cycleDate string) ([]FeedbackEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, cycle_date, COALESCE(candidate, 0), stage, content, created_at
		FROM feedback WHERE cycle_date = ? ORDER BY id
	`, cycleDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []FeedbackEntry
	for rows.Next() {
		var f FeedbackEntry
		err := rows.Scan(&f.ID, &f.CycleDate, &f.Candidate, &f.Stage, &f.Content, &f.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, f)
	}
	return entries, rows.Err()
}
