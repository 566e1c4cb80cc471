package store

import "time"

// MarkProcessed records a message identifier in the processed log before
// any downstream action runs. Returns false if the identifier was already
// present, in which case the caller must not act on the message again.
func (s *Store) MarkProcessed(messageID, cycleDate string) (bool, error) {
	var cycle any
	if cycleDate != "" {
		cycle = cycleDate
	}

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO processed_messages (message_id, cycle_date, processed_at)
		VALUES (?, ?, ?)
	`, messageID, cycle, time.Now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PruneProcessed removes log entries older than the cutoff whose owning
// cycle is no longer awaiting review. Entries that never resolved to a
// cycle are pruned on age alone. Returns the number of rows removed.
func (s *Store) PruneProcessed(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM processed_messages
		WHERE processed_at < ?
		AND (cycle_date IS NULL OR NOT EXISTS (
			SELECT 1 FROM review_requests
			WHERE review_requests.cycle_date = processed_messages.cycle_date
			AND review_requests.status = ?
		))
	`, cutoff, ReviewWaiting)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
