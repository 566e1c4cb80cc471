package store

import "time"

// Cycle lifecycle states
const (
	CycleGenerating    = "generating"
	CyclePendingReview = "pending_review"
	CycleResolved      = "resolved"
)

// Cycle resolution outcomes
const (
	OutcomePublished  = "published"
	OutcomeSkipped    = "skipped"
	OutcomeSuperseded = "superseded"
	OutcomeExpired    = "expired"
)

// ReviewRequest lifecycle states
const (
	ReviewWaiting  = "waiting_reply"
	ReviewResolved = "resolved"
	ReviewExpired  = "expired"
)

// Cycle is one production run, keyed by calendar day (YYYYMMDD).
type Cycle struct {
	Date            string      `json:"date"`
	Topic           string      `json:"topic"`
	Status          string      `json:"status"`
	ChosenCandidate int         `json:"chosen_candidate"` // 1-based; 0 until resolved
	Outcome         string      `json:"outcome"`
	Candidates      []Candidate `json:"candidates"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Candidate is one generated article variant within a cycle.
// Candidates are immutable except for a whole-position replacement on revise.
type Candidate struct {
	Position        int         `json:"position"` // 1-based
	Topic           string      `json:"topic"`
	Angle           string      `json:"angle"`
	Content         string      `json:"content"`
	QualityScore    float64     `json:"quality_score"`
	UniquenessScore float64     `json:"uniqueness_score"`
	WordCount       int         `json:"word_count"`
	SourceRefs      []SourceRef `json:"source_refs,omitempty"`
}

// SourceRef records where a candidate's material came from.
type SourceRef struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	URL    string `json:"url"`
}

// ReviewRequest tracks the outstanding approval gate for one cycle.
// It references the cycle by date key only.
type ReviewRequest struct {
	ID          string    `json:"id"`
	CycleDate   string    `json:"cycle_date"`
	Recipient   string    `json:"recipient"`
	SentAt      time.Time `json:"sent_at"`
	Status      string    `json:"status"`
	Instruction string    `json:"instruction,omitempty"` // JSON-encoded resolution instruction
	ResolvedAt  time.Time `json:"resolved_at,omitempty"`
}

// FeedbackEntry is a persisted piece of operator commentary.
type FeedbackEntry struct {
	ID        int64     `json:"id"`
	CycleDate string    `json:"cycle_date"`
	Candidate int       `json:"candidate"` // 1-based; 0 if not tied to one candidate
	Stage     string    `json:"stage"`     // e.g. "review_reply", "revise"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// BestCandidate returns the highest quality-score candidate, or nil
// for an empty cycle. Ties go to the earlier position.
func (c *Cycle) BestCandidate() *Candidate {
	var best *Candidate
	for i := range c.Candidates {
		if best == nil || c.Candidates[i].QualityScore > best.QualityScore {
			best = &c.Candidates[i]
		}
	}
	return best
}

// CandidateAt returns the candidate at a 1-based position.
func (c *Cycle) CandidateAt(position int) *Candidate {
	for i := range c.Candidates {
		if c.Candidates[i].Position == position {
			return &c.Candidates[i]
		}
	}
	return nil
}
