// Package dispatch executes parsed review instructions against a cycle.
// It checks resolution state before any side effect so a replayed reply
// never publishes twice.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mkwei/inkpress/internal/instruction"
	"github.com/mkwei/inkpress/internal/publisher"
	"github.com/mkwei/inkpress/internal/review"
	"github.com/mkwei/inkpress/internal/store"
)

// Origin records what triggered an instruction.
type Origin string

const (
	// OriginReply is an instruction parsed from operator mail.
	OriginReply Origin = "reply"
	// OriginExpiry is an instruction synthesized by the timeout sweep.
	OriginExpiry Origin = "expiry"
)

// Reviser regenerates a single candidate under operator feedback.
type Reviser interface {
	Revise(ctx context.Context, cycleDate string, c store.Candidate, feedback string) (store.Candidate, error)
}

// RegenerateFunc re-runs the production pipeline for an existing cycle
// with a fresh direction hint. The implementation must generate the new
// candidate batch before touching any state: only on success does it
// resolve the old request (recording resolution), overwrite the cycle
// and open a new request. A generation failure changes nothing, so the
// original request keeps waiting.
type RegenerateFunc func(ctx context.Context, cycleDate, direction, resolution string) error

// Dispatcher applies instructions. It is driven from a single goroutine;
// the state checks before each side effect rely on that.
type Dispatcher struct {
	store      *store.Store
	reviews    *review.Manager
	pub        publisher.Publisher
	reviser    Reviser
	regenerate RegenerateFunc
	outputDir  string
}

// New wires a dispatcher.
func New(st *store.Store, reviews *review.Manager, pub publisher.Publisher, reviser Reviser, regenerate RegenerateFunc, outputDir string) *Dispatcher {
	return &Dispatcher{
		store:      st,
		reviews:    reviews,
		pub:        pub,
		reviser:    reviser,
		regenerate: regenerate,
		outputDir:  outputDir,
	}
}

// Apply executes one instruction against a cycle. Publish, regenerate and
// skip resolve the review gate; revise and view leave it waiting. A
// publish whose external step fails leaves everything waiting so the next
// reply (or expiry sweep) can retry it.
func (d *Dispatcher) Apply(ctx context.Context, cycleDate string, instr instruction.Instruction, origin Origin) error {
	cycle, err := d.store.GetCycle(cycleDate)
	if err != nil {
		return err
	}

	log.Printf("[dispatch] cycle %s: %s (origin %s)", cycleDate, instr, origin)

	switch instr.Action {
	case instruction.ActionPublish:
		return d.applyPublish(ctx, cycle, instr, origin)
	case instruction.ActionRegenerate:
		return d.applyRegenerate(ctx, cycle, instr)
	case instruction.ActionRevise:
		return d.applyRevise(ctx, cycle, instr)
	case instruction.ActionSkip:
		return d.applySkip(ctx, cycle, instr)
	case instruction.ActionView:
		return d.reviews.SendCandidateView(ctx, cycle, instr.Candidate)
	default:
		log.Printf("[dispatch] cycle %s: could not understand reply, ignoring: %q", cycleDate, instr.Raw)
		return nil
	}
}

func (d *Dispatcher) applyPublish(ctx context.Context, cycle *store.Cycle, instr instruction.Instruction, origin Origin) error {
	// State check before the external call. A replayed instruction for a
	// resolved cycle stops here, before the publisher runs.
	if cycle.Status != store.CyclePendingReview {
		return fmt.Errorf("%w: cycle %s already %s", store.ErrAlreadyResolved, cycle.Date, cycle.Status)
	}

	c := cycle.CandidateAt(instr.Candidate)
	if c == nil {
		return fmt.Errorf("%w: candidate %d in cycle %s", store.ErrNotFound, instr.Candidate, cycle.Date)
	}

	path, err := store.ExportCandidate(d.outputDir, cycle.Date, c)
	if err != nil {
		return err
	}

	result, err := d.pub.Publish(ctx, path)
	if err != nil {
		return err
	}

	if err := d.store.MarkResolved(cycle.Date, c.Position, store.OutcomePublished); err != nil {
		return err
	}
	if err := d.store.ResolveReview(cycle.Date, instr.Encode(), reviewStatus(origin)); err != nil {
		// The cycle is resolved but the request row disagrees; log loudly
		// rather than failing the already-completed publish.
		log.Printf("[dispatch] cycle %s published but review not closed: %v", cycle.Date, err)
	}

	if instr.Feedback != "" {
		d.saveFeedback(cycle.Date, c.Position, "review_reply", instr.Feedback)
	}

	summary := fmt.Sprintf("已发布候选 %d：%s", c.Position, c.Topic)
	if result.MediaRef != "" {
		summary += fmt.Sprintf("（草稿 %s）", result.MediaRef)
	}
	if origin == OriginExpiry {
		summary = "审核超时，自动" + summary
	}
	log.Printf("[dispatch] %s", summary)
	d.reviews.SendAck(ctx, cycle.Date, summary)
	return nil
}

func (d *Dispatcher) applyRegenerate(ctx context.Context, cycle *store.Cycle, instr instruction.Instruction) error {
	if cycle.Status != store.CyclePendingReview {
		return fmt.Errorf("%w: cycle %s already %s", store.ErrAlreadyResolved, cycle.Date, cycle.Status)
	}

	if instr.Direction != "" {
		d.saveFeedback(cycle.Date, 0, "regenerate", instr.Direction)
	}

	// The pipeline closes the current gate itself, after the replacement
	// batch exists. A failed regeneration leaves the cycle reviewable.
	return d.regenerate(ctx, cycle.Date, instr.Direction, instr.Encode())
}

func (d *Dispatcher) applyRevise(ctx context.Context, cycle *store.Cycle, instr instruction.Instruction) error {
	if cycle.Status != store.CyclePendingReview {
		return fmt.Errorf("%w: cycle %s already %s", store.ErrAlreadyResolved, cycle.Date, cycle.Status)
	}

	c := cycle.CandidateAt(instr.Candidate)
	if c == nil {
		return fmt.Errorf("%w: candidate %d in cycle %s", store.ErrNotFound, instr.Candidate, cycle.Date)
	}
	if instr.Feedback == "" {
		log.Printf("[dispatch] cycle %s: revise without feedback, ignoring", cycle.Date)
		return nil
	}

	d.saveFeedback(cycle.Date, c.Position, "revise", instr.Feedback)

	revised, err := d.reviser.Revise(ctx, cycle.Date, *c, instr.Feedback)
	if err != nil {
		return err
	}
	if err := d.store.ReplaceCandidate(cycle.Date, &revised); err != nil {
		return err
	}
	if _, err := store.ExportCandidate(d.outputDir, cycle.Date, &revised); err != nil {
		return err
	}

	// The original request stays open; the next reply resolves the cycle.
	return d.reviews.SendRevision(ctx, cycle, &revised, instr.Feedback)
}

func (d *Dispatcher) applySkip(ctx context.Context, cycle *store.Cycle, instr instruction.Instruction) error {
	if cycle.Status != store.CyclePendingReview {
		return fmt.Errorf("%w: cycle %s already %s", store.ErrAlreadyResolved, cycle.Date, cycle.Status)
	}

	if err := d.store.MarkResolved(cycle.Date, 0, store.OutcomeSkipped); err != nil {
		return err
	}
	if err := d.store.ResolveReview(cycle.Date, instr.Encode(), store.ReviewResolved); err != nil {
		log.Printf("[dispatch] cycle %s skipped but review not closed: %v", cycle.Date, err)
	}

	d.reviews.SendAck(ctx, cycle.Date, "好的，今天不发布。")
	return nil
}

// ExpireDue sweeps waiting requests past the cutoff. For each one it
// synthesizes a publish of the highest-scoring candidate and runs it
// through the normal resolution path, so the invariants hold for the
// timeout case too. A cycle with no candidates is resolved as expired
// with nothing published.
func (d *Dispatcher) ExpireDue(ctx context.Context, cutoff time.Time) error {
	due, err := d.store.DueReviews(cutoff)
	if err != nil {
		return err
	}

	for _, req := range due {
		cycle, err := d.store.GetCycle(req.CycleDate)
		if err != nil {
			log.Printf("[dispatch] expiry: cycle %s: %v", req.CycleDate, err)
			continue
		}

		best := cycle.BestCandidate()
		if best == nil {
			if err := d.store.MarkResolved(cycle.Date, 0, store.OutcomeExpired); err != nil {
				log.Printf("[dispatch] expiry: cycle %s: %v", cycle.Date, err)
				continue
			}
			if err := d.store.ResolveReview(cycle.Date, "", store.ReviewExpired); err != nil {
				log.Printf("[dispatch] expiry: cycle %s: %v", cycle.Date, err)
			}
			continue
		}

		instr := instruction.Instruction{Action: instruction.ActionPublish, Candidate: best.Position}
		if err := d.Apply(ctx, cycle.Date, instr, OriginExpiry); err != nil {
			if errors.Is(err, store.ErrAlreadyResolved) {
				continue
			}
			// Leave the request waiting; the next sweep retries.
			log.Printf("[dispatch] expiry: cycle %s: %v", cycle.Date, err)
		}
	}
	return nil
}

func (d *Dispatcher) saveFeedback(cycleDate string, candidate int, stage, content string) {
	entry := &store.FeedbackEntry{
		CycleDate: cycleDate,
		Candidate: candidate,
		Stage:     stage,
		Content:   content,
	}
	if err := d.store.SaveFeedback(entry); err != nil {
		log.Printf("[dispatch] cycle %s: feedback not saved: %v", cycleDate, err)
	}
}

func reviewStatus(origin Origin) string {
	if origin == OriginExpiry {
		return store.ReviewExpired
	}
	return store.ReviewResolved
}
