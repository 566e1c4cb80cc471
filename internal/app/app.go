// Package app wires the production pipeline, the review loop and the
// scheduler into one long-running daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mkwei/inkpress/internal/config"
	"github.com/mkwei/inkpress/internal/dispatch"
	"github.com/mkwei/inkpress/internal/fetcher"
	"github.com/mkwei/inkpress/internal/generate"
	"github.com/mkwei/inkpress/internal/inbox"
	"github.com/mkwei/inkpress/internal/instruction"
	"github.com/mkwei/inkpress/internal/mailer"
	"github.com/mkwei/inkpress/internal/publisher"
	"github.com/mkwei/inkpress/internal/review"
	"github.com/mkwei/inkpress/internal/scheduler"
	"github.com/mkwei/inkpress/internal/store"
)

const (
	sourceItemLimit  = 10
	recentTopicLimit = 10
	processedTTL     = 30 * 24 * time.Hour
)

// replySource is the slice of the inbox poller the reply loop uses.
// Tests substitute a scripted source for the IMAP-backed one.
type replySource interface {
	Poll() ([]inbox.Message, error)
	IsReviewReply(msg inbox.Message) bool
}

// App owns every component of the daemon.
type App struct {
	cfg        *config.Config
	store      *store.Store
	fetcher    *fetcher.Fetcher
	generator  *generate.Generator
	reviews    *review.Manager
	dispatcher *dispatch.Dispatcher
	poller     replySource
	parser     *instruction.Parser
}

// New builds the full component graph from configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.FillPaths()

	st, err := store.New(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	tokens := instruction.DefaultTokens()
	if cfg.Review.TokenFile != "" {
		tokens, err = instruction.LoadTokens(cfg.Review.TokenFile)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("load instruction tokens: %w", err)
		}
	}

	gen, err := generate.New(cfg.Generation, cfg.Store.CacheDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	sender := mailer.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass, cfg.SMTP.FromAddr, cfg.SMTP.SSL)
	reviews := review.NewManager(st, sender, cfg.Review, cfg.SMTP.FromAddr, cfg.Store.OutboxDir)

	var pub publisher.Publisher = publisher.NopPublisher{}
	if cfg.Publisher.Enabled {
		pub = publisher.NewCLI(cfg.Publisher)
	}

	a := &App{
		cfg:       cfg,
		store:     st,
		fetcher:   fetcher.New(cfg.Feeds, cfg.Pipeline.Keywords),
		generator: gen,
		reviews:   reviews,
		poller:    inbox.NewPoller(cfg.IMAP, tokens.Subject, cfg.Review.AllowFrom),
		parser:    instruction.NewParser(tokens),
	}
	a.dispatcher = dispatch.New(st, reviews, pub, gen, a.regenerateCycle, cfg.Store.OutputDir)
	return a, nil
}

// Close releases the app's resources.
func (a *App) Close() error {
	return a.store.Close()
}

// Store exposes the backing store for CLI inspection commands.
func (a *App) Store() *store.Store {
	return a.store
}

// Parser exposes the instruction parser for the parse command.
func (a *App) Parser() *instruction.Parser {
	return a.parser
}

// Dispatcher exposes the instruction executor for CLI commands that
// apply instructions directly.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// RunPipeline executes one full production run: collect source material,
// generate candidates, persist and export them, then mail the review
// request. The cycle key is today's date in the configured timezone.
func (a *App) RunPipeline(ctx context.Context) error {
	date := a.today()
	log.Printf("[app] starting production run for cycle %s", date)

	items, err := a.fetcher.Collect(ctx, sourceItemLimit)
	if err != nil {
		// Generation can proceed on the topic alone.
		log.Printf("[app] source collection failed, continuing without material: %v", err)
		items = nil
	}

	topic := a.cfg.Pipeline.Topic
	if topic == "" {
		topic, err = a.generator.TopicFromItems(ctx, date, items)
		if err != nil {
			return fmt.Errorf("no topic configured and none derivable: %w", err)
		}
	}

	return a.produce(ctx, date, topic, "", items, false)
}

// regenerateCycle rebuilds an existing cycle's candidates under a new
// direction hint, invoked by the dispatcher for a regenerate reply. The
// fresh batch is generated before any state changes: a generation
// failure returns with the old cycle and its review request untouched.
// Only on success is the old request resolved, the cycle overwritten
// and a new request opened.
func (a *App) regenerateCycle(ctx context.Context, cycleDate, direction, resolution string) error {
	cycle, err := a.store.GetCycle(cycleDate)
	if err != nil {
		return err
	}

	items, err := a.fetcher.Collect(ctx, sourceItemLimit)
	if err != nil {
		log.Printf("[app] source collection failed, continuing without material: %v", err)
		items = nil
	}

	candidates, err := a.generateBatch(ctx, cycleDate, cycle.Topic, direction, items)
	if err != nil {
		return err
	}

	if err := a.store.ResolveReview(cycleDate, resolution, store.ReviewResolved); err != nil {
		return err
	}
	if err := a.store.MarkResolved(cycleDate, 0, store.OutcomeSuperseded); err != nil {
		return err
	}
	return a.commitCycle(ctx, cycleDate, cycle.Topic, candidates, true)
}

func (a *App) produce(ctx context.Context, date, topic, direction string, items []fetcher.Item, overwrite bool) error {
	candidates, err := a.generateBatch(ctx, date, topic, direction, items)
	if err != nil {
		return err
	}
	return a.commitCycle(ctx, date, topic, candidates, overwrite)
}

func (a *App) generateBatch(ctx context.Context, date, topic, direction string, items []fetcher.Item) ([]store.Candidate, error) {
	recent, err := a.store.RecentTopics(recentTopicLimit)
	if err != nil {
		return nil, err
	}
	return a.generator.Candidates(ctx, date, topic, direction, items, recent, a.cfg.Generation.CandidateCount)
}

// commitCycle persists a generated batch, exports it and opens the
// review gate.
func (a *App) commitCycle(ctx context.Context, date, topic string, candidates []store.Candidate, overwrite bool) error {
	cycle := &store.Cycle{Date: date, Topic: topic, Candidates: candidates}
	if err := a.store.CreateCycle(cycle, overwrite); err != nil {
		return err
	}
	if _, err := store.ExportCandidates(a.cfg.Store.OutputDir, cycle); err != nil {
		return err
	}
	if err := a.store.MarkPendingReview(date); err != nil {
		return err
	}
	cycle.Status = store.CyclePendingReview

	if _, err := a.reviews.RequestReview(ctx, cycle); err != nil {
		return err
	}

	log.Printf("[app] cycle %s awaiting review (%d candidates on %q)", date, len(candidates), topic)
	return nil
}

// today returns the cycle key for the current day in the pipeline's
// timezone.
func (a *App) today() string {
	loc, err := time.LoadLocation(a.cfg.Pipeline.Timezone)
	if err != nil {
		loc = time.Local
	}
	return time.Now().In(loc).Format("20060102")
}

// CheckReplies polls the inbox once and applies every new review reply.
// Each message is handled independently; one bad reply never blocks the
// rest of the batch.
func (a *App) CheckReplies(ctx context.Context) error {
	msgs, err := a.poller.Poll()
	if err != nil {
		return fmt.Errorf("poll inbox: %w", err)
	}

	for _, msg := range msgs {
		if !a.poller.IsReviewReply(msg) {
			continue
		}
		a.handleReply(ctx, msg)
	}
	return nil
}

func (a *App) handleReply(ctx context.Context, msg inbox.Message) {
	req, err := a.store.LatestWaitingReview()
	if errors.Is(err, store.ErrNotFound) {
		// Nothing is waiting; remember the message so a late or duplicate
		// reply is not reconsidered on every poll.
		if _, err := a.store.MarkProcessed(msg.ID, ""); err != nil {
			log.Printf("[app] reply %s: %v", msg.ID, err)
		}
		log.Printf("[app] reply %s arrived with no review waiting, ignoring", msg.ID)
		return
	}
	if err != nil {
		log.Printf("[app] reply %s: %v", msg.ID, err)
		return
	}

	// Record the message before acting on it. A crash between here and
	// the dispatch leaves the instruction unapplied but never applied
	// twice; the expiry sweep is the backstop for the lost case.
	fresh, err := a.store.MarkProcessed(msg.ID, req.CycleDate)
	if err != nil {
		log.Printf("[app] reply %s: %v", msg.ID, err)
		return
	}
	if !fresh {
		return
	}

	cycle, err := a.store.GetCycle(req.CycleDate)
	if err != nil {
		log.Printf("[app] reply %s: %v", msg.ID, err)
		return
	}

	instr := a.parser.Parse(msg.Body, len(cycle.Candidates))
	log.Printf("[app] reply %s from %s parsed as: %s", msg.ID, msg.From, instr)

	if err := a.dispatcher.Apply(ctx, req.CycleDate, instr, dispatch.OriginReply); err != nil {
		if errors.Is(err, store.ErrAlreadyResolved) {
			log.Printf("[app] reply %s: cycle %s already resolved", msg.ID, req.CycleDate)
			return
		}
		log.Printf("[app] reply %s: apply failed: %v", msg.ID, err)
	}
}

// CheckExpiry resolves overdue review requests and prunes the processed
// message log.
func (a *App) CheckExpiry(ctx context.Context) error {
	if err := a.dispatcher.ExpireDue(ctx, a.reviews.ExpiryCutoff(time.Now())); err != nil {
		return err
	}
	if n, err := a.store.PruneProcessed(time.Now().Add(-processedTTL)); err != nil {
		log.Printf("[app] prune processed messages: %v", err)
	} else if n > 0 {
		log.Printf("[app] pruned %d processed message records", n)
	}
	return nil
}

// Run starts the daemon: the daily pipeline on its cron schedule, reply
// polling on a ticker, and an hourly expiry sweep. It blocks until the
// context is cancelled, then waits for in-flight jobs.
func (a *App) Run(ctx context.Context) error {
	sched, err := scheduler.New(a.cfg.Pipeline.Timezone)
	if err != nil {
		return err
	}
	if err := sched.AddDailyJob("pipeline", a.cfg.Pipeline.DailyTime, a.RunPipeline); err != nil {
		return err
	}
	sched.Start()

	interval := time.Duration(a.cfg.Review.CheckIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	pollTicker := time.NewTicker(interval)
	defer pollTicker.Stop()
	expiryTicker := time.NewTicker(time.Hour)
	defer expiryTicker.Stop()

	log.Printf("[app] daemon up: pipeline daily at %s %s, reply check every %s",
		a.cfg.Pipeline.DailyTime, a.cfg.Pipeline.Timezone, interval)

	for {
		select {
		case <-ctx.Done():
			stopped := sched.Stop()
			<-stopped.Done()
			log.Println("[app] daemon stopped")
			return nil
		case <-pollTicker.C:
			if err := a.CheckReplies(ctx); err != nil {
				log.Printf("[app] reply check: %v", err)
			}
		case <-expiryTicker.C:
			if err := a.CheckExpiry(ctx); err != nil {
				log.Printf("[app] expiry sweep: %v", err)
			}
		}
	}
}
