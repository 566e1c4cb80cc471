// Package generate produces candidate articles through an LLM provider.
// Each production cycle yields several candidates written from distinct
// angles so the reviewer has genuinely different variants to choose from.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkwei/inkpress/internal/config"
	"github.com/mkwei/inkpress/internal/fetcher"
	"github.com/mkwei/inkpress/internal/store"
)

// ErrGeneration marks provider failures. The caller treats it as a fatal
// abort of the current cycle; no partial candidate list is stored.
var ErrGeneration = errors.New("candidate generation failed")

const systemPrompt = "You are a seasoned technology columnist writing in-depth articles " +
	"about AI and software for working professionals. You write with concrete " +
	"examples and cited data, and you refuse clichés."

// angleSpec describes one writing angle; one candidate is generated per
// angle, up to the configured count.
type angleSpec struct {
	Name  string
	Focus string
	Style string
}

var angles = []angleSpec{
	{
		Name:  "hands-on",
		Focus: "concrete tools, step-by-step workflows, reproducible examples",
		Style: "practical, grounded, instructional",
	},
	{
		Name:  "analytical",
		Focus: "underlying mechanics, first principles, long-term trends",
		Style: "rational, big-picture, reflective",
	},
	{
		Name:  "narrative",
		Focus: "people, career transitions, emotional resonance",
		Style: "story-driven, warm, inspiring",
	},
}

// Generator produces candidate articles for a cycle.
type Generator struct {
	provider Provider
	cfg      config.GenerationConfig
	cacheDir string // LLM exchange audit files; empty disables caching
}

// New creates a generator with the configured provider.
func New(cfg config.GenerationConfig, cacheDir string) (*Generator, error) {
	var provider Provider

	switch cfg.Provider {
	case "", config.ProviderAnthropic:
		provider = NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", cfg.Provider)
	}

	return &Generator{provider: provider, cfg: cfg, cacheDir: cacheDir}, nil
}

// NewWithProvider wires an explicit provider, used by tests.
func NewWithProvider(provider Provider, cfg config.GenerationConfig, cacheDir string) *Generator {
	return &Generator{provider: provider, cfg: cfg, cacheDir: cacheDir}
}

// Candidates generates count candidate articles for the topic, one per
// angle, concurrently. direction is an optional regeneration hint from
// the reviewer; recentTopics steers scoring away from repeats. Any single
// failure aborts the whole batch.
func (g *Generator) Candidates(ctx context.Context, cycleDate, topic, direction string, items []fetcher.Item, recentTopics []string, count int) ([]store.Candidate, error) {
	if count <= 0 || count > len(angles) {
		count = len(angles)
	}

	results := make([]store.Candidate, count)
	eg, ctx := errgroup.WithContext(ctx)

	for i := 0; i < count; i++ {
		angle := angles[i]
		position := i + 1

		eg.Go(func() error {
			prompt := g.buildPrompt(topic, direction, angle, items)
			response, err := g.complete(ctx, cycleDate, "candidate", prompt)
			if err != nil {
				return fmt.Errorf("%w: angle %s: %v", ErrGeneration, angle.Name, err)
			}
			results[position-1] = g.parseCandidate(response, position, topic, angle, items, recentTopics)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Revise regenerates one candidate in place, keeping its angle and
// applying the reviewer's feedback. The returned candidate occupies the
// same position.
func (g *Generator) Revise(ctx context.Context, cycleDate string, c store.Candidate, feedback string) (store.Candidate, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Rewrite the following article, keeping its %q angle and topic.\n\n", c.Angle)
	fmt.Fprintf(&b, "Reviewer feedback that must be addressed:\n%s\n\n", feedback)
	fmt.Fprintf(&b, "Original article:\nTitle: %s\n\n%s\n\n", c.Topic, c.Content)
	b.WriteString("Output format:\nTitle: <title>\nAngle: <one-line angle>\n\n<full article body>")

	response, err := g.complete(ctx, cycleDate, "revise", b.String())
	if err != nil {
		return store.Candidate{}, fmt.Errorf("%w: revise candidate %d: %v", ErrGeneration, c.Position, err)
	}

	spec := angleSpec{Name: c.Angle}
	revised := g.parseCandidate(response, c.Position, c.Topic, spec, nil, nil)
	revised.SourceRefs = c.SourceRefs
	return revised, nil
}

// TopicFromItems asks the provider to distill a writing topic from
// fetched source material. Used when no fixed topic is configured.
func (g *Generator) TopicFromItems(ctx context.Context, cycleDate string, items []fetcher.Item) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("%w: no source material", ErrGeneration)
	}

	var b strings.Builder
	b.WriteString("Given these trending headlines, distill a single topic suitable for an in-depth article.\n\n")
	for i, item := range items {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "- %s (%s)\n", item.Title, item.Source)
	}
	b.WriteString("\nReply with the topic only, at most ten words, no punctuation around it.")

	response, err := g.complete(ctx, cycleDate, "topic", b.String())
	if err != nil {
		return "", fmt.Errorf("%w: topic: %v", ErrGeneration, err)
	}

	topic := strings.TrimSpace(strings.SplitN(response, "\n", 2)[0])
	if topic == "" {
		return "", fmt.Errorf("%w: empty topic", ErrGeneration)
	}
	return topic, nil
}

func (g *Generator) complete(ctx context.Context, cycleDate, stage, prompt string) (string, error) {
	response, err := g.provider.Complete(ctx, systemPrompt, prompt)

	if g.cacheDir != "" {
		exchange := store.LLMExchange{
			Timestamp: time.Now(),
			CycleDate: cycleDate,
			Stage:     stage,
			Model:     g.cfg.Model,
			Prompt:    prompt,
			Response:  response,
		}
		if err != nil {
			exchange.Error = err.Error()
		}
		if _, cacheErr := store.SaveLLMExchange(g.cacheDir, exchange); cacheErr != nil {
			log.Printf("[generate] failed to cache LLM exchange: %v", cacheErr)
		}
	}

	return response, err
}

func (g *Generator) buildPrompt(topic, direction string, angle angleSpec, items []fetcher.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write an article on the topic %q from the %q angle.\n\n", topic, angle.Name)
	fmt.Fprintf(&b, "Angle focus: %s\nWriting style: %s\n", angle.Focus, angle.Style)
	if direction != "" {
		fmt.Fprintf(&b, "Reviewer direction for this run: %s\n", direction)
	}

	if len(items) > 0 {
		b.WriteString("\nSource material (cite concrete data or viewpoints, naming the source):\n")
		for i, item := range items {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "\n[%d] %s\nSource: %s\nSummary: %s\n", i+1, item.Title, item.Source, item.Summary)
		}
	}

	b.WriteString("\nRequirements:\n")
	b.WriteString("1. 1500-2000 words\n")
	b.WriteString("2. Structure: hook, analysis, insight, actionable advice, close\n")
	b.WriteString("3. Include at least one concrete example and one data point\n")
	b.WriteString("4. No clichés, no manufactured urgency\n")
	b.WriteString("\nOutput format:\nTitle: <title>\nAngle: <one-line angle>\n\n<full article body>")
	return b.String()
}

// parseCandidate extracts title/angle markers from a response and scores
// the remainder. When markers are missing the first lines stand in for
// them, so a misformatted response still yields a usable candidate.
func (g *Generator) parseCandidate(response string, position int, topic string, angle angleSpec, items []fetcher.Item, recentTopics []string) store.Candidate {
	lines := strings.Split(strings.TrimSpace(response), "\n")

	var title, angleLine, content string
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case title == "" && strings.HasPrefix(trimmed, "Title:"):
			title = strings.TrimSpace(strings.TrimPrefix(trimmed, "Title:"))
		case angleLine == "" && strings.HasPrefix(trimmed, "Angle:"):
			angleLine = strings.TrimSpace(strings.TrimPrefix(trimmed, "Angle:"))
			content = strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		}
		if content != "" {
			break
		}
	}

	if content == "" && len(lines) > 2 {
		title = firstNonEmpty(title, truncateRunes(lines[0], 50))
		content = strings.TrimSpace(strings.Join(lines[1:], "\n"))
	}
	if content == "" {
		content = response
	}
	title = firstNonEmpty(title, fmt.Sprintf("%s (%s)", topic, angle.Name))

	c := store.Candidate{
		Position:        position,
		Topic:           title,
		Angle:           firstNonEmpty(angle.Name, angleLine),
		Content:         content,
		WordCount:       len([]rune(content)),
		QualityScore:    scoreQuality(content),
		UniquenessScore: scoreUniqueness(content, recentTopics),
	}
	for _, item := range items {
		c.SourceRefs = append(c.SourceRefs, store.SourceRef{
			Title:  item.Title,
			Source: item.Source,
			URL:    item.Link,
		})
	}
	return c
}

// scoreQuality applies cheap lexical heuristics: presence of examples,
// data, actionable advice, adequate length and reader engagement each add
// to a 5.0 base, capped at 10.
func scoreQuality(content string) float64 {
	score := 5.0
	lower := strings.ToLower(content)

	if strings.Contains(lower, "example") || strings.Contains(content, "案例") || strings.Contains(content, "例如") {
		score++
	}
	if strings.Contains(content, "%") || strings.Contains(lower, "data") || strings.Contains(content, "数据") {
		score++
	}
	if strings.Contains(lower, "advice") || strings.Contains(lower, "how to") || strings.Contains(content, "建议") || strings.Contains(content, "方法") {
		score++
	}
	if len([]rune(content)) >= 1200 {
		score++
	}
	if strings.ContainsAny(content, "?？") {
		score += 0.5
	}

	return min(score, 10)
}

// scoreUniqueness penalizes overlap with recent topics and rewards fresh
// framing, clamped to [1, 10].
func scoreUniqueness(content string, recentTopics []string) float64 {
	score := 7.0
	lower := strings.ToLower(content)

	if len(recentTopics) > 10 {
		recentTopics = recentTopics[:10]
	}
	for _, topic := range recentTopics {
		if topic != "" && strings.Contains(lower, strings.ToLower(topic)) {
			score -= 0.5
		}
	}

	for _, term := range []string{"paradigm", "rethink", "first principles", "新范式", "重构", "本质", "第一性"} {
		if strings.Contains(lower, term) {
			score += 0.3
		}
	}

	return max(min(score, 10), 1)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
