// Package publisher hands finished articles to an external publishing
// tool. The default target is the wenyan CLI, which formats markdown and
// uploads it as a WeChat official-account draft.
package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/mkwei/inkpress/internal/config"
)

// ErrPublishFailed marks publisher failures. Callers may retry the whole
// operation; nothing downstream of a failed publish is recorded.
var ErrPublishFailed = errors.New("publish failed")

// Result reports a completed publish.
type Result struct {
	MediaRef string // platform draft identifier, when the tool reports one
	Output   string // trailing tool output, kept for the audit trail
}

// Publisher pushes an exported article file to the publishing platform.
type Publisher interface {
	Publish(ctx context.Context, articlePath string) (Result, error)
}

var mediaIDRe = regexp.MustCompile(`(?i)media[_ ]?id[:=\s]+([A-Za-z0-9_\-]+)`)

// CLIPublisher shells out to a configured command.
type CLIPublisher struct {
	cfg config.PublisherConfig
}

// NewCLI creates a publisher around the configured command.
func NewCLI(cfg config.PublisherConfig) *CLIPublisher {
	return &CLIPublisher{cfg: cfg}
}

// Publish runs the tool against the article file and waits for it to
// finish. A non-zero exit or a timeout yields ErrPublishFailed.
func (p *CLIPublisher) Publish(ctx context.Context, articlePath string) (Result, error) {
	timeout := time.Duration(p.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"publish", articlePath}
	if p.cfg.Theme != "" {
		args = append(args, "--theme", p.cfg.Theme)
	}
	if p.cfg.Highlight != "" {
		args = append(args, "--highlight", p.cfg.Highlight)
	}

	cmd := exec.CommandContext(ctx, p.cfg.Command, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	log.Printf("[publisher] running %s %s", p.cfg.Command, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Result{}, fmt.Errorf("%w: %s timed out after %s", ErrPublishFailed, p.cfg.Command, timeout)
		}
		return Result{}, fmt.Errorf("%w: %s: %v: %s", ErrPublishFailed, p.cfg.Command, err, tail(out.String(), 500))
	}

	result := Result{Output: tail(out.String(), 500)}
	if m := mediaIDRe.FindStringSubmatch(out.String()); m != nil {
		result.MediaRef = m[1]
	}
	return result, nil
}

// NopPublisher records the publish decision without contacting any
// platform. Used when the publisher is disabled in config; the exported
// markdown file is the deliverable.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, articlePath string) (Result, error) {
	log.Printf("[publisher] disabled, article left at %s", articlePath)
	return Result{Output: "publisher disabled"}, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
