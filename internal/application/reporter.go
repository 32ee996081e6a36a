package application

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/shipit/internal/domain/model"
	"github.com/ericfisherdev/shipit/internal/domain/port/driven"
)

// Reporter owns a single tracking comment on a pull request. The comment is
// created on the first flush and edited in place afterwards.
type Reporter struct {
	gh     driven.GitHubClient
	issue  int
	header string
	footer string

	// mu serializes flushes and guards the fields below.
	mu        sync.Mutex
	id        int64
	url       string
	lines     []string
	ephemeral []string

	subMu     sync.Mutex
	subCancel context.CancelFunc
	subDone   chan struct{}
}

// NewReporter returns an unbound reporter for issue.
func NewReporter(gh driven.GitHubClient, issue int, header, footer string) *Reporter {
	return &Reporter{gh: gh, issue: issue, header: header, footer: footer}
}

// Append cancels any running subscription, persists lines and flushes.
func (r *Reporter) Append(ctx context.Context, lines ...string) error {
	r.stopSubscription()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, lines...)
	r.ephemeral = nil
	return r.flushLocked(ctx)
}

// Ephemeral flushes the persisted lines followed by lines without keeping them.
func (r *Reporter) Ephemeral(ctx context.Context, lines ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ephemeral = lines
	return r.flushLocked(ctx)
}

// Separator appends a horizontal rule.
func (r *Reporter) Separator(ctx context.Context) error {
	return r.Append(ctx, "---")
}

// SubscribeTo polls buf every interval and, while the comment is bound,
// flushes view(buf) as ephemeral content whenever buf has grown. The next
// Append or Close stops it.
func (r *Reporter) SubscribeTo(buf *model.OutputBuffer, interval time.Duration, view func(*model.OutputBuffer) []string) {
	r.stopSubscription()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	r.subMu.Lock()
	r.subCancel = cancel
	r.subDone = done
	r.subMu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		seen := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			n := buf.Len()
			if n == seen {
				continue
			}
			seen = n
			r.tick(ctx, view(buf))
		}
	}()
}

func (r *Reporter) tick(ctx context.Context, lines []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil || r.id == 0 {
		return
	}
	r.ephemeral = lines
	// A failed progress edit is superseded by the next flush.
	_ = r.flushLocked(ctx)
}

// Close stops the subscription and waits for it to exit.
func (r *Reporter) Close() {
	r.stopSubscription()
}

func (r *Reporter) stopSubscription() {
	r.subMu.Lock()
	cancel, done := r.subCancel, r.subDone
	r.subCancel, r.subDone = nil, nil
	r.subMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// ID returns the comment id, or 0 while unbound.
func (r *Reporter) ID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// URL returns the comment's HTML URL, or "" while unbound.
func (r *Reporter) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

// Body returns the body that the next flush would write.
func (r *Reporter) Body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodyLocked()
}

func (r *Reporter) bodyLocked() string {
	parts := make([]string, 0, len(r.lines)+len(r.ephemeral)+2)
	if r.header != "" {
		parts = append(parts, r.header)
	}
	parts = append(parts, r.lines...)
	parts = append(parts, r.ephemeral...)
	if r.footer != "" {
		parts = append(parts, r.footer)
	}
	return strings.Join(parts, "\n\n")
}

func (r *Reporter) flushLocked(ctx context.Context) error {
	body := r.bodyLocked()
	if r.id == 0 {
		c, err := r.gh.CreateIssueComment(ctx, r.issue, body)
		if err != nil {
			return fmt.Errorf("creating tracking comment on #%d: %w", r.issue, err)
		}
		r.id, r.url = c.ID, c.URL
		return nil
	}
	if _, err := r.gh.UpdateIssueComment(ctx, r.id, body); err != nil {
		return fmt.Errorf("updating tracking comment %d: %w", r.id, err)
	}
	return nil
}
