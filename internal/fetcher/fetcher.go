// Package fetcher pulls recent items from configured RSS/Atom feeds and
// ranks them so the pipeline can feed trending material to the generator.
package fetcher

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/mkwei/inkpress/internal/config"
)

const (
	userAgent    = "inkpress/1.0 (+https://github.com/mkwei/inkpress)"
	fetchTimeout = 15 * time.Second
	itemsPerFeed = 10
	maxSummary   = 300
)

// Item is one entry pulled from a feed, scored for relevance.
type Item struct {
	Title     string
	Link      string
	Summary   string
	Source    string
	Category  string
	Published time.Time
	Score     float64
}

// Fetcher collects items from a set of feeds.
type Fetcher struct {
	feeds    []config.FeedConfig
	keywords []string
	client   *http.Client
}

// New creates a fetcher over the configured feeds. keywords boost items
// whose titles match; an empty list disables the boost.
func New(feeds []config.FeedConfig, keywords []string) *Fetcher {
	return &Fetcher{
		feeds:    feeds,
		keywords: keywords,
		client:   &http.Client{Timeout: fetchTimeout},
	}
}

// Collect fetches all feeds concurrently and returns the top items sorted
// by score. Individual feed failures are logged and skipped; Collect only
// errors when every feed fails.
func (f *Fetcher) Collect(ctx context.Context, limit int) ([]Item, error) {
	if len(f.feeds) == 0 {
		return nil, nil
	}

	var (
		mu     sync.Mutex
		items  []Item
		failed int
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)

	for _, feed := range f.feeds {
		feed := feed
		eg.Go(func() error {
			fetched, err := f.fetchFeed(ctx, feed)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("[fetcher] %s: %v", feed.Name, err)
				failed++
				return nil
			}
			items = append(items, fetched...)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if failed == len(f.feeds) {
		return nil, fmt.Errorf("all %d feeds failed", failed)
	}

	for i := range items {
		items[i].Score = f.score(items[i])
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *Fetcher) fetchFeed(ctx context.Context, feed config.FeedConfig) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	entries, err := parseFeed(body)
	if err != nil {
		return nil, err
	}
	if len(entries) > itemsPerFeed {
		entries = entries[:itemsPerFeed]
	}

	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, Item{
			Title:     strings.TrimSpace(e.title),
			Link:      e.link,
			Summary:   cleanSummary(e.summary),
			Source:    feed.Name,
			Category:  feed.Category,
			Published: e.published,
		})
	}
	return items, nil
}

// score combines source weight, keyword hits in the title and recency.
func (f *Fetcher) score(item Item) float64 {
	score := 1.0

	for _, feed := range f.feeds {
		if feed.Name == item.Source && feed.Weight > 0 {
			score = float64(feed.Weight)
			break
		}
	}

	lowerTitle := strings.ToLower(item.Title)
	for _, kw := range f.keywords {
		if kw != "" && strings.Contains(lowerTitle, strings.ToLower(kw)) {
			score += 2
		}
	}

	if !item.Published.IsZero() {
		age := time.Since(item.Published)
		switch {
		case age < 24*time.Hour:
			score += 3
		case age < 72*time.Hour:
			score += 1
		}
	}

	return score
}

// cleanSummary strips HTML markup and truncates to a readable length.
func cleanSummary(raw string) string {
	text := raw
	if strings.Contains(raw, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
			text = doc.Text()
		}
	}
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) > maxSummary {
		text = string(runes[:maxSummary]) + "…"
	}
	return text
}

// entry is the common shape both feed formats reduce to.
type entry struct {
	title     string
	link      string
	summary   string
	published time.Time
}

type rssFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

type atomFeed struct {
	XMLName xml.Name `xml:"feed"`
	Entries []struct {
		Title   string `xml:"title"`
		Links   []struct {
			Href string `xml:"href,attr"`
			Rel  string `xml:"rel,attr"`
		} `xml:"link"`
		Summary string `xml:"summary"`
		Content string `xml:"content"`
		Updated string `xml:"updated"`
	} `xml:"entry"`
}

// parseFeed tries RSS 2.0 first, then Atom.
func parseFeed(body []byte) ([]entry, error) {
	var rss rssFeed
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		entries := make([]entry, 0, len(rss.Channel.Items))
		for _, it := range rss.Channel.Items {
			entries = append(entries, entry{
				title:     it.Title,
				link:      it.Link,
				summary:   it.Description,
				published: parseTime(it.PubDate),
			})
		}
		return entries, nil
	}

	var atom atomFeed
	if err := xml.Unmarshal(body, &atom); err == nil && len(atom.Entries) > 0 {
		entries := make([]entry, 0, len(atom.Entries))
		for _, e := range atom.Entries {
			link := ""
			for _, l := range e.Links {
				if l.Rel == "" || l.Rel == "alternate" {
					link = l.Href
					break
				}
			}
			summary := e.Summary
			if summary == "" {
				summary = e.Content
			}
			entries = append(entries, entry{
				title:     e.Title,
				link:      link,
				summary:   summary,
				published: parseTime(e.Updated),
			})
		}
		return entries, nil
	}

	return nil, fmt.Errorf("unrecognized feed format")
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339, "Mon, 2 Jan 2006 15:04:05 -0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
