package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.Generation.CandidateCount != 3 {
		t.Fatalf("candidate count = %d, want 3", cfg.Generation.CandidateCount)
	}
	if cfg.Review.CheckIntervalMinutes != 5 || cfg.Review.ExpiryHours != 24 {
		t.Fatalf("review defaults: %+v", cfg.Review)
	}
	if cfg.Pipeline.DailyTime != "08:00" || cfg.Pipeline.Timezone != "Asia/Shanghai" {
		t.Fatalf("pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Publisher.Command != "wenyan" {
		t.Fatalf("publisher command = %q", cfg.Publisher.Command)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = 1

[store]
db_path = "/tmp/inkpress-test/test.db"

[smtp]
host = "smtp.example.com"
port = 465
user = "bot@example.com"
pass = "secret"
from_address = "bot@example.com"
ssl = true

[review]
recipient = "op@example.com"
expiry_hours = 12
allow_from = ["op@example.com"]

[generation]
provider = "anthropic"
api_key = "sk-test"
candidate_count = 2

[pipeline]
topic = "AI 编程助手"
keywords = ["copilot", "llm"]

[[feeds]]
name = "hn"
url = "https://news.ycombinator.com/rss"
weight = 3
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.SMTP.Host != "smtp.example.com" || !cfg.SMTP.SSL {
		t.Fatalf("smtp = %+v", cfg.SMTP)
	}
	if cfg.Review.Recipient != "op@example.com" || cfg.Review.ExpiryHours != 12 {
		t.Fatalf("review = %+v", cfg.Review)
	}
	if cfg.Generation.CandidateCount != 2 {
		t.Fatalf("candidate count = %d", cfg.Generation.CandidateCount)
	}
	if len(cfg.Feeds) != 1 || cfg.Feeds[0].Weight != 3 {
		t.Fatalf("feeds = %+v", cfg.Feeds)
	}
	if len(cfg.Pipeline.Keywords) != 2 {
		t.Fatalf("keywords = %v", cfg.Pipeline.Keywords)
	}

	// Explicit db_path kept, empty siblings filled in.
	if cfg.Store.DBPath != "/tmp/inkpress-test/test.db" {
		t.Fatalf("db path overridden: %q", cfg.Store.DBPath)
	}
	if cfg.Store.OutputDir == "" || cfg.Store.OutboxDir == "" {
		t.Fatalf("paths not filled: %+v", cfg.Store)
	}
}

func TestLoadFileMissing(t *testing.T) {
	t.Parallel()

	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("want error for missing file")
	}
}
