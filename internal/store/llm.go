package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// LLMExchange represents a prompt/response pair for caching
type LLMExchange struct {
	Timestamp time.Time `json:"timestamp"`
	CycleDate string    `json:"cycle_date"`
	Stage     string    `json:"stage"` // e.g. "candidate", "revise", "topic"
	Model     string    `json:"model"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Error     string    `json:"error,omitempty"`
}

// SaveLLMExchange serializes an LLM exchange to JSON and writes it to a
// timestamped file under dir. Returns the path to the saved file. Both the
// generation audit trail and prompt debugging read these files.
func SaveLLMExchange(dir string, exchange LLMExchange) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	// Dashes instead of colons for filesystem compatibility
	filename := exchange.Timestamp.Format("2006-01-02T15-04-05.000") + ".json"
	path := filepath.Join(dir, filename)

	data, err := json.MarshalIndent(exchange, "", "  ")
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}

	return path, nil
}
