package instruction

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultTokens(t *testing.T) {
	t.Parallel()

	tokens := DefaultTokens()
	for name, list := range map[string][]string{
		"publish":    tokens.Publish,
		"regenerate": tokens.Regenerate,
		"revise":     tokens.Revise,
		"skip":       tokens.Skip,
		"view":       tokens.View,
		"direction":  tokens.Direction,
		"subject":    tokens.Subject,
	} {
		if len(list) == 0 {
			t.Fatalf("embedded %s token list is empty", name)
		}
	}
}

func TestLoadTokensMergesOverDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.yaml")
	override := "publish:\n  - ship it\n"
	if err := os.WriteFile(path, []byte(override), 0600); err != nil {
		t.Fatalf("write override: %v", err)
	}

	tokens, err := LoadTokens(path)
	if err != nil {
		t.Fatalf("LoadTokens: %v", err)
	}
	if len(tokens.Publish) != 1 || tokens.Publish[0] != "ship it" {
		t.Fatalf("publish = %v, want the override only", tokens.Publish)
	}
	// Untouched lists keep the embedded defaults.
	if len(tokens.Skip) == 0 {
		t.Fatal("skip list lost its defaults")
	}
}

func TestLoadTokensMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadTokens(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("want error for missing file")
	}
}
