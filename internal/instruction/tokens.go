package instruction

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tokens holds the phrase lists the parser matches against. All matching
// is substring containment on the lower-cased body, so entries should be
// lower case. The embedded default covers Chinese and English forms.
type Tokens struct {
	Publish    []string `yaml:"publish"`
	Regenerate []string `yaml:"regenerate"`
	Revise     []string `yaml:"revise"`
	Skip       []string `yaml:"skip"`
	View       []string `yaml:"view"`
	Direction  []string `yaml:"direction"`
	Critique   []string `yaml:"critique"`
	Suggestion []string `yaml:"suggestion"`
	Subject    []string `yaml:"subject"` // review-reply subject classifier keywords
}

//go:embed tokens.yaml
var defaultTokensYAML []byte

// DefaultTokens returns the embedded bilingual token sets.
func DefaultTokens() Tokens {
	var t Tokens
	// The embedded file is compile-time data; a parse failure here is a
	// build defect, not a runtime condition.
	if err := yaml.Unmarshal(defaultTokensYAML, &t); err != nil {
		panic(fmt.Sprintf("instruction: embedded tokens.yaml is invalid: %v", err))
	}
	return t
}

// LoadTokens reads token sets from a YAML file. Lists absent from the
// file keep their embedded defaults, so an override only needs to name
// the sets it changes.
func LoadTokens(path string) (Tokens, error) {
	t := DefaultTokens()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Tokens{}, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Tokens{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return t, nil
}
