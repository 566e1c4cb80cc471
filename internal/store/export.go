package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExportCandidates writes each candidate of a cycle to a markdown file
// with a small frontmatter block, under <outputDir>/<date>/candidate_N.md.
// The exported files are what the external publishing tool consumes.
// Returns the paths in candidate order.
func ExportCandidates(outputDir string, cycle *Cycle) ([]string, error) {
	dir := filepath.Join(outputDir, cycle.Date)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(cycle.Candidates))
	for i := range cycle.Candidates {
		c := &cycle.Candidates[i]
		path := filepath.Join(dir, fmt.Sprintf("candidate_%d.md", c.Position))
		if err := writeCandidateFile(path, c); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ExportCandidate writes a single candidate, overwriting any previous
// export for that position.
func ExportCandidate(outputDir, cycleDate string, c *Candidate) (string, error) {
	dir := filepath.Join(outputDir, cycleDate)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("candidate_%d.md", c.Position))
	if err := writeCandidateFile(path, c); err != nil {
		return "", err
	}
	return path, nil
}

func writeCandidateFile(path string, c *Candidate) error {
	var b strings.Builder
	// Frontmatter values are single-line; strip quotes that would break it.
	title := strings.NewReplacer("\"", "", "'", "", "\n", " ").Replace(c.Topic)

	b.WriteString("---\n")
	b.WriteString(fmt.Sprintf("title: %s\n", title))
	b.WriteString(fmt.Sprintf("type: %s\n", c.Angle))
	b.WriteString(fmt.Sprintf("quality_score: %.1f\n", c.QualityScore))
	b.WriteString("---\n\n")
	b.WriteString(c.Content)
	if !strings.HasSuffix(c.Content, "\n") {
		b.WriteString("\n")
	}

	// Write to a temp file and rename so a crash never leaves a partial
	// export behind.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
