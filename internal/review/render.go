package review

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/mkwei/inkpress/internal/store"
)

var digestTmpl = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: -apple-system, 'Helvetica Neue', sans-serif; max-width: 720px; margin: 0 auto; padding: 16px; color: #222;">
<h2 style="border-bottom: 2px solid #4a6fa5; padding-bottom: 8px;">{{.Date}} 候选文章 · {{.Topic}}</h2>
{{range .Candidates}}
<div style="margin: 20px 0; padding: 14px; border: 1px solid #ddd; border-radius: 6px;">
  <h3 style="margin: 0 0 6px 0;">候选 {{.Position}}：{{.Topic}}</h3>
  <p style="margin: 4px 0; color: #666; font-size: 13px;">角度：{{.Angle}} · 质量 {{printf "%.1f" .QualityScore}} · 新意 {{printf "%.1f" .UniquenessScore}} · {{.WordCount}} 字</p>
  <p style="white-space: pre-wrap; line-height: 1.6;">{{.Preview}}</p>
</div>
{{end}}
<div style="margin-top: 24px; padding: 12px; background: #f5f7fa; border-radius: 6px; font-size: 13px; color: #555;">
  <p style="margin: 0 0 6px 0;"><strong>直接回复本邮件即可，例如：</strong></p>
  <p style="margin: 2px 0;">发布 2 &nbsp;·&nbsp; 重新生成，方向：更多实战案例 &nbsp;·&nbsp; 修改 1 开头太平淡 &nbsp;·&nbsp; 查看 3 &nbsp;·&nbsp; 跳过</p>
</div>
</body>
</html>`))

var candidateTmpl = template.Must(template.New("candidate").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: -apple-system, 'Helvetica Neue', sans-serif; max-width: 720px; margin: 0 auto; padding: 16px; color: #222;">
<h2>候选 {{.Position}}：{{.Topic}}</h2>
<p style="color: #666; font-size: 13px;">{{if .Feedback}}已按以下意见修改：{{.Feedback}}{{else}}角度：{{.Angle}}{{end}}</p>
<div style="white-space: pre-wrap; line-height: 1.7;">{{.Content}}</div>
<div style="margin-top: 24px; padding: 12px; background: #f5f7fa; border-radius: 6px; font-size: 13px; color: #555;">
  回复「发布 {{.Position}}」采用本稿，或继续回复修改意见。
</div>
</body>
</html>`))

type digestData struct {
	Date       string
	Topic      string
	Candidates []digestCandidate
}

type digestCandidate struct {
	Position        int
	Topic           string
	Angle           string
	QualityScore    float64
	UniquenessScore float64
	WordCount       int
	Preview         string
}

type candidateData struct {
	Position int
	Topic    string
	Angle    string
	Content  string
	Feedback string
}

func renderDigestHTML(cycle *store.Cycle, previewChars int) string {
	data := digestData{Date: formatDate(cycle.Date), Topic: cycle.Topic}
	for _, c := range cycle.Candidates {
		data.Candidates = append(data.Candidates, digestCandidate{
			Position:        c.Position,
			Topic:           c.Topic,
			Angle:           c.Angle,
			QualityScore:    c.QualityScore,
			UniquenessScore: c.UniquenessScore,
			WordCount:       c.WordCount,
			Preview:         preview(c.Content, previewChars),
		})
	}

	var b strings.Builder
	if err := digestTmpl.Execute(&b, data); err != nil {
		return renderDigestPlain(cycle, previewChars)
	}
	return b.String()
}

func renderDigestPlain(cycle *store.Cycle, previewChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s 候选文章 · %s\n\n", formatDate(cycle.Date), cycle.Topic)
	for _, c := range cycle.Candidates {
		fmt.Fprintf(&b, "── 候选 %d：%s ──\n", c.Position, c.Topic)
		fmt.Fprintf(&b, "角度：%s · 质量 %.1f · 新意 %.1f · %d 字\n\n", c.Angle, c.QualityScore, c.UniquenessScore, c.WordCount)
		b.WriteString(preview(c.Content, previewChars))
		b.WriteString("\n\n")
	}
	b.WriteString("直接回复本邮件即可，例如：\n")
	b.WriteString("发布 2 · 重新生成，方向：更多实战案例 · 修改 1 开头太平淡 · 查看 3 · 跳过\n")
	return b.String()
}

func renderCandidateHTML(c *store.Candidate) string {
	return renderCandidateWith(c, "")
}

func renderRevisionHTML(c *store.Candidate, feedback string) string {
	return renderCandidateWith(c, feedback)
}

func renderCandidateWith(c *store.Candidate, feedback string) string {
	data := candidateData{
		Position: c.Position,
		Topic:    c.Topic,
		Angle:    c.Angle,
		Content:  c.Content,
		Feedback: feedback,
	}
	var b strings.Builder
	if err := candidateTmpl.Execute(&b, data); err != nil {
		return renderCandidatePlain(c)
	}
	return b.String()
}

func renderCandidatePlain(c *store.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "候选 %d：%s\n角度：%s\n\n%s\n\n回复「发布 %d」采用本稿。\n", c.Position, c.Topic, c.Angle, c.Content, c.Position)
	return b.String()
}

func renderRevisionPlain(c *store.Candidate, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "候选 %d 修改稿：%s\n已按以下意见修改：%s\n\n%s\n\n回复「发布 %d」采用本稿，或继续回复修改意见。\n", c.Position, c.Topic, feedback, c.Content, c.Position)
	return b.String()
}
