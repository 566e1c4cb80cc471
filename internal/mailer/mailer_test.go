package mailer

import (
	"strings"
	"testing"
)

func TestBuildMIME(t *testing.T) {
	t.Parallel()

	msg := Message{
		To:        "op@example.com",
		Subject:   "【审核】20260831 候选文章",
		PlainBody: "发布 2 即可。",
		HTMLBody:  "<p>发布 2 即可。</p>",
		ReplyTo:   "review@example.com",
	}

	raw := BuildMIME("bot@example.com", msg)

	for _, want := range []string{
		"From: bot@example.com\r\n",
		"To: op@example.com\r\n",
		"Reply-To: review@example.com\r\n",
		"Content-Type: multipart/alternative",
		"Content-Type: text/plain",
		"Content-Type: text/html",
		"发布 2 即可。",
		"<p>发布 2 即可。</p>",
		"--boundary42--\r\n",
	} {
		if !strings.Contains(raw, want) {
			t.Fatalf("MIME output missing %q:\n%s", want, raw)
		}
	}

	// Non-ASCII subjects must be encoded-word wrapped.
	if !strings.Contains(raw, "Subject: =?utf-8?") {
		t.Fatalf("subject not Q-encoded:\n%s", raw)
	}
}

func TestBuildMIMEWithoutReplyTo(t *testing.T) {
	t.Parallel()

	raw := BuildMIME("bot@example.com", Message{To: "op@example.com", Subject: "hi", PlainBody: "x"})
	if strings.Contains(raw, "Reply-To:") {
		t.Fatalf("unexpected Reply-To header:\n%s", raw)
	}
}
