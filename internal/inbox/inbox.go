// Package inbox polls the inbound mailbox for review replies.
package inbox

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomail "github.com/emersion/go-message/mail"

	"github.com/mkwei/inkpress/internal/config"
)

// ErrTransport marks mail-fetch failures. An empty mailbox is success,
// never an error.
var ErrTransport = errors.New("mail fetch failed")

// maxBatch bounds how many unseen messages one poll retrieves.
const maxBatch = 10

// Message is one retrieved inbound mail, reduced to the fields the
// review loop needs.
type Message struct {
	ID      string
	Subject string
	From    string
	Date    time.Time
	Body    string
}

// Poller fetches unseen messages from an IMAP mailbox. Each Poll dials a
// fresh connection with a bounded timeout; no connection state is kept
// between polls.
type Poller struct {
	cfg       config.IMAPConfig
	allowFrom []string
	subjectKw []string
	timeout   time.Duration
	converter *md.Converter
}

// NewPoller creates a poller. subjectKeywords and allowFrom drive the
// IsReviewReply classifier.
func NewPoller(cfg config.IMAPConfig, subjectKeywords, allowFrom []string) *Poller {
	return &Poller{
		cfg:       cfg,
		allowFrom: allowFrom,
		subjectKw: subjectKeywords,
		timeout:   15 * time.Second,
		converter: md.NewConverter("", true, nil),
	}
}

// Poll retrieves unseen messages, newest bounded to maxBatch. Fetching
// marks messages seen on the server, which is the only mailbox mutation
// polling causes.
func (p *Poller) Poll() ([]Message, error) {
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	dialer := &net.Dialer{Timeout: p.timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: p.cfg.Host})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, addr, err)
	}
	conn.SetDeadline(time.Now().Add(p.timeout))

	client := imapclient.New(conn, nil)
	defer client.Close()

	if err := client.Login(p.cfg.User, p.cfg.Pass).Wait(); err != nil {
		return nil, fmt.Errorf("%w: login: %v", ErrTransport, err)
	}

	mailbox := p.cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := client.Select(mailbox, nil).Wait(); err != nil {
		return nil, fmt.Errorf("%w: select %s: %v", ErrTransport, mailbox, err)
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrTransport, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		client.Logout().Wait()
		return nil, nil
	}
	if len(uids) > maxBatch {
		uids = uids[len(uids)-maxBatch:]
	}

	var uidSet imap.UIDSet
	uidSet.AddNum(uids...)

	section := &imap.FetchItemBodySection{}
	fetched, err := client.Fetch(uidSet, &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch: %v", ErrTransport, err)
	}

	var messages []Message
	for _, buf := range fetched {
		msg := Message{ID: fmt.Sprintf("uid:%d", buf.UID)}
		if env := buf.Envelope; env != nil {
			msg.Subject = env.Subject
			msg.Date = env.Date
			if env.MessageID != "" {
				msg.ID = env.MessageID
			}
			if len(env.From) > 0 {
				msg.From = env.From[0].Addr()
			}
		}
		msg.Body = p.extractBody(buf.FindBodySection(section))
		messages = append(messages, msg)
	}

	client.Logout().Wait()
	return messages, nil
}

// extractBody walks the MIME structure for a plain-text part, falling
// back to converted HTML when none exists.
func (p *Poller) extractBody(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Not parseable as MIME; treat the payload as plain text.
		return string(raw)
	}

	var htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("[inbox] skipping unreadable part: %v", err)
			break
		}

		header, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := header.ContentType()
		switch contentType {
		case "text/plain":
			body, _ := io.ReadAll(part.Body)
			return string(body)
		case "text/html":
			if htmlBody == "" {
				body, _ := io.ReadAll(part.Body)
				htmlBody = string(body)
			}
		}
	}

	if htmlBody == "" {
		return ""
	}
	text, err := p.converter.ConvertString(htmlBody)
	if err != nil {
		log.Printf("[inbox] html conversion failed: %v", err)
		return htmlBody
	}
	return text
}

// IsReviewReply reports whether a message plausibly answers a review
// request: its subject carries a review keyword, or its sender matches a
// configured allow-list fragment. Deliberately permissive; a false
// positive just parses to an unknown instruction downstream.
func (p *Poller) IsReviewReply(msg Message) bool {
	subject := strings.ToLower(msg.Subject)
	for _, kw := range p.subjectKw {
		if kw != "" && strings.Contains(subject, kw) {
			return true
		}
	}

	from := strings.ToLower(msg.From)
	for _, fragment := range p.allowFrom {
		if fragment != "" && strings.Contains(from, strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}
