// Package parser reads RFC 5322 messages uploaded by scan workers and pulls
// out the sender, subject and candidate unsubscribe links.
package parser

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

// Keywords mark the text around an unsubscribe link
var Keywords = []string{
	"unsubscribe",
	"[unsubscribe]",
	"exclude",
	"opt-out",
	"opt out",
	"if you no longer wish to receive this email",
	"subscription",
}

var linkPattern = regexp.MustCompile(`https?://[\w/\-?=%~.]+\.[\w/\-&?=%~]+`)

// Message is the part of a mail message the scan results keep
type Message struct {
	From    string
	Subject string
	Links   []string
}

// Parse reads a message and extracts its unsubscribe links, header links first.
// Links are deduplicated in the order they are found.
func Parse(r io.Reader) (*Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	if mr == nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	msg := &Message{From: from(mr.Header)}
	if msg.Subject, err = mr.Header.Subject(); err != nil {
		msg.Subject = mr.Header.Get("Subject")
	}

	seen := make(map[string]bool)
	add := func(links []string) {
		for _, l := range links {
			if !seen[l] {
				seen[l] = true
				msg.Links = append(msg.Links, l)
			}
		}
	}
	add(HeaderLinks(mr.Header.Get("List-Unsubscribe")))

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("failed to read part: %w", err)
		}
		if p == nil {
			continue
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType != "text/plain" && contentType != "text/html" {
			continue
		}

		body, err := io.ReadAll(p.Body)
		if err != nil {
			logrus.WithError(err).WithField("subject", msg.Subject).Warn("Skipping unreadable message part")
			continue
		}
		if contentType == "text/html" {
			add(HTMLLinks(string(body)))
		} else {
			add(TextLinks(string(body)))
		}
	}

	return msg, nil
}

func from(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	return strings.TrimSpace(h.Get("From"))
}

// HeaderLinks returns the http(s) targets of a List-Unsubscribe header.
// mailto targets are skipped.
func HeaderLinks(header string) []string {
	var links []string
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(strings.Trim(strings.TrimSpace(part), "<>"))
		lower := strings.ToLower(part)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			links = append(links, part)
		}
	}
	return links
}

// TextLinks returns the first link following each keyword in a plain text body
func TextLinks(body string) []string {
	lower := strings.ToLower(body)
	var links []string
	for _, kw := range Keywords {
		idx := strings.Index(lower, kw)
		if idx < 0 {
			continue
		}
		rest := strings.NewReplacer("\r", "", "\n", "").Replace(body[idx:])
		if m := linkPattern.FindString(rest); m != "" && !contains(links, m) {
			links = append(links, m)
		}
	}
	return links
}

// HTMLLinks returns the href of every anchor whose text carries a keyword
func HTMLLinks(body string) []string {
	var (
		links  []string
		href   string
		inLink bool
		text   strings.Builder
	)

	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" {
				continue
			}
			inLink, href = true, ""
			text.Reset()
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) == "href" {
					href = strings.TrimSpace(string(val))
				}
			}
		case html.TextToken:
			if inLink {
				text.Write(z.Text())
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) != "a" || !inLink {
				continue
			}
			inLink = false
			if href != "" && hasKeyword(text.String()) && !contains(links, href) {
				links = append(links, href)
			}
		}
	}
}

func hasKeyword(s string) bool {
	s = strings.ToLower(s)
	for _, kw := range Keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
