// Package extract pulls contact signals out of fetched pages: company name,
// email addresses, phone numbers, and social profile links. It is the
// downstream consumer of fetched bodies and never touches the network.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxItems caps each collected list so a pathological page cannot balloon a
// lead row.
const maxItems = 25

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// phoneRe is deliberately conservative: an optional +, then 10-17
	// characters of digits and common separators. Candidates are re-checked
	// by digit count before they are accepted.
	phoneRe = regexp.MustCompile(`\+?\d[\d\s().\-]{8,16}\d`)

	// fileSuffixes are regex matches that are almost always asset names, not
	// addresses (image@2x.png and friends).
	fileSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".css", ".js"}

	// socialHosts are the profile hosts worth keeping on a lead.
	socialHosts = map[string]struct{}{
		"linkedin.com":  {},
		"twitter.com":   {},
		"x.com":         {},
		"facebook.com":  {},
		"instagram.com": {},
		"youtube.com":   {},
		"github.com":    {},
		"tiktok.com":    {},
	}

	// sharePathPrefixes mark share/intent URLs that point back at the page,
	// not at a profile.
	sharePathPrefixes = []string{"/share", "/sharer", "/intent"}
)

// Contact is the extraction result for one page.
type Contact struct {
	Company string
	Emails  []string
	Phones  []string
	Social  []string
}

// Empty reports whether nothing was extracted.
func (c Contact) Empty() bool {
	return c.Company == "" && len(c.Emails) == 0 && len(c.Phones) == 0 && len(c.Social) == 0
}

// Extractor parses HTML bodies with goquery. The zero value is not usable;
// build one with New.
type Extractor struct {
	maxBytes int64
}

// New builds an Extractor that reads at most maxBytes of each body
// (0 disables the bound).
func New(maxBytes int64) *Extractor {
	return &Extractor{maxBytes: maxBytes}
}

// Extract parses body and gathers contact signals. finalURL anchors relative
// links; extraction works on whatever markup is present and only fails when
// the document cannot be parsed at all.
func (e *Extractor) Extract(body []byte, finalURL string) (Contact, error) {
	if e.maxBytes > 0 && int64(len(body)) > e.maxBytes {
		body = body[:e.maxBytes]
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Contact{}, fmt.Errorf("parse html: %w", err)
	}

	base, _ := url.Parse(finalURL)

	return Contact{
		Company: companyName(doc),
		Emails:  collectEmails(doc),
		Phones:  collectPhones(doc),
		Social:  collectSocial(doc, base),
	}, nil
}

// companyName prefers the og:site_name meta tag and falls back to <title>.
func companyName(doc *goquery.Document) string {
	if name, ok := doc.Find(`meta[property="og:site_name"]`).Attr("content"); ok {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func collectEmails(doc *goquery.Document) []string {
	var (
		emails []string
		seen   = make(map[string]struct{})
	)
	add := func(candidate string) {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate == "" || !emailRe.MatchString(candidate) {
			return
		}
		for _, suffix := range fileSuffixes {
			if strings.HasSuffix(candidate, suffix) {
				return
			}
		}
		emails = appendUnique(emails, seen, candidate)
	}

	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(href, '?'); i >= 0 {
			href = href[:i]
		}
		for _, addr := range strings.Split(href, ",") {
			if unescaped, err := url.QueryUnescape(addr); err == nil {
				addr = unescaped
			}
			add(addr)
		}
	})
	for _, match := range emailRe.FindAllString(doc.Text(), -1) {
		add(match)
	}
	return emails
}

func collectPhones(doc *goquery.Document) []string {
	var (
		phones []string
		seen   = make(map[string]struct{})
	)
	add := func(candidate string) {
		normalized, ok := normalizePhone(candidate)
		if !ok {
			return
		}
		phones = appendUnique(phones, seen, normalized)
	}

	doc.Find(`a[href^="tel:"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimPrefix(href, "tel:")
		if unescaped, err := url.PathUnescape(href); err == nil {
			href = unescaped
		}
		add(href)
	})
	for _, match := range phoneRe.FindAllString(doc.Text(), -1) {
		add(match)
	}
	return phones
}

// normalizePhone strips separators and keeps candidates with a plausible
// digit count (10-15, E.164's upper bound).
func normalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	normalized := b.String()
	digits := strings.TrimPrefix(normalized, "+")
	if len(digits) < 10 || len(digits) > 15 {
		return "", false
	}
	return normalized, true
}

func collectSocial(doc *goquery.Document, base *url.URL) []string {
	var (
		links []string
		seen  = make(map[string]struct{})
	)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		parsed, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		if base != nil {
			parsed = base.ResolveReference(parsed)
		}
		host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
		if _, ok := socialHosts[host]; !ok {
			return
		}
		for _, prefix := range sharePathPrefixes {
			if strings.HasPrefix(parsed.Path, prefix) {
				return
			}
		}
		parsed.Fragment = ""
		links = appendUnique(links, seen, parsed.String())
	})
	return links
}

func appendUnique(list []string, seen map[string]struct{}, value string) []string {
	if _, dup := seen[value]; dup || len(list) >= maxItems {
		return list
	}
	seen[value] = struct{}{}
	return append(list, value)
}
