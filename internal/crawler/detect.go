package crawler

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// defaultCaptchaScanWindow is how many leading bytes of a body are scanned
// for challenge markers. Challenge pages announce themselves early.
const defaultCaptchaScanWindow = 2000

// DetectCaptcha reports whether the leading window bytes of body contain any
// of the configured challenge markers. Matching is case-insensitive; a
// non-positive window falls back to the default.
func DetectCaptcha(body []byte, markers []string, window int) bool {
	if len(body) == 0 || len(markers) == 0 {
		return false
	}
	if window <= 0 {
		window = defaultCaptchaScanWindow
	}
	scan := body
	if len(scan) > window {
		scan = scan[:window]
	}
	haystack := strings.ToLower(string(scan))
	for _, marker := range markers {
		if marker == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// renderMinTextBytes is the visible-text threshold below which a
// script-driven page is presumed to need a browser.
const renderMinTextBytes = 200

// appShellSelectors are mount points of common client-side frameworks. An
// empty mount point in an otherwise text-poor page means the content arrives
// via JavaScript.
var appShellSelectors = []string{"#root", "#app", "#__next", "#___gatsby"}

// NeedsRendering inspects a light-fetched HTML body and reports whether the
// page likely requires JavaScript execution to produce its content.
// Unparseable bodies report false so plain-text and binary responses are
// never escalated.
func NeedsRendering(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	text := strings.TrimSpace(doc.Find("body").Text())
	if len(text) >= renderMinTextBytes {
		return false
	}
	for _, sel := range appShellSelectors {
		node := doc.Find(sel)
		if node.Length() > 0 && strings.TrimSpace(node.Text()) == "" {
			return true
		}
	}
	if doc.Find("noscript").Length() > 0 {
		return true
	}
	return doc.Find("script").Length() > 0
}
