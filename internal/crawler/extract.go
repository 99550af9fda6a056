package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// strategy tries one way of reading a field and reports whether it found a value.
type strategy func(doc *goquery.Document) (string, bool)

type listStrategy func(doc *goquery.Document) []string

// Page chrome injected by the archive and non-content nodes.
const chromeSelector = "script, style, noscript, template, #wm-ipp-base, #wm-ipp-print, #donato"

const contactSelector = `.contact, .phone, .clinic-info, [class*="contact"]`

var serviceItemSelectors = []string{
	".clinic-2020-services .featured-posts article",
	".services article",
	".services-list li",
	`[class*="service"] article`,
	`[class*="service"] li`,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true, "tr": true, "td": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"address": true, "section": true, "article": true, "dd": true, "dt": true,
}

// FieldExtractor turns a clinic detail page into a ClinicRecord. Each field
// runs an ordered list of strategies and keeps the first hit.
type FieldExtractor struct {
	name     []strategy
	address  []strategy
	phone    []strategy
	email    []strategy
	services []listStrategy
}

// NewFieldExtractor wires the default strategy pipelines.
func NewFieldExtractor() *FieldExtractor {
	return &FieldExtractor{
		name: []strategy{
			firstText("h1.entry-title"),
			firstText("h1"),
			firstText(".clinic-name"),
			firstText("[itemprop=name]"),
		},
		address: []strategy{
			iconStrippedText(".address"),
			firstText("[itemprop=address]"),
			firstText("address"),
			labeledValue("address"),
		},
		phone: []strategy{
			telAnchor(`a.rose-button[href^="tel:"]`),
			telAnchor(`a[href^="tel:"]`),
			phoneIn(contactSelector),
			phoneIn("body"),
		},
		email: []strategy{
			mailtoAnchor,
			cloudflareEmail,
			emailIn(contactSelector),
			emailIn("body"),
		},
		services: []listStrategy{
			serviceItems,
			labeledList("services", "our services"),
		},
	}
}

// Extract reads one clinic page. Only a missing name is a failure; every
// other field is best-effort and may be empty.
func (e *FieldExtractor) Extract(body []byte, pageURL, region string) (ClinicRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ClinicRecord{}, fmt.Errorf("%w: %s: %w", ErrParseFailure, pageURL, err)
	}
	doc.Find(chromeSelector).Remove()

	name := run(doc, e.name)
	if name == "" {
		return ClinicRecord{}, fmt.Errorf("%w: %w", ErrParseFailure, ErrMissingName)
	}

	record := ClinicRecord{
		Region:   CollapseWhitespace(region),
		Name:     name,
		Address:  run(doc, e.address),
		Phone:    NormalizePhone(run(doc, e.phone)),
		Email:    NormalizeEmail(run(doc, e.email)),
		Services: []string{},
		URL:      pageURL,
	}
	for _, s := range e.services {
		if items := s(doc); len(items) > 0 {
			record.Services = items
			break
		}
	}
	return record, nil
}

func run(doc *goquery.Document, strategies []strategy) string {
	for _, s := range strategies {
		if v, ok := s(doc); ok {
			if v = CollapseWhitespace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func firstText(selector string) strategy {
	return func(doc *goquery.Document) (string, bool) {
		var out string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			out = nodeText(s, nil)
			return out == ""
		})
		return out, out != ""
	}
}

// iconStrippedText reads an address block without its icon markup and
// without leading bullet punctuation.
func iconStrippedText(selector string) strategy {
	skip := map[string]bool{"i": true, "svg": true, "span": true}
	return func(doc *goquery.Document) (string, bool) {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			return "", false
		}
		text := strings.TrimLeftFunc(nodeText(sel, skip), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		return text, text != ""
	}
}

// labeledValue finds an element whose own text is the label (optionally
// followed by a colon) and returns the text of its next sibling.
func labeledValue(label string) strategy {
	return func(doc *goquery.Document) (string, bool) {
		var out string
		doc.Find("strong, b, dt, th, label, h2, h3, h4, h5, p, span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if !isLabel(s, label) {
				return true
			}
			out = nodeText(s.Next(), nil)
			return out == ""
		})
		return out, out != ""
	}
}

func telAnchor(selector string) strategy {
	return func(doc *goquery.Document) (string, bool) {
		var out string
		doc.Find(selector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if phone, ok := FindPhone(a.Text()); ok {
				out = phone
				return false
			}
			href, _ := a.Attr("href")
			number := strings.TrimPrefix(strings.TrimSpace(href), "tel:")
			if unescaped, err := url.PathUnescape(number); err == nil {
				number = unescaped
			}
			if phone, ok := FindPhone(number); ok {
				out = phone
				return false
			}
			if NormalizePhone(number) != "" {
				out = number
				return false
			}
			return true
		})
		return out, out != ""
	}
}

func phoneIn(selector string) strategy {
	return func(doc *goquery.Document) (string, bool) {
		var out string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			phone, ok := FindPhone(nodeText(s, nil))
			out = phone
			return !ok
		})
		return out, out != ""
	}
}

func mailtoAnchor(doc *goquery.Document) (string, bool) {
	var out string
	doc.Find(`a[href^="mailto:"], a[href^="MAILTO:"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if unescaped, err := url.PathUnescape(href); err == nil {
			href = unescaped
		}
		out = NormalizeEmail(href)
		return out == ""
	})
	return out, out != ""
}

// cloudflareEmail decodes addresses hidden by Cloudflare's email protection,
// which archived pages carry as data-cfemail attributes or protection links.
func cloudflareEmail(doc *goquery.Document) (string, bool) {
	var out string
	doc.Find(`[data-cfemail], a[href*="/cdn-cgi/l/email-protection#"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		encoded, ok := s.Attr("data-cfemail")
		if !ok {
			href, _ := s.Attr("href")
			_, encoded, _ = strings.Cut(href, "#")
		}
		if decoded, ok := decodeCFEmail(encoded); ok {
			out = NormalizeEmail(decoded)
		}
		return out == ""
	})
	return out, out != ""
}

func emailIn(selector string) strategy {
	return func(doc *goquery.Document) (string, bool) {
		var out string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			email, ok := FindEmail(nodeText(s, nil))
			out = email
			return !ok
		})
		return out, out != ""
	}
}

func serviceItems(doc *goquery.Document) []string {
	for _, selector := range serviceItemSelectors {
		if items := itemTexts(doc.Find(selector)); len(items) > 0 {
			return items
		}
	}
	return nil
}

// labeledList reads the first list following a heading such as "Our Services".
func labeledList(labels ...string) listStrategy {
	return func(doc *goquery.Document) []string {
		var out []string
		doc.Find("h2, h3, h4, h5, strong").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			for _, label := range labels {
				if isLabel(s, label) {
					out = itemTexts(s.NextAllFiltered("ul, ol").First().Find("li"))
					break
				}
			}
			return len(out) == 0
		})
		return out
	}
}

// itemTexts prefers each item's heading over its full text, dropping empty
// and repeated entries while keeping display order.
func itemTexts(items *goquery.Selection) []string {
	var out []string
	seen := make(map[string]struct{})
	items.Each(func(_ int, item *goquery.Selection) {
		text := nodeText(item.Find("h2, h3, h4").First(), nil)
		if text == "" {
			text = nodeText(item, nil)
		}
		if text == "" {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		out = append(out, text)
	})
	return out
}

func isLabel(s *goquery.Selection, label string) bool {
	text := strings.TrimSuffix(CollapseWhitespace(s.Text()), ":")
	return strings.EqualFold(strings.TrimSpace(text), label)
}

// nodeText renders the text of sel with line breaks and block boundaries as
// spaces, omitting elements named in skip, and collapses whitespace.
func nodeText(sel *goquery.Selection, skip map[string]bool) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		writeText(&b, n, skip)
	}
	return CollapseWhitespace(b.String())
}

func writeText(b *strings.Builder, n *html.Node, skip map[string]bool) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skip[n.Data] {
			return
		}
		if n.Data == "br" {
			b.WriteByte(' ')
			return
		}
	case html.CommentNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c, skip)
	}
	if n.Type == html.ElementNode && blockElements[n.Data] {
		b.WriteByte(' ')
	}
}
