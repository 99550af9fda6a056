package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/clinic-crawler/internal/config"
)

// Scope selects which classification rules a listing page is read with.
type Scope int

// Listing scopes.
const (
	ScopeRoot Scope = iota
	ScopeRegion
)

func (s Scope) String() string {
	if s == ScopeRoot {
		return "root"
	}
	return "region"
}

// Link is an absolute, fragment-free anchor target and its visible label.
type Link struct {
	Label string
	URL   string
}

// LinkExtractor classifies anchors on root and region listing pages.
type LinkExtractor struct {
	regionSelectors []goquery.Matcher
	clinicSelectors []goquery.Matcher
	anySelector     goquery.Matcher
	regionHref      *regexp.Regexp
	clinicHref      *regexp.Regexp
	clinicExclude   *regexp.Regexp
	ignored         map[string]struct{}
}

// NewLinkExtractor compiles the configured selectors and patterns.
func NewLinkExtractor(cfg config.LinksConfig) (*LinkExtractor, error) {
	regionSelectors, err := compileSelectors(cfg.RegionSelectors)
	if err != nil {
		return nil, err
	}
	clinicSelectors, err := compileSelectors(cfg.ClinicSelectors)
	if err != nil {
		return nil, err
	}
	e := &LinkExtractor{
		regionSelectors: regionSelectors,
		clinicSelectors: clinicSelectors,
		anySelector:     cascadia.MustCompile("a[href]"),
		ignored:         make(map[string]struct{}, len(cfg.IgnoredLabels)),
	}
	if e.regionHref, err = compilePattern("region href", cfg.RegionHrefPattern); err != nil {
		return nil, err
	}
	if e.clinicHref, err = compilePattern("clinic href", cfg.ClinicHrefPattern); err != nil {
		return nil, err
	}
	if e.clinicExclude, err = compilePattern("clinic exclude", cfg.ClinicExcludePattern); err != nil {
		return nil, err
	}
	for _, label := range cfg.IgnoredLabels {
		e.ignored[strings.ToLower(CollapseWhitespace(label))] = struct{}{}
	}
	return e, nil
}

// Extract returns the classified links of page in document order. The first
// configured selector that yields links wins; a broad anchor scan is the
// last resort.
func (e *LinkExtractor) Extract(body []byte, pageURL string, scope Scope) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s page %s: %w", ErrParseFailure, scope, pageURL, err)
	}
	doc.Find(chromeSelector).Remove()
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: page url %q: %w", ErrParseFailure, pageURL, err)
	}

	selectors := e.clinicSelectors
	if scope == ScopeRoot {
		selectors = e.regionSelectors
	}
	for _, sel := range selectors {
		if links := e.collect(doc.FindMatcher(sel), base, scope); len(links) > 0 {
			return links, nil
		}
	}
	return e.collect(doc.FindMatcher(e.anySelector), base, scope), nil
}

func (e *LinkExtractor) collect(anchors *goquery.Selection, base *url.URL, scope Scope) []Link {
	links := []Link{}
	seen := make(map[string]struct{})
	anchors.Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		target, ok := resolveHref(base, href)
		if !ok {
			return
		}
		label := CollapseWhitespace(a.Text())

		switch scope {
		case ScopeRoot:
			if !e.regionHref.MatchString(target.String()) {
				return
			}
			if label == "" {
				label = labelFromPath(target.Path)
			}
		default:
			if !e.isClinic(target.String(), label) {
				return
			}
		}
		if label == "" {
			return
		}
		if _, dup := seen[target.String()]; dup {
			return
		}
		seen[target.String()] = struct{}{}
		links = append(links, Link{Label: label, URL: target.String()})
	})
	return links
}

func (e *LinkExtractor) isClinic(target, label string) bool {
	if !e.clinicHref.MatchString(target) || e.clinicExclude.MatchString(target) {
		return false
	}
	if label == "" {
		return false
	}
	_, ignored := e.ignored[strings.ToLower(label)]
	return !ignored
}

// resolveHref makes href absolute against base and drops its fragment.
func resolveHref(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:"} {
		if strings.HasPrefix(lower, scheme) {
			return nil, false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	target := base.ResolveReference(ref)
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, false
	}
	target.Fragment = ""
	target.RawFragment = ""
	return target, true
}

// labelFromPath turns ".../regions/gold-coast/" into "Gold Coast".
func labelFromPath(p string) string {
	segment := path.Base(strings.TrimRight(p, "/"))
	if segment == "." || segment == "/" {
		return ""
	}
	segment = strings.NewReplacer("-", " ", "_", " ").Replace(segment)
	return cases.Title(language.English).String(CollapseWhitespace(segment))
}

func compileSelectors(raw []string) ([]goquery.Matcher, error) {
	out := make([]goquery.Matcher, 0, len(raw))
	for _, s := range raw {
		sel, err := cascadia.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("%w: selector %q: %w", config.ErrInvalidConfig, s, err)
		}
		out = append(out, sel)
	}
	return out, nil
}

func compilePattern(name, raw string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s pattern %q: %w", config.ErrInvalidConfig, name, raw, err)
	}
	return re, nil
}
