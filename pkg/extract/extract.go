// Package extract finds media URLs in a rendered page snapshot and filters
// them against a per-page SeenSet so each URL is reported once.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	mgerrors "mediagrab/pkg/errors"
	"mediagrab/pkg/models"
)

// DefaultCardSelector matches one media card on the board layout.
const DefaultCardSelector = `[data-test-id="pin"]`

// CurrentSrcAttr is set on img and video elements by the page snapshot to
// expose the browser-resolved currentSrc, which is not part of the markup.
const CurrentSrcAttr = "data-current-src"

// Snapshot is the serialized DOM of a page plus the URL relative links resolve against
type Snapshot struct {
	HTML    string
	BaseURL string
}

// Snapshotter captures the current page state
type Snapshotter interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// HTMLExtractor reports media URLs not yet in its SeenSet
type HTMLExtractor struct {
	source   Snapshotter
	seen     *SeenSet
	selector string
}

// NewHTMLExtractor creates an extractor over source. An empty selector uses DefaultCardSelector.
func NewHTMLExtractor(source Snapshotter, seen *SeenSet, selector string) *HTMLExtractor {
	if seen == nil {
		seen = NewSeenSet()
	}
	if selector == "" {
		selector = DefaultCardSelector
	}
	return &HTMLExtractor{source: source, seen: seen, selector: selector}
}

// Seen exposes the extractor's memory
func (e *HTMLExtractor) Seen() *SeenSet {
	return e.seen
}

// Extract snapshots the page and returns the URLs seen for the first time.
func (e *HTMLExtractor) Extract(ctx context.Context) (models.Result, error) {
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return models.Result{}, mgerrors.New(mgerrors.ErrorTypeExtraction, "snapshot page", err)
	}

	found, err := Parse(snap, e.selector)
	if err != nil {
		return models.Result{}, err
	}

	var fresh models.Result
	for _, u := range found.Images {
		if e.seen.Add(models.KindImage, u) {
			fresh.Images = append(fresh.Images, u)
		}
	}
	for _, u := range found.Videos {
		if e.seen.Add(models.KindVideo, u) {
			fresh.Videos = append(fresh.Videos, u)
		}
	}
	return fresh, nil
}

// Parse returns one image and one video URL per card, in document order,
// without consulting any SeenSet.
func Parse(snap Snapshot, selector string) (models.Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return models.Result{}, mgerrors.New(mgerrors.ErrorTypeExtraction, "parse page", fmt.Errorf("failed to parse snapshot: %w", err))
	}
	base, _ := url.Parse(snap.BaseURL)

	var result models.Result
	doc.Find(selector).Each(func(_ int, card *goquery.Selection) {
		if img := card.Find("img").First(); img.Length() > 0 {
			srcset, _ := img.Attr("srcset")
			best := BestFromSrcset(srcset, base)
			if best == "" {
				best = resolve(base, currentSrc(img))
			}
			if best != "" {
				result.Images = append(result.Images, best)
			}
		}
		if vid := card.Find("video").First(); vid.Length() > 0 {
			if v := resolve(base, currentSrc(vid)); v != "" {
				result.Videos = append(result.Videos, v)
			}
		}
	})
	return result, nil
}

func currentSrc(s *goquery.Selection) string {
	if v, ok := s.Attr(CurrentSrcAttr); ok && strings.TrimSpace(v) != "" {
		return v
	}
	v, _ := s.Attr("src")
	return v
}

var srcsetCandidate = regexp.MustCompile(`(?i)^(\S+)\s+(\d+)(x|w)$`)

// BestFromSrcset picks the preferred variant from a srcset attribute: an
// "/originals/" URL if present, else the largest descriptor, else the first
// entry when no entry carries a descriptor.
func BestFromSrcset(srcset string, base *url.URL) string {
	var parts []string
	for _, p := range strings.Split(srcset, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ""
	}

	type candidate struct {
		url string
		n   int
	}
	var candidates []candidate
	for _, p := range parts {
		m := srcsetCandidate.FindStringSubmatch(p)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[2])
		candidates = append(candidates, candidate{url: m[1], n: n})
	}

	if len(candidates) == 0 {
		return resolve(base, strings.Fields(parts[0])[0])
	}
	for _, c := range candidates {
		if strings.Contains(c.url, "/originals/") {
			return resolve(base, c.url)
		}
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.n > best.n {
			best = c
		}
	}
	return resolve(base, best.url)
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(strings.ToLower(ref), "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u.String()
}
