// Package listing discovers media files referenced by a remote listing
// page. It extracts links from the fetched HTML, resolves them against
// the page URL, and keeps only those pointing at configured media
// extensions. Ids derived from the resolved URLs are stable across runs.
package listing

import (
	"bytes"
	"context"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"dredge/pkg/config"
	"dredge/pkg/errors"
	"dredge/pkg/fetch"
	"dredge/pkg/logger"
	"dredge/pkg/models"
)

// Source fetches the listing page and turns its media links into
// manifest records.
type Source struct {
	cfg    config.ListingConfig
	client *fetch.Client
	logger logger.Logger
}

// NewSource creates a listing source over a fetch client.
func NewSource(cfg config.ListingConfig, client *fetch.Client, log logger.Logger) *Source {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Source{cfg: cfg, client: client, logger: log}
}

// Discover fetches the listing page and returns one record per media
// link, deduplicated by id, in document order. Discovery timestamps are
// the fetch time; the store keeps the first one it ever saw.
func (s *Source) Discover(ctx context.Context) ([]models.MediaRecord, error) {
	res, err := s.client.Do(ctx, fetch.Request{
		URL:         s.cfg.URL,
		ResourceKey: s.cfg.ResourceKey,
		Accept:      "text/html",
	})
	if err != nil {
		return nil, err
	}

	links, err := ExtractLinks(res.Body, s.pageURL(), s.cfg.MediaExtensions)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make([]models.MediaRecord, 0, len(links))
	for _, link := range links {
		records = append(records, models.MediaRecord{
			ID:           models.DeriveID(link),
			SourceURL:    link,
			Filename:     models.FilenameFromURL(link),
			DiscoveredAt: now,
		})
	}

	s.logger.WithFields(map[string]interface{}{
		"url":   s.cfg.URL,
		"links": len(records),
	}).Info("Listing discovered")

	return records, nil
}

// pageURL prefers the configured base URL for resolving relative links,
// falling back to the listing URL itself.
func (s *Source) pageURL() string {
	if s.cfg.BaseURL != "" {
		return s.cfg.BaseURL
	}
	return s.cfg.URL
}

// ExtractLinks pulls media links out of an HTML document. Both anchor
// hrefs and img/source srcs count; relative references resolve against
// pageURL. The result is deduplicated and keeps document order.
func ExtractLinks(html []byte, pageURL string, extensions []string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypePermanent, "parsing listing URL", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypePermanent, "parsing listing HTML", err)
	}

	wanted := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		wanted[strings.ToLower(ext)] = true
	}

	seen := make(map[string]bool)
	var links []string

	collect := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return
		}
		u, err := base.Parse(ref)
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		if !wanted[strings.ToLower(path.Ext(u.Path))] {
			return
		}
		u.Fragment = ""
		link := u.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			collect(href)
		}
	})
	doc.Find("img[src], source[src]").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			collect(src)
		}
	})

	return links, nil
}
