// Package attention estimates how much public discussion a media file
// has already received. Each configured source answers "how many results
// does a search for this filename return", and the weighted sum of the
// counts becomes the attention score. Counts are best-effort estimates;
// a source that cannot be reached contributes zero rather than failing
// the item.
package attention

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"dredge/pkg/config"
	"dredge/pkg/errors"
	"dredge/pkg/fetch"
	"dredge/pkg/logger"
)

// Estimate is the scored result for one query.
type Estimate struct {
	// Score is the weighted sum of all source counts, rounded to two
	// decimal places.
	Score float64
	// Underreported is true when the score falls below the configured
	// threshold.
	Underreported bool
	// Counts holds the raw per-source result counts.
	Counts map[string]int
}

// Estimator queries every configured source through the fetch client.
type Estimator struct {
	cfg     config.AttentionConfig
	client  *fetch.Client
	sources []source
	logger  logger.Logger
}

type source struct {
	cfg config.AttentionSourceConfig
	rx  *regexp.Regexp
}

// NewEstimator builds an estimator, compiling any result regexes up
// front so bad patterns fail at startup rather than mid-stage.
func NewEstimator(cfg config.AttentionConfig, client *fetch.Client, log logger.Logger) (*Estimator, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	sources := make([]source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		s := source{cfg: sc}
		if sc.ResultRegex != "" {
			rx, err := regexp.Compile(sc.ResultRegex)
			if err != nil {
				return nil, errors.Wrap(errors.ErrorTypeConfig,
					fmt.Sprintf("compiling result regex for source %q", sc.Name), err)
			}
			s.rx = rx
		}
		sources = append(sources, s)
	}

	return &Estimator{
		cfg:     cfg,
		client:  client,
		sources: sources,
		logger:  log,
	}, nil
}

// Enabled reports whether any mention sources are configured.
func (e *Estimator) Enabled() bool {
	return len(e.sources) > 0
}

// Estimate queries all sources for the given term and scores the
// combined counts. Source failures are logged and counted as zero; only
// a cancelled context aborts the estimate.
func (e *Estimator) Estimate(ctx context.Context, query string) (*Estimate, error) {
	counts := make(map[string]int, len(e.sources))
	var score float64

	for _, src := range e.sources {
		count, err := e.count(ctx, src, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.WithFields(map[string]interface{}{
				"source": src.cfg.Name,
				"query":  query,
				"error":  err.Error(),
			}).Warn("Mention source failed, counting zero")
			count = 0
		}
		counts[src.cfg.Name] = count
		score += float64(count) * src.cfg.Weight
	}

	score = math.Round(score*100) / 100
	return &Estimate{
		Score:         score,
		Underreported: score < e.cfg.UnderreportedThreshold,
		Counts:        counts,
	}, nil
}

// count runs one source query and extracts the result count.
func (e *Estimator) count(ctx context.Context, src source, query string) (int, error) {
	target := fmt.Sprintf(src.cfg.URLTemplate, url.QueryEscape(query))

	accept := "text/html"
	if src.cfg.Kind == config.SourceKindJSONList {
		accept = "application/json"
	}

	res, err := e.client.Do(ctx, fetch.Request{
		URL:         target,
		ResourceKey: src.cfg.ResourceKey,
		Accept:      accept,
	})
	if err != nil {
		return 0, err
	}

	switch src.cfg.Kind {
	case config.SourceKindJSONList:
		return countJSONPath(res.Body, src.cfg.CountPath)
	case config.SourceKindSelectorCount:
		return countSelector(res.Body, src.cfg.CountSelector, src.rx)
	default:
		return 0, errors.Newf(errors.ErrorTypeConfig, "unknown source kind %q", src.cfg.Kind)
	}
}

// countJSONPath walks a dotted path through the decoded JSON document
// and counts the value it lands on: the length of an array, or a bare
// number taken as the count itself.
func countJSONPath(body []byte, path string) (int, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, errors.Wrap(errors.ErrorTypePermanent, "parsing source JSON", err)
	}

	node := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := node.(map[string]interface{})
		if !ok {
			return 0, errors.Newf(errors.ErrorTypePermanent, "count path %q does not match response", path)
		}
		node, ok = obj[part]
		if !ok {
			return 0, errors.Newf(errors.ErrorTypePermanent, "count path %q missing key %q", path, part)
		}
	}

	switch v := node.(type) {
	case []interface{}:
		return len(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, errors.Newf(errors.ErrorTypePermanent, "count path %q is neither list nor number", path)
	}
}

// countSelector counts matching elements in the HTML, or, when a regex
// is configured, pulls the count out of the first match's text. Search
// pages tend to render "About 1,234 results" rather than exposing a
// machine count, hence the digit scrape.
func countSelector(body []byte, selector string, rx *regexp.Regexp) (int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, errors.Wrap(errors.ErrorTypePermanent, "parsing source HTML", err)
	}

	sel := doc.Find(selector)
	if rx == nil {
		return sel.Length(), nil
	}
	if sel.Length() == 0 {
		return 0, nil
	}

	match := rx.FindStringSubmatch(sel.First().Text())
	if match == nil {
		return 0, nil
	}
	text := match[0]
	if len(match) > 1 {
		text = match[1]
	}

	digits := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, errors.Wrap(errors.ErrorTypePermanent,
			fmt.Sprintf("result text %q is not a count", text), err)
	}
	return n, nil
}
