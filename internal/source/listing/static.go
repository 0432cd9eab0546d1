package listing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/mwirth/immoharvest/internal/config"
	"github.com/mwirth/immoharvest/internal/domain"
	"github.com/mwirth/immoharvest/internal/source"
)

const staticUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Static fetches server-rendered listing pages over plain HTTP.
type Static struct {
	cfg      config.SourceConfig
	client   *resty.Client
	maxPages int
}

// NewStatic builds a static HTTP adapter for one source.
func NewStatic(cfg config.SourceConfig, harvest *config.HarvestConfig) *Static {
	client := resty.New().
		SetHeader("User-Agent", staticUserAgent).
		SetHeader("Accept-Language", "de-CH,de;q=0.9,en;q=0.8").
		SetTimeout(harvest.PageTimeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))

	return &Static{
		cfg:      cfg,
		client:   client,
		maxPages: harvest.MaxPages,
	}
}

func (s *Static) SourceID() string { return s.cfg.ID }

func (s *Static) DisplayName() string { return s.cfg.ID + " (static)" }

func (s *Static) Seeds() []domain.WorkUnit { return seeds(&s.cfg) }

func (s *Static) Fetch(ctx context.Context, unit domain.WorkUnit) (*source.FetchResult, error) {
	resp, err := s.client.R().SetContext(ctx).Get(unit.Locator)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, source.Transient(source.ErrFetchTimeout)
		}
		return nil, source.Transient(fmt.Errorf("request failed: %w", err))
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusOK:
	case code == http.StatusNotFound || code == http.StatusGone:
		return nil, source.Permanent(fmt.Errorf("%w: status %d", source.ErrNotFound, code))
	default:
		// 403/429/5xx and anything unexpected: the page may come back later.
		return nil, source.Transient(fmt.Errorf("unexpected status %d", code))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, source.Permanent(fmt.Errorf("%w: %v", source.ErrParse, err))
	}

	return buildResult(doc, unit, &s.cfg, s.maxPages)
}

var _ source.Adapter = (*Static)(nil)
