package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/qpd-v/deepwebresearch/internal/content"
)

// ErrNoResults is returned when the results container renders but no
// result tuples can be extracted from it.
var ErrNoResults = errors.New("no search results extracted")

// consentSelectors dismiss cookie/consent interstitials, tried in order.
var consentSelectors = []string{
	`button#L2AGLb`,
	`button[aria-label="Accept all"]`,
	`button[aria-label="Alle akzeptieren"]`,
	`#bnp_btn_accept`,
	`button[id*="accept"]`,
}

// queryInputSelectors locate the search box, in priority order.
var queryInputSelectors = []string{
	`textarea[name="q"]`,
	`input[name="q"]`,
	`input[type="search"]`,
	`#sb_form_q`,
	`input[name="query"]`,
}

// resultsContainerSelectors mark that organic results have rendered.
var resultsContainerSelectors = []string{
	`#search`,
	`#rso`,
	`#b_results`,
	`#links`,
	`#results`,
}

// extractResultsJS scrapes (title, url, snippet) tuples from whichever
// known result layout is present. Returns [] when nothing matches.
const extractResultsJS = `(() => {
  const layouts = [
    {item: '#rso div.g, #search div.g', title: 'h3', link: 'a[href]', snippet: 'div[data-sncf], div[style*="-webkit-line-clamp"], .VwiC3b'},
    {item: '#b_results > li.b_algo', title: 'h2', link: 'h2 a[href]', snippet: '.b_caption p'},
    {item: '#links .result, #results article', title: 'h2, h3', link: 'a[href]', snippet: '.result__snippet, [data-result="snippet"]'},
  ];
  for (const l of layouts) {
    const items = document.querySelectorAll(l.item);
    if (items.length === 0) continue;
    const out = [];
    for (const el of items) {
      const t = el.querySelector(l.title);
      const a = el.querySelector(l.link);
      if (!t || !a || !a.href || !a.href.startsWith('http')) continue;
      const s = el.querySelector(l.snippet);
      out.push({title: t.innerText.trim(), url: a.href, snippet: s ? s.innerText.trim() : ''});
    }
    if (out.length > 0) return out;
  }
  return [];
})()`

// Search runs one query against the search engine inside this session:
// navigate, dismiss any consent interstitial, type the query, submit,
// wait for the results container, scrape tuples.
func (s *Session) Search(ctx context.Context, query string) ([]content.RawSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("empty query")
	}

	tctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-tctx.Done():
		}
	}()

	if err := chromedp.Run(tctx,
		chromedp.Navigate(s.engine),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("open search engine: %w", err)
	}
	s.dismissConsent(tctx)

	input, err := s.firstPresent(tctx, queryInputSelectors)
	if err != nil {
		return nil, fmt.Errorf("locate query input: %w", err)
	}
	if err := chromedp.Run(tctx,
		chromedp.SendKeys(input, query+"\n", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("submit query: %w", err)
	}

	if _, err := s.firstPresent(tctx, resultsContainerSelectors); err != nil {
		return nil, fmt.Errorf("results container: %w", err)
	}

	var raw []content.RawSearchResult
	if err := chromedp.Run(tctx, chromedp.Evaluate(extractResultsJS, &raw)); err != nil {
		return nil, fmt.Errorf("extract results: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoResults
	}
	return raw, nil
}

// dismissConsent clicks the first matching consent button, best effort.
func (s *Session) dismissConsent(ctx context.Context) {
	for _, sel := range consentSelectors {
		cctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		err := chromedp.Run(cctx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible))
		cancel()
		if err == nil {
			return
		}
	}
}

// firstPresent polls for the first selector from candidates that exists
// in the page, honoring the context deadline.
func (s *Session) firstPresent(ctx context.Context, candidates []string) (string, error) {
	for {
		for _, sel := range candidates {
			var found bool
			probe := fmt.Sprintf(`document.querySelector(%q) !== null`, sel)
			if err := chromedp.Run(ctx, chromedp.Evaluate(probe, &found)); err != nil {
				return "", err
			}
			if found {
				return sel, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
	}
}
