// Package fetch discovers and downloads paper PDFs from configured mirror
// sites, using a language model to turn a topic into search queries.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/papercast-labs/papercast-core/internal/config"
	"github.com/papercast-labs/papercast-core/internal/llm"
)

const queryPrompt = `You generate search queries for finding academic papers. Given a research topic, reply with one search query per line. Queries should be short keyword phrases. Reply with the queries only, no numbering and no commentary.`

// Fetcher locates paper PDFs for a topic. Mirrors are URL templates with a
// single %s that receives the escaped query.
type Fetcher struct {
	cfg     config.FetchConfig
	backend llm.Generator
	client  *http.Client
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

func New(cfg config.FetchConfig, backend llm.Generator, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		cfg:     cfg,
		backend: backend,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger.With(slog.String("component", "paper-fetcher")),
		sleep:   sleepCtx,
	}
}

// Queries asks the model for up to n search queries on the topic. Leading
// list markers and quotes the model tends to emit are stripped.
func (f *Fetcher) Queries(ctx context.Context, topic string, n int) ([]string, error) {
	out, err := f.backend.Complete(ctx, llm.Request{
		System: queryPrompt,
		Prompt: topic,
	})
	if err != nil {
		return nil, fmt.Errorf("generate search queries: %w", err)
	}

	seen := make(map[string]bool)
	var queries []string
	for _, line := range strings.Split(out, "\n") {
		q := cleanQueryLine(line)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		queries = append(queries, q)
		if len(queries) == n {
			break
		}
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("model produced no usable queries for %q", topic)
	}
	return queries, nil
}

// Discover searches every configured mirror for the query and returns
// absolute PDF links, bounded by the paper limit.
func (f *Fetcher) Discover(ctx context.Context, query string) ([]string, error) {
	var links []string
	seen := make(map[string]bool)
	for _, mirror := range f.cfg.Mirrors {
		if len(links) >= f.cfg.PaperLimit {
			break
		}
		pageURL := fmt.Sprintf(mirror, url.QueryEscape(query))
		found, err := f.scrapePage(ctx, pageURL)
		if err != nil {
			f.logger.Warn("mirror search failed",
				slog.String("mirror", pageURL),
				slog.String("error", err.Error()))
			continue
		}
		for _, link := range found {
			if seen[link] {
				continue
			}
			seen[link] = true
			links = append(links, link)
			if len(links) >= f.cfg.PaperLimit {
				break
			}
		}
		if err := f.politenessDelay(ctx); err != nil {
			return links, err
		}
	}
	return links, nil
}

func (f *Fetcher) scrapePage(ctx context.Context, pageURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mirror returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse mirror page: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || !isPDFLink(href) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		links = append(links, base.ResolveReference(ref).String())
	})
	return links, nil
}

// Download retrieves one PDF into destDir, deriving a safe filename from the
// URL path. The file appears atomically via a temp rename.
func (f *Fetcher) Download(ctx context.Context, pdfURL, destDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", pdfURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", pdfURL, resp.StatusCode)
	}

	name := safeFilename(pdfURL)
	dest := filepath.Join(destDir, name)
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", err
	}
	f.logger.Info("downloaded paper", slog.String("url", pdfURL), slog.String("file", name))
	return dest, nil
}

// FetchTopic runs the whole discovery flow for one topic and returns the
// local paths of downloaded PDFs.
func (f *Fetcher) FetchTopic(ctx context.Context, topic, destDir string) ([]string, error) {
	queries, err := f.Queries(ctx, topic, 3)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, q := range queries {
		if len(paths) >= f.cfg.PaperLimit {
			break
		}
		links, err := f.Discover(ctx, q)
		if err != nil {
			return paths, err
		}
		for _, link := range links {
			if len(paths) >= f.cfg.PaperLimit {
				break
			}
			p, err := f.Download(ctx, link, destDir)
			if err != nil {
				f.logger.Warn("paper download failed",
					slog.String("url", link),
					slog.String("error", err.Error()))
				continue
			}
			paths = append(paths, p)
			if err := f.politenessDelay(ctx); err != nil {
				return paths, err
			}
		}
	}
	return paths, nil
}

func (f *Fetcher) politenessDelay(ctx context.Context) error {
	if f.cfg.DelayMS <= 0 {
		return nil
	}
	return f.sleep(ctx, time.Duration(f.cfg.DelayMS)*time.Millisecond)
}

func cleanQueryLine(line string) string {
	q := strings.TrimSpace(line)
	q = strings.TrimLeft(q, "0123456789.)- *")
	q = strings.Trim(q, `"'`)
	return strings.TrimSpace(q)
}

func isPDFLink(href string) bool {
	lower := strings.ToLower(href)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	return strings.HasSuffix(lower, ".pdf") || strings.Contains(lower, "/pdf/")
}

func safeFilename(pdfURL string) string {
	name := path.Base(pdfURL)
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name = b.String()
	if name == "" || name == "." {
		name = fmt.Sprintf("paper_%d.pdf", time.Now().UnixNano())
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
