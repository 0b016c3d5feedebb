// Package direct resolves single-asset file hosts that expose no extraction
// metadata beyond plain HTTP. It is the most brittle strategy in the resolver
// set and is kept behind the same interface so it can be swapped per provider.
package direct

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/vidrelay/vidrelay/internal/asset"
	"github.com/vidrelay/vidrelay/internal/logctx"
	"github.com/vidrelay/vidrelay/internal/resolve"
)

// RenditionID is the single rendition a direct host exposes.
const RenditionID = "file"

// maxScrapeBytes bounds how much of a landing page is read looking for a title.
const maxScrapeBytes = 256 * 1024

type Resolver struct {
	client *http.Client
}

func NewResolver(client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Resolver{client: client}
}

type metadata struct {
	name string
	mime string
	size int64
}

// Resolve fetches what metadata the host offers. A host that answers nothing
// useful still resolves: downstream stages tolerate unknown name, size and
// MIME, so only an unparseable URL is an error.
func (r *Resolver) Resolve(ctx context.Context, sourceURL string) (*resolve.Resolution, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil || parsed.Host == "" {
		return nil, &resolve.ResolutionError{
			URL:    sourceURL,
			Reason: "not a valid URL",
			Err:    err,
		}
	}

	meta := r.fetchMetadata(ctx, sourceURL)
	if meta.name == "" {
		meta.name = path.Base(parsed.Path)
	}

	label := meta.name
	if label == "" || label == "." || label == "/" {
		label = RenditionID
	}

	return &resolve.Resolution{
		Title: label,
		Renditions: []asset.Rendition{
			{
				ID:        RenditionID,
				Label:     label,
				Container: containerOf(meta.name, meta.mime),
				SizeBytes: meta.size,
			},
		},
	}, nil
}

// ResolveRendition returns the source URL itself as the stream; direct hosts
// have nothing further to negotiate.
func (r *Resolver) ResolveRendition(ctx context.Context, sourceURL, renditionID string) (*resolve.Stream, error) {
	resolution, err := r.Resolve(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	rendition := resolution.Renditions[0]

	return &resolve.Stream{
		URL:       sourceURL,
		Title:     resolution.Title,
		Container: rendition.Container,
		SizeBytes: rendition.SizeBytes,
	}, nil
}

// fetchMetadata tries a HEAD request first and falls back to scraping the
// landing page for a title. Both failing leaves everything unknown.
func (r *Resolver) fetchMetadata(ctx context.Context, sourceURL string) metadata {
	logger := logctx.LoggerFromContext(ctx)

	if meta, ok := r.headMetadata(ctx, sourceURL); ok {
		return meta
	}

	logger.Debug("HEAD metadata unavailable, scraping landing page", "url", sourceURL)

	if meta, ok := r.scrapeMetadata(ctx, sourceURL); ok {
		return meta
	}

	logger.Warn("no metadata source answered, proceeding with unknowns", "url", sourceURL)

	return metadata{}
}

func (r *Resolver) headMetadata(ctx context.Context, sourceURL string) (metadata, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, sourceURL, nil)
	if err != nil {
		return metadata{}, false
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return metadata{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return metadata{}, false
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/html") {
		// Landing page, not the asset itself.
		return metadata{}, false
	}

	meta := metadata{mime: contentType}

	if resp.ContentLength > 0 {
		meta.size = resp.ContentLength
	}

	if disposition := resp.Header.Get("Content-Disposition"); disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			meta.name = params["filename"]
		}
	}

	return meta, true
}

func (r *Resolver) scrapeMetadata(ctx context.Context, sourceURL string) (metadata, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return metadata{}, false
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return metadata{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return metadata{}, false
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/html") {
		// The URL serves the asset directly.
		meta := metadata{mime: contentType}
		if resp.ContentLength > 0 {
			meta.size = resp.ContentLength
		}

		return meta, true
	}

	title := scrapeTitle(io.LimitReader(resp.Body, maxScrapeBytes))
	if title == "" {
		return metadata{}, false
	}

	return metadata{name: title}, true
}

// scrapeTitle tokenizes an HTML document and returns the first <title> text.
func scrapeTitle(body io.Reader) string {
	tokenizer := html.NewTokenizer(body)

	inTitle := false

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			inTitle = string(name) == "title"
		case html.TextToken:
			if inTitle {
				if title := strings.TrimSpace(string(tokenizer.Text())); title != "" {
					return title
				}
			}
		case html.EndTagToken:
			inTitle = false
		}
	}
}

func containerOf(name, mimeType string) string {
	if ext := strings.TrimPrefix(path.Ext(name), "."); ext != "" {
		return strings.ToLower(ext)
	}

	if mimeType != "" {
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			return strings.TrimPrefix(exts[0], ".")
		}
	}

	return ""
}
