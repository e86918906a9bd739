package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	pipeerr "github.com/docpipe/docpipe/internal/errors"
)

// maxListingBytes bounds how much of a listing page we read.
const maxListingBytes = 4 << 20

// hrefPDF matches anchor href attributes pointing at PDF files. Attribute
// scraping is deliberate: listing pages in the wild are rarely well-formed
// enough for a strict parser, and we only need the links.
var hrefPDF = regexp.MustCompile(`(?i)href\s*=\s*["']([^"']+\.pdf)(?:[?#][^"']*)?["']`)

// Link is one PDF reference found on a listing page.
type Link struct {
	URL   string
	Title string
}

// Client probes and downloads source documents over HTTP.
type Client struct {
	http            *http.Client
	headTimeout     time.Duration
	downloadTimeout time.Duration
}

// NewClient creates a Client. Zero timeouts fall back to sane defaults.
func NewClient(headTimeout, downloadTimeout time.Duration) *Client {
	if headTimeout <= 0 {
		headTimeout = 10 * time.Second
	}
	if downloadTimeout <= 0 {
		downloadTimeout = 60 * time.Second
	}
	return &Client{
		http:            &http.Client{},
		headTimeout:     headTimeout,
		downloadTimeout: downloadTimeout,
	}
}

// FetchListing downloads a listing page and returns the PDF links on it,
// resolved against the page URL and deduplicated in first-seen order.
func (c *Client) FetchListing(ctx context.Context, listingURL string) ([]Link, error) {
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listingURL, nil)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeUpstreamFetch, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, pipeerr.New(pipeerr.ErrCodeUpstreamFetch,
			fmt.Sprintf("listing %s returned status %d", listingURL, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBytes))
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeUpstreamFetch, err)
	}

	base, err := url.Parse(listingURL)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeUpstreamFetch, err)
	}

	seen := make(map[string]bool)
	var links []Link
	for _, m := range hrefPDF.FindAllStringSubmatch(string(body), -1) {
		ref, err := url.Parse(m[1])
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref).String()
		if seen[abs] {
			continue
		}
		seen[abs] = true
		links = append(links, Link{URL: abs, Title: linkTitle(abs)})
	}
	return links, nil
}

// Probe issues a HEAD request and returns the freshest change marker, in
// priority order: Last-Modified, then ETag, then Content-Length. Documents
// served without any validator yield an empty marker; the fingerprint then
// depends on the title alone.
func (c *Client) Probe(ctx context.Context, docURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.headTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, docURL, nil)
	if err != nil {
		return "", pipeerr.Wrap(pipeerr.ErrCodeUpstreamFetch, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", pipeerr.Wrap(pipeerr.ErrCodeNetworkTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", pipeerr.New(pipeerr.ErrCodeUpstreamFetch,
			fmt.Sprintf("HEAD %s returned status %d", docURL, resp.StatusCode), nil)
	}

	if v := resp.Header.Get("Last-Modified"); v != "" {
		return v, nil
	}
	if v := resp.Header.Get("ETag"); v != "" {
		return v, nil
	}
	return resp.Header.Get("Content-Length"), nil
}

// Download fetches the document bytes.
func (c *Client) Download(ctx context.Context, docURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeUpstreamFetch, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, pipeerr.New(pipeerr.ErrCodeUpstreamFetch,
			fmt.Sprintf("GET %s returned status %d", docURL, resp.StatusCode), nil)
	}
	return io.ReadAll(resp.Body)
}

// linkTitle derives a human-readable title from a document URL: the decoded
// final path segment.
func linkTitle(docURL string) string {
	u, err := url.Parse(docURL)
	if err != nil {
		return docURL
	}
	name := path.Base(u.Path)
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return strings.TrimSpace(name)
}
