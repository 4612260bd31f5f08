package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// ErrNoMatchingFiles signals a listing page without any link of the wanted
// extension. This is structural, not transient.
var ErrNoMatchingFiles = errors.New("no matching files in listing")

// ScrapeListing fetches an HTTP directory index and returns the hrefs of all
// anchor links whose target ends with ext (case-insensitive). The order of
// appearance on the page is preserved; callers pick the first match.
func ScrapeListing(ctx context.Context, client *http.Client, url, ext string, auth *BasicAuth) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create listing request: %w", err)
	}
	setAuth(req, auth)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch listing %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch listing %s: status %d", url, resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse listing %s: %w", url, err)
	}

	links := collectLinks(doc, strings.ToLower(ext))
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: %s (*%s)", ErrNoMatchingFiles, url, ext)
	}
	return links, nil
}

func collectLinks(n *html.Node, ext string) []string {
	var links []string
	if n.Type == html.ElementNode && n.Data == "a" {
		for _, attr := range n.Attr {
			if attr.Key == "href" && strings.HasSuffix(strings.ToLower(attr.Val), ext) {
				links = append(links, attr.Val)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		links = append(links, collectLinks(c, ext)...)
	}
	return links
}
