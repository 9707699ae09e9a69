package algorithms

import (
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/webmonitoring/diffing-service/internal/decode"
)

// linksDiff extracts the outgoing links from each document — ignoring
// in-page anchors ("#section") — and diffs the two sorted listings. This is
// a supplemental algorithm beyond the core set, useful for change-monitoring
// deployments that only care about link churn rather than full-body diffs.
func linksDiff(a, b decode.DecodedBody, options map[string]string) (Result, error) {
	aLinks := extractLinks(a.Text)
	bLinks := extractLinks(b.Text)
	segments, changeCount := diffSequences(aLinks, bLinks)
	visible := filterSegments(segments, decodeRenderOptions(options))
	return Result{
		ChangeCount: changeCount,
		Fields:      map[string]any{"diff": pairs(visible)},
	}, nil
}

// extractLinks returns a sorted "text (href)" listing for every outgoing
// <a> element in the document, skipping anchors that merely navigate
// within the page.
func extractLinks(text string) []string {
	if text == "" {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return nil
	}

	var listings []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attr(n, "href")
			if href != "" && !strings.HasPrefix(href, "#") {
				listings = append(listings, strings.TrimSpace(linkText(n))+" ("+href+")")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	sort.Strings(listings)
	return listings
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func linkText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
