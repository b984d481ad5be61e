package download

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultNextPattern matches the anchor text of common "next page" links.
var DefaultNextPattern = regexp.MustCompile(`(?i)^\s*(next|next page|older|older posts|older entries|›|»|→)\s*[›»→]?\s*$`)

// Page is a fetched and parsed page.
type Page struct {
	Index int
	URL   string
	Body  []byte
	Links []string
	Next  string
	Text  string
	Hash  string
}

// parsePage extracts links, the next-page link, and visible text.
func parsePage(pageURL string, body []byte, nextPattern *regexp.Regexp) (*Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if nextPattern == nil {
		nextPattern = DefaultNextPattern
	}

	p := &Page{URL: pageURL, Body: body}
	var relNext, textNext string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.A || n.DataAtom == atom.Link) {
			href := attr(n, "href")
			if href != "" {
				abs := resolve(base, href)
				if n.DataAtom == atom.A {
					p.Links = append(p.Links, abs)
				}
				if relNext == "" && hasToken(attr(n, "rel"), "next") {
					relNext = abs
				}
				if textNext == "" && n.DataAtom == atom.A &&
					(hasToken(attr(n, "class"), "next") || nextPattern.MatchString(collectText(n))) {
					textNext = abs
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	p.Next = relNext
	if p.Next == "" {
		p.Next = textNext
	}
	if p.Next == pageURL {
		p.Next = ""
	}
	p.Text = collectText(doc)
	p.Hash = fmt.Sprintf("%x", sha256.Sum256([]byte(p.Text)))
	return p, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func hasToken(list, token string) bool {
	for _, t := range strings.Fields(strings.ToLower(list)) {
		if t == token {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved.String()
}

// collectText returns the whitespace-collapsed visible text under n.
func collectText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
