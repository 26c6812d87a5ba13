// Package webpage fetches linked pages and extracts their readable text so
// link entries can be summarized from what the page actually says.
package webpage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// DefaultTimeout bounds one page fetch.
	DefaultTimeout = 15 * time.Second
	// DefaultMaxBytes caps how much of a response body is read.
	DefaultMaxBytes = 2 << 20
	// DefaultMaxTextRunes caps the extracted text handed to enrichment.
	DefaultMaxTextRunes = 8000
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "Mozilla/5.0 (compatible; RelayNote/1.0; +https://github.com/BTreeMap/RelayNote)"
)

var (
	ErrNotHTML = errors.New("response is not an HTML page")
	ErrNoText  = errors.New("page has no readable text")
)

// Page is the readable part of a fetched document.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Markdown renders the page the way it is stored: a title heading followed
// by the body text.
func (p Page) Markdown() string {
	if p.Title == "" {
		return p.Text
	}
	return "# " + p.Title + "\n\n" + p.Text
}

// Opts holds configuration for a Fetcher.
type Opts struct {
	HTTPClient   *http.Client
	MaxBytes     int64
	MaxTextRunes int
	UserAgent    string
}

// Option modifies Opts.
type Option func(*Opts)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithMaxBytes caps the response body size.
func WithMaxBytes(n int64) Option {
	return func(o *Opts) { o.MaxBytes = n }
}

// WithMaxTextRunes caps the extracted text length.
func WithMaxTextRunes(n int) Option {
	return func(o *Opts) { o.MaxTextRunes = n }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *Opts) { o.UserAgent = ua }
}

// Fetcher downloads pages and extracts their main text.
type Fetcher struct {
	http         *http.Client
	maxBytes     int64
	maxTextRunes int
	userAgent    string
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	cfg := Opts{
		MaxBytes:     DefaultMaxBytes,
		MaxTextRunes: DefaultMaxTextRunes,
		UserAgent:    DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Fetcher{
		http:         cfg.HTTPClient,
		maxBytes:     cfg.MaxBytes,
		maxTextRunes: cfg.MaxTextRunes,
		userAgent:    cfg.UserAgent,
	}
}

// Fetch downloads url and extracts its title and main text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.http.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return Page{}, fmt.Errorf("%w: %s", ErrNotHTML, ct)
	}

	page, err := Extract(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return Page{}, err
	}
	page.URL = url
	page.Text = truncateRunes(page.Text, f.maxTextRunes)
	slog.Debug("Fetcher.Fetch: page extracted", "url", url, "title", page.Title, "textLen", len(page.Text))
	return page, nil
}

// skipped elements never contribute text.
var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Nav: true, atom.Footer: true,
	atom.Header: true, atom.Aside: true, atom.Noscript: true, atom.Iframe: true,
	atom.Svg: true, atom.Form: true,
}

// block elements end a line of text.
var block = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Section: true, atom.Article: true,
}

// contentMarkers are id/class values that usually wrap the main text.
var contentMarkers = []string{"content", "post", "article", "post-content", "entry-content", "article-content"}

// Extract parses an HTML document and returns its title and main text. The
// main text comes from the first <article>, then <main>, then an element
// whose id or class marks it as content, then <body>.
func Extract(r io.Reader) (Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	var page Page
	if t := find(doc, func(n *html.Node) bool { return n.DataAtom == atom.Title }); t != nil {
		page.Title = collapse(textOf(t))
	}

	root := find(doc, func(n *html.Node) bool { return n.DataAtom == atom.Article })
	if root == nil {
		root = find(doc, func(n *html.Node) bool { return n.DataAtom == atom.Main })
	}
	if root == nil {
		root = find(doc, isContentContainer)
	}
	if root == nil {
		root = find(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	}
	if root == nil {
		root = doc
	}

	var b strings.Builder
	render(&b, root)
	page.Text = tidy(b.String())
	if page.Text == "" {
		return page, ErrNoText
	}
	return page, nil
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func isContentContainer(n *html.Node) bool {
	if n.DataAtom != atom.Div {
		return false
	}
	for _, a := range n.Attr {
		if a.Key != "id" && a.Key != "class" {
			continue
		}
		for _, v := range strings.Fields(a.Val) {
			for _, m := range contentMarkers {
				if v == m {
					return true
				}
			}
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func render(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		render(b, c)
	}
	if n.Type == html.ElementNode && block[n.DataAtom] {
		b.WriteByte('\n')
	}
}

// collapse folds runs of whitespace into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// tidy collapses whitespace within lines and drops empty lines.
func tidy(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = collapse(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
