package page

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"sync"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/andybalholm/cascadia"
	"github.com/kaptinlin/jsonrepair"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
)

// Document is an Accessor over a parsed HTML page
type Document struct {
	url  string
	raw  string
	root *html.Node

	structuredOnce sync.Once
	structured     []map[string]any

	textOnce sync.Once
	text     string

	mu        sync.Mutex
	selectors map[string]cascadia.Selector
}

// NewDocument parses raw HTML for the given page URL
func NewDocument(pageURL, rawHTML string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse html")
	}
	return &Document{
		url:       pageURL,
		raw:       rawHTML,
		root:      root,
		selectors: make(map[string]cascadia.Selector),
	}, nil
}

func (d *Document) URL() string { return d.url }

func (d *Document) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return d.raw, nil
}

func (d *Document) StructuredData(ctx context.Context) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.structuredOnce.Do(func() {
		d.structured = append(parseJSONLD(d.root), parseMicrodata(d.root)...)
	})
	return d.structured, nil
}

func (d *Document) Query(ctx context.Context, selector string) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sel, err := d.compile(selector)
	if err != nil {
		return nil, err
	}

	var nodes []Node
	for _, n := range sel.MatchAll(d.root) {
		nodes = append(nodes, toNode(n))
	}
	return nodes, nil
}

func (d *Document) VisibleText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.textOnce.Do(func() {
		markdown, err := htmltomarkdown.ConvertString(d.raw)
		if err != nil {
			d.text = extractText(d.root)
			return
		}
		d.text = cleanMarkdown(markdown)
	})
	return d.text, nil
}

// ResolveURL makes ref absolute against the page URL; unparsable refs are returned as-is
func (d *Document) ResolveURL(ref string) string {
	return ResolveURL(d.url, ref)
}

func (d *Document) compile(selector string) (cascadia.Selector, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sel, ok := d.selectors[selector]; ok {
		return sel, nil
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid selector %q", selector)
	}
	d.selectors[selector] = sel
	return sel, nil
}

// ResolveURL makes ref absolute against base
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func toNode(n *html.Node) Node {
	node := Node{Tag: n.Data, Text: extractTextFromNode(n)}
	if len(n.Attr) > 0 {
		node.Attrs = make(map[string]string, len(n.Attr))
		for _, attr := range n.Attr {
			node.Attrs[strings.ToLower(attr.Key)] = attr.Val
		}
	}
	return node
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}

// extractTextFromNode extracts all text content from a single node and its children
func extractTextFromNode(n *html.Node) string {
	var parts []string
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.Join(parts, " ")
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "tr": true, "section": true, "article": true,
	"header": true, "footer": true, "address": true,
}

// extractText extracts the page text, one block element per line
func extractText(n *html.Node) string {
	var buf strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			buf.WriteString("\n")
		}
	}
	f(n)

	var lines []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

var (
	markdownImage    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	markdownLink     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	markdownEmphasis = regexp.MustCompile(`(\*\*|__|\*|_)([^*_\n]+)(\*\*|__|\*|_)`)
)

// cleanMarkdown strips link/image/emphasis syntax but keeps headings and line structure,
// which the text-pattern layers use to find block boundaries
func cleanMarkdown(markdown string) string {
	text := markdownImage.ReplaceAllString(markdown, "$1")
	text = markdownLink.ReplaceAllString(text, "$1")
	text = markdownEmphasis.ReplaceAllString(text, "$2")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// parseJSONLD collects every JSON-LD object on the page, repairing malformed blocks
func parseJSONLD(root *html.Node) []map[string]any {
	var blocks []map[string]any
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" &&
			strings.Contains(strings.ToLower(attr(n, "type")), "ld+json") && n.FirstChild != nil {
			blocks = append(blocks, decodeJSONLD(n.FirstChild.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(root)
	return blocks
}

func decodeJSONLD(content string) []map[string]any {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var value any
	if err := json.Unmarshal([]byte(content), &value); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(content)
		if repairErr != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(repaired), &value); err != nil {
			return nil
		}
	}
	return flattenJSONLD(value)
}

// flattenJSONLD unwraps top-level arrays and @graph containers into individual objects
func flattenJSONLD(value any) []map[string]any {
	var out []map[string]any
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			out = append(out, flattenJSONLD(item)...)
		}
	case map[string]any:
		if graph, ok := v["@graph"]; ok {
			out = append(out, flattenJSONLD(graph)...)
			delete(v, "@graph")
			if len(v) > 1 {
				out = append(out, v)
			}
			return out
		}
		out = append(out, v)
	}
	return out
}

// parseMicrodata converts top-level itemscope elements into JSON-LD shaped objects
func parseMicrodata(root *html.Node) []map[string]any {
	var items []map[string]any
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && hasAttr(n, "itemscope") && !hasAttr(n, "itemprop") {
			items = append(items, microdataItem(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(root)
	return items
}

func microdataItem(scope *html.Node) map[string]any {
	item := map[string]any{}
	if itemType := attr(scope, "itemtype"); itemType != "" {
		parts := strings.Split(strings.TrimRight(itemType, "/"), "/")
		item["@type"] = parts[len(parts)-1]
	}

	var f func(*html.Node)
	f = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			prop := attr(c, "itemprop")
			switch {
			case prop != "" && hasAttr(c, "itemscope"):
				item[prop] = microdataItem(c)
			case prop != "":
				if _, exists := item[prop]; !exists {
					item[prop] = microdataValue(c)
				}
				f(c)
			default:
				f(c)
			}
		}
	}
	f(scope)
	return item
}

func microdataValue(n *html.Node) string {
	for _, key := range []string{"content", "datetime"} {
		if v := attr(n, key); v != "" {
			return v
		}
	}
	switch n.Data {
	case "a", "link":
		return attr(n, "href")
	case "img":
		return attr(n, "src")
	case "meta":
		return attr(n, "content")
	}
	return extractTextFromNode(n)
}
