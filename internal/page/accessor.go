// Package page exposes an already-fetched web page to the extraction layers.
//
// The engine never drives navigation or a browser; it only reads from an
// Accessor. Document is the default Accessor backed by a parsed HTML tree.
package page

import "context"

// Node is one element matched by a selector query
type Node struct {
	Tag   string            `json:"tag"`
	Text  string            `json:"text"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Attr returns an attribute value, or "" when absent
func (n Node) Attr(key string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[key]
}

// Accessor is the page capability consumed by the extraction layers.
// Implementations must honor ctx cancellation on any call that performs I/O.
type Accessor interface {
	// URL returns the page's final URL
	URL() string
	// HTML returns the raw page markup
	HTML(ctx context.Context) (string, error)
	// StructuredData returns parsed JSON-LD and microdata blocks, flattened to objects
	StructuredData(ctx context.Context) ([]map[string]any, error)
	// Query returns the nodes matching a CSS selector
	Query(ctx context.Context, selector string) ([]Node, error)
	// VisibleText returns the page text with markup, scripts and styles removed
	VisibleText(ctx context.Context) (string, error)
}
