package audit

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// DefaultSnapshotCap bounds a sanitized DOM snapshot.
const DefaultSnapshotCap = 50000

// maxAttributeLength bounds a single attribute value, so pages cannot
// smuggle arbitrary payload past the snapshot cap inside attributes.
const maxAttributeLength = 512

// SanitizeDOM strips scripts, styles, and event handlers from raw page
// HTML and truncates the result. Snapshots are stored alongside action
// records and shown to approvers, so nothing executable may survive.
func SanitizeDOM(rawHTML string, maxLength int) (string, error) {
	if maxLength <= 0 {
		maxLength = DefaultSnapshotCap
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	var builder strings.Builder
	var length int
	sanitizeNode(doc, &builder, &length, maxLength)
	return builder.String(), nil
}

// sanitizeNode walks the tree, emitting a reduced rendition of each kept
// node. Returns true once the output cap is reached.
func sanitizeNode(n *html.Node, builder *strings.Builder, length *int, maxLength int) bool {
	if *length >= maxLength {
		return true
	}

	switch n.Type {
	case html.CommentNode:
		return false
	case html.ElementNode:
		if isStrippedElement(strings.ToLower(n.Data)) {
			return false
		}
		return sanitizeElement(n, builder, length, maxLength)
	case html.TextNode:
		return writeText(n.Data, builder, length, maxLength)
	}

	return sanitizeChildren(n, builder, length, maxLength)
}

func sanitizeElement(n *html.Node, builder *strings.Builder, length *int, maxLength int) bool {
	tag := strings.ToLower(n.Data)

	// Attribute bytes count toward the cap like everything else, and each
	// value is bounded on its own so one attribute cannot consume the whole
	// snapshot budget.
	var open strings.Builder
	open.WriteString("<")
	open.WriteString(tag)
	for _, attr := range n.Attr {
		if !keepAttribute(attr.Key, attr.Val) {
			continue
		}
		val := html.EscapeString(truncateRunes(attr.Val, maxAttributeLength))
		fmt.Fprintf(&open, ` %s="%s"`, strings.ToLower(attr.Key), val)
	}
	open.WriteString(">")

	if *length+open.Len() > maxLength {
		return true
	}
	builder.WriteString(open.String())
	*length += open.Len()

	truncated := sanitizeChildren(n, builder, length, maxLength)

	if !isVoidElement(tag) {
		builder.WriteString("</")
		builder.WriteString(tag)
		builder.WriteString(">")
		*length += len(tag) + 3
	}
	return truncated
}

func sanitizeChildren(n *html.Node, builder *strings.Builder, length *int, maxLength int) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if sanitizeNode(c, builder, length, maxLength) {
			return true
		}
	}
	return false
}

func writeText(text string, builder *strings.Builder, length *int, maxLength int) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	if *length+len(text) > maxLength {
		builder.WriteString(truncateRunes(text, maxLength-*length))
		builder.WriteString("...")
		*length = maxLength
		return true
	}

	builder.WriteString(text)
	*length += len(text)
	return false
}

// truncateRunes shortens s to at most max bytes without splitting a
// multi-byte rune, so truncated output stays valid UTF-8.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// isStrippedElement lists elements removed entirely from snapshots.
func isStrippedElement(tag string) bool {
	switch tag {
	case "script", "style", "noscript", "iframe", "embed", "object", "svg", "link", "meta":
		return true
	}
	return false
}

// keepAttribute drops event handlers (on*) and javascript: URLs; everything
// structural survives so approvers can see what the page looked like.
func keepAttribute(key, val string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "on") {
		return false
	}
	if key == "style" {
		return false
	}
	if key == "href" || key == "src" || key == "action" {
		trimmed := strings.ToLower(strings.TrimSpace(val))
		if strings.HasPrefix(trimmed, "javascript:") || strings.HasPrefix(trimmed, "data:") {
			return false
		}
	}
	return true
}

func isVoidElement(tag string) bool {
	switch tag {
	case "area", "base", "br", "col", "embed", "hr", "img", "input",
		"link", "meta", "param", "source", "track", "wbr":
		return true
	}
	return false
}
