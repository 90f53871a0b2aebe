package playwright

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// DefaultMaxTextLength bounds extracted page text.
const DefaultMaxTextLength = 20000

// PageText is the readable content of a page.
type PageText struct {
	Title       string
	Description string
	Text        string
	Truncated   bool
}

// ExtractPageText parses raw HTML and returns its visible text with block
// elements on separate lines. Scripts, styles and hidden elements are dropped.
func ExtractPageText(rawHTML string, maxLength int) (*PageText, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxTextLength
	}

	w := &textWriter{max: maxLength}
	w.walk(findBody(doc))

	return &PageText{
		Title:       findTitle(doc),
		Description: findMetaDescription(doc),
		Text:        w.String(),
		Truncated:   w.truncated,
	}, nil
}

type textWriter struct {
	lines     []string
	current   strings.Builder
	length    int
	max       int
	truncated bool
}

func (w *textWriter) walk(n *html.Node) {
	if n == nil || w.truncated {
		return
	}

	switch n.Type {
	case html.CommentNode:
		return
	case html.TextNode:
		w.write(n.Data)
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if isSkippedElement(tag) || isHidden(n) {
			return
		}
		block := isBlockElement(tag)
		if block || tag == "br" {
			w.breakLine()
		}
		if tag == "li" {
			w.write("- ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.walk(c)
		}
		if tag == "td" || tag == "th" {
			w.write(" | ")
		}
		if block {
			w.breakLine()
		}
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *textWriter) write(s string) {
	text := strings.Join(strings.Fields(s), " ")
	if text == "" {
		return
	}
	if w.current.Len() > 0 && !strings.HasSuffix(w.current.String(), " ") && !strings.HasPrefix(text, " ") {
		text = " " + text
	}
	if w.length+len(text) > w.max {
		remaining := w.max - w.length
		if remaining > 0 {
			w.current.WriteString(text[:remaining])
		}
		w.length = w.max
		w.truncated = true
		return
	}
	w.current.WriteString(text)
	w.length += len(text)
}

func (w *textWriter) breakLine() {
	line := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(w.current.String()), "|"))
	if line != "" {
		w.lines = append(w.lines, line)
	}
	w.current.Reset()
}

func (w *textWriter) String() string {
	w.breakLine()
	return strings.Join(w.lines, "\n")
}

func isSkippedElement(tag string) bool {
	switch tag {
	case "script", "style", "noscript", "iframe", "embed", "object", "svg", "template", "head":
		return true
	}
	return false
}

func isHidden(n *html.Node) bool {
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "hidden":
			return true
		case "aria-hidden":
			if attr.Val == "true" {
				return true
			}
		case "style":
			style := strings.ReplaceAll(strings.ToLower(attr.Val), " ", "")
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		case "type":
			if strings.EqualFold(n.Data, "input") && strings.EqualFold(attr.Val, "hidden") {
				return true
			}
		}
	}
	return false
}

var blockElements = map[string]bool{
	"div": true, "p": true, "section": true, "article": true, "header": true,
	"footer": true, "nav": true, "main": true, "aside": true, "h1": true,
	"h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "ul": true,
	"ol": true, "li": true, "table": true, "tr": true, "form": true,
	"fieldset": true, "blockquote": true, "pre": true, "dl": true, "dt": true,
	"dd": true, "figure": true, "figcaption": true, "hr": true,
}

func isBlockElement(tag string) bool {
	return blockElements[tag]
}

func findBody(doc *html.Node) *html.Node {
	if body := findElement(doc, "body"); body != nil {
		return body
	}
	return doc
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findTitle(doc *html.Node) string {
	title := findElement(doc, "title")
	if title == nil || title.FirstChild == nil || title.FirstChild.Type != html.TextNode {
		return ""
	}
	return strings.TrimSpace(title.FirstChild.Data)
}

func findMetaDescription(doc *html.Node) string {
	var description string
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if description != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "meta" {
			var isDescription bool
			var content string
			for _, attr := range n.Attr {
				if attr.Key == "name" && strings.EqualFold(attr.Val, "description") {
					isDescription = true
				}
				if attr.Key == "content" {
					content = attr.Val
				}
			}
			if isDescription {
				description = strings.TrimSpace(content)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	return description
}
