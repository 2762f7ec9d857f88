// Package extract projects rendered markup onto the text a reader would see.
//
// Text nodes are concatenated in document order with whitespace runs
// collapsed to a single space. Block-level elements and <br> end a line.
// Lines are trimmed, empty lines dropped, and the rest joined with "\n".
package extract

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// VisibleText parses markup and returns the visible text of its body.
func VisibleText(markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return VisibleTextSelection(doc.Find("body")), nil
}

// ElementText returns the visible text of one element given its outer HTML.
// The element is parsed inside the parent its tag requires, so table parts
// and list items keep their structure when they are the root.
func ElementText(outer string) (string, error) {
	tag := firstTag(outer)
	switch tag {
	case "", "html", "head", "body":
		return VisibleText(outer)
	}
	parent := fragmentParent(tag)
	nodes, err := html.ParseFragment(strings.NewReader(outer), parent)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	return VisibleTextSelection(goquery.NewDocumentFromNode(parent).Selection), nil
}

func firstTag(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			return strings.ToLower(string(name))
		}
	}
}

func fragmentParent(tag string) *html.Node {
	name := "body"
	switch tag {
	case "caption", "colgroup", "thead", "tbody", "tfoot":
		name = "table"
	case "tr":
		name = "tbody"
	case "td", "th":
		name = "tr"
	case "col":
		name = "colgroup"
	case "li":
		name = "ul"
	case "option", "optgroup":
		name = "select"
	case "dt", "dd":
		name = "dl"
	}
	return &html.Node{Type: html.ElementNode, Data: name, DataAtom: atom.Lookup([]byte(name))}
}

// VisibleTextSelection returns the visible text of every node in sel, in
// document order.
func VisibleTextSelection(sel *goquery.Selection) string {
	w := &textWriter{}
	for _, n := range sel.Nodes {
		w.walk(n)
	}
	w.flush()
	return strings.Join(w.lines, "\n")
}

type textWriter struct {
	lines        []string
	cur          strings.Builder
	pendingSpace bool
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		if isHidden(n) {
			return
		}
		tag := strings.ToLower(n.Data)
		if tag == "br" {
			w.flush()
			return
		}
		block := isBlockElement(tag)
		if block {
			w.flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.walk(c)
		}
		if block {
			w.flush()
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *textWriter) text(s string) {
	for _, r := range s {
		if unicode.IsSpace(r) {
			if w.cur.Len() > 0 {
				w.pendingSpace = true
			}
			continue
		}
		if w.pendingSpace {
			w.cur.WriteByte(' ')
			w.pendingSpace = false
		}
		w.cur.WriteRune(r)
	}
}

func (w *textWriter) flush() {
	if w.cur.Len() > 0 {
		w.lines = append(w.lines, w.cur.String())
	}
	w.cur.Reset()
	w.pendingSpace = false
}

func isHidden(n *html.Node) bool {
	if isSkippedElement(strings.ToLower(n.Data)) {
		return true
	}
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "hidden":
			return true
		case "aria-hidden":
			if strings.EqualFold(strings.TrimSpace(attr.Val), "true") {
				return true
			}
		case "style":
			style := strings.ToLower(strings.Join(strings.Fields(attr.Val), ""))
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		case "type":
			if strings.ToLower(n.Data) == "input" && strings.EqualFold(attr.Val, "hidden") {
				return true
			}
		}
	}
	return false
}

func isSkippedElement(tag string) bool {
	switch tag {
	case "script", "style", "noscript", "template", "head", "title", "meta", "link",
		"iframe", "embed", "object", "svg", "canvas":
		return true
	}
	return false
}

func isBlockElement(tag string) bool {
	switch tag {
	case "address", "article", "aside", "blockquote", "dd", "details", "dialog", "div", "dl", "dt",
		"fieldset", "figcaption", "figure", "footer", "form", "h1", "h2", "h3", "h4", "h5", "h6",
		"header", "hgroup", "hr", "li", "main", "nav", "ol", "p", "pre", "section", "summary",
		"table", "thead", "tbody", "tfoot", "tr", "td", "th", "caption", "ul", "body", "html",
		"option", "legend":
		return true
	}
	return false
}
