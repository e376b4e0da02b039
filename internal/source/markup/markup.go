// Package markup holds the small HTML traversal toolkit used by scraping adapters.
package markup

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Matcher reports whether an element node matches.
type Matcher func(n *html.Node) bool

// Parse parses an HTML document.
func Parse(body []byte) (*html.Node, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Tag matches any of the given element names.
func Tag(names ...string) Matcher {
	return func(n *html.Node) bool {
		for _, name := range names {
			if strings.EqualFold(n.Data, name) {
				return true
			}
		}
		return false
	}
}

// Class matches elements carrying any of the given classes.
func Class(classes ...string) Matcher {
	return func(n *html.Node) bool {
		have := strings.Fields(Attr(n, "class"))
		for _, want := range classes {
			for _, c := range have {
				if c == want {
					return true
				}
			}
		}
		return false
	}
}

// ClassPattern matches elements with a class attribute matching re.
func ClassPattern(re *regexp.Regexp) Matcher {
	return func(n *html.Node) bool {
		return re.MatchString(Attr(n, "class"))
	}
}

// HasAttr matches elements that carry a non-empty key attribute.
func HasAttr(key string) Matcher {
	return func(n *html.Node) bool { return Attr(n, key) != "" }
}

// AttrPattern matches elements whose key attribute matches re.
func AttrPattern(key string, re *regexp.Regexp) Matcher {
	return func(n *html.Node) bool { return re.MatchString(Attr(n, key)) }
}

// All matches when every matcher matches.
func All(ms ...Matcher) Matcher {
	return func(n *html.Node) bool {
		for _, m := range ms {
			if !m(n) {
				return false
			}
		}
		return true
	}
}

// Any matches when at least one matcher matches.
func Any(ms ...Matcher) Matcher {
	return func(n *html.Node) bool {
		for _, m := range ms {
			if m(n) {
				return true
			}
		}
		return false
	}
}

// FindAll returns descendant elements of root matching m, in document order.
func FindAll(root *html.Node, m Matcher) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && m(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// Find returns the first descendant matching m, or nil.
func Find(root *html.Node, m Matcher) *html.Node {
	if root == nil {
		return nil
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && m(c) {
			return c
		}
		if found := Find(c, m); found != nil {
			return found
		}
	}
	return nil
}

// Select applies a descendant chain: elements matching the last matcher that sit
// under an element matching the one before it, and so on. Like ".a .b" in CSS.
func Select(root *html.Node, chain ...Matcher) []*html.Node {
	current := []*html.Node{root}
	for _, m := range chain {
		seen := make(map[*html.Node]struct{})
		var next []*html.Node
		for _, n := range current {
			for _, found := range FindAll(n, m) {
				if _, dup := seen[found]; dup {
					continue
				}
				seen[found] = struct{}{}
				next = append(next, found)
			}
		}
		current = next
	}
	return current
}

// SelectOne returns the first result of Select, or nil.
func SelectOne(root *html.Node, chain ...Matcher) *html.Node {
	if res := Select(root, chain...); len(res) > 0 {
		return res[0]
	}
	return nil
}

// Attr returns the value of the key attribute.
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// Text returns the whitespace-collapsed text content of n, skipping scripts and styles.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style"):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// Resolve makes href absolute against base. Returns href unchanged when either is unparsable.
func Resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() {
		return ref.String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}
