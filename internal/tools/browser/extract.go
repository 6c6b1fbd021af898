package browser

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+|www\.[^\s<>"]+`)

// ExtractURL returns the first http(s) or www. address in text. Trailing
// sentence punctuation is not considered part of the address, and neither
// is a closing bracket that has no opening partner inside the match.
func ExtractURL(text string) (string, bool) {
	match := urlPattern.FindString(text)
	if match == "" {
		return "", false
	}
	match = trimTrailing(match)
	if match == "" || match == "www." {
		return "", false
	}
	return match, true
}

var bracketPairs = map[byte]byte{')': '(', ']': '[', '}': '{'}

func trimTrailing(s string) string {
	for s != "" {
		last := s[len(s)-1]
		if strings.IndexByte(".,;:!?'", last) >= 0 {
			s = s[:len(s)-1]
			continue
		}
		open, ok := bracketPairs[last]
		if !ok || strings.Count(s, string(open)) >= strings.Count(s, string(last)) {
			return s
		}
		s = s[:len(s)-1]
	}
	return s
}

// NormalizeURL adds a scheme to bare www. addresses.
func NormalizeURL(raw string) string {
	if strings.HasPrefix(raw, "www.") {
		return "https://" + raw
	}
	return raw
}

// ExtractText parses an HTML document and returns its <title> and the
// visible text with <script> and <style> removed and whitespace runs
// collapsed to single spaces.
func ExtractText(document string) (title, text string, err error) {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return "", "", err
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			case "title":
				if title == "" {
					title = collapse(nodeText(n))
				}
			}
		case html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return title, collapse(sb.String()), nil
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Preview returns the first n characters of text followed by "...".
func Preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes) + "..."
}
