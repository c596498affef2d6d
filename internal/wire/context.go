package wire

import (
	"fmt"
	"sort"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// MaxContextChars caps the rendered value of a single context item.
const MaxContextChars = 20000

const contextPreamble = "The user attached the following context. " +
	"Use it as grounding for the request that follows; it is not part of the request itself."

// RenderContexts describes each context item for the synthetic system
// message that precedes a user turn.
func RenderContexts(contexts []*types.ContextPart) string {
	var sb strings.Builder
	sb.WriteString(contextPreamble)
	for i, c := range contexts {
		fmt.Fprintf(&sb, "\n\n## Context %d: %s\n", i+1, c.Label)
		fmt.Fprintf(&sb, "Type: %s\n", c.ContextType)
		if len(c.Metadata) > 0 {
			keys := make([]string, 0, len(c.Metadata))
			for k := range c.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&sb, "%s: %s\n", k, c.Metadata[k])
			}
		}
		sb.WriteString("\n")
		sb.WriteString(contextValue(c))
	}
	return sb.String()
}

func contextValue(c *types.ContextPart) string {
	value := c.Value
	if isHTML(c) {
		if markdown, err := htmlToMarkdown(value); err == nil {
			value = markdown
		}
	}
	return truncate(strings.TrimSpace(value), MaxContextChars)
}

func isHTML(c *types.ContextPart) bool {
	switch strings.ToLower(c.Metadata["format"]) {
	case "html":
		return true
	case "text", "markdown":
		return false
	}
	if strings.HasPrefix(c.Metadata["mimeType"], "text/html") {
		return true
	}
	v := strings.TrimSpace(c.Value)
	return strings.HasPrefix(v, "<") && strings.Contains(v, "</")
}

// htmlToMarkdown strips non-content elements and converts the rest.
func htmlToMarkdown(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, iframe, object, embed").Remove()

	cleaned, err := doc.Html()
	if err != nil {
		return "", err
	}

	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
	})
	return converter.ConvertString(cleaned)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "\n[truncated]"
}
