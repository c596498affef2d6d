// Package pagetools provides an MCP server with text utilities for page
// content: counting words and extracting links from HTML.
package pagetools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Name is the server name reported during initialization.
const Name = "pagetools"

// WordCount is the result of word_count.
type WordCount struct {
	Words      int `json:"words"`
	Characters int `json:"characters"`
	Lines      int `json:"lines"`
}

// Link is one entry of extract_links.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text,omitempty"`
}

// NewServer creates a new MCP server with the page tools.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		Name,
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.AddTool(mcp.NewTool("word_count",
		mcp.WithDescription("Counts words, characters and lines in a piece of text"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text to count"),
		),
	), wordCountHandler)

	s.AddTool(mcp.NewTool("extract_links",
		mcp.WithDescription("Extracts the links of an HTML document, resolved against an optional base URL"),
		mcp.WithString("html",
			mcp.Required(),
			mcp.Description("HTML source"),
		),
		mcp.WithString("baseUrl",
			mcp.Description("URL the document was loaded from"),
		),
	), extractLinksHandler)

	return s
}

func wordCountHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, ok := request.GetArguments()["text"].(string)
	if !ok {
		return mcp.NewToolResultError("text argument is required"), nil
	}
	return jsonResult(CountWords(text))
}

// CountWords counts whitespace-separated words, runes and lines.
func CountWords(text string) WordCount {
	wc := WordCount{
		Words:      len(strings.Fields(text)),
		Characters: utf8.RuneCountInString(text),
	}
	if text != "" {
		wc.Lines = strings.Count(strings.TrimRight(text, "\n"), "\n") + 1
	}
	return wc
}

func extractLinksHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	html, ok := args["html"].(string)
	if !ok {
		return mcp.NewToolResultError("html argument is required"), nil
	}
	base, _ := args["baseUrl"].(string)

	links, err := ExtractLinks(html, base)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(links)
}

// ExtractLinks returns the unique anchors of html in document order.
// Fragment-only and javascript: links are skipped.
func ExtractLinks(html, base string) ([]Link, error) {
	var baseURL *url.URL
	if base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid baseUrl: %w", err)
		}
		baseURL = u
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	links := []Link{}
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		if baseURL != nil {
			if ref, err := url.Parse(href); err == nil {
				href = baseURL.ResolveReference(ref).String()
			}
		}
		if seen[href] {
			return
		}
		seen[href] = true
		links = append(links, Link{
			Href: href,
			Text: strings.Join(strings.Fields(sel.Text()), " "),
		})
	})
	return links, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
