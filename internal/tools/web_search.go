package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultWebSearchURL = "https://api.tavily.com/search"

// WebSearchTool looks up marketplace context for a target through the Tavily API
type WebSearchTool struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
}

// WebSearchArgs represents the arguments for web search
type WebSearchArgs struct {
	Query      string `json:"query"`
	Country    string `json:"country,omitempty"`
	SearchType string `json:"search_type,omitempty"` // keywords, competitors, trends, all
}

// TavilyRequest represents a request to Tavily API
type TavilyRequest struct {
	APIKey            string   `json:"api_key"`
	Query             string   `json:"query"`
	SearchDepth       string   `json:"search_depth,omitempty"`
	IncludeAnswer     bool     `json:"include_answer,omitempty"`
	IncludeRawContent bool     `json:"include_raw_content,omitempty"`
	MaxResults        int      `json:"max_results,omitempty"`
	IncludeDomains    []string `json:"include_domains,omitempty"`
}

// TavilyResponse represents a response from Tavily API
type TavilyResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer,omitempty"`
	Results []TavilyResult `json:"results"`
}

// TavilyResult represents a single search result
type TavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// NewWebSearchTool creates a new web search tool
func NewWebSearchTool(apiKey, apiURL string) *WebSearchTool {
	if apiURL == "" {
		apiURL = DefaultWebSearchURL
	}
	return &WebSearchTool{
		apiKey: apiKey,
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *WebSearchTool) Name() string {
	return "web_search"
}

func (t *WebSearchTool) Description() string {
	return `Search the web for marketplace context that the search term report cannot answer.
Use this tool to find:
- Search volume and seasonality of a keyword in the target marketplace
- Competing brands and products for a search term
- Whether an unfamiliar search term names a brand, a competitor ASIN or an unrelated product

Only search when the answer changes a recommendation; the report data remains the primary source.`
}

func (t *WebSearchTool) Parameters() json.RawMessage {
	return Schema(map[string]Property{
		"query": {
			Type:        "string",
			Description: "The search query, usually a search term or product phrase from the report",
		},
		"country": {
			Type:        "string",
			Description: "Two-letter marketplace country code, e.g. US, DE, JP (optional)",
		},
		"search_type": {
			Type:        "string",
			Enum:        []string{"keywords", "competitors", "trends", "all"},
			Description: "'keywords' for search volume and related terms, 'competitors' for competing products, 'trends' for seasonality, 'all' for a general search",
		},
	}, "query")
}

func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var searchArgs WebSearchArgs
	if err := json.Unmarshal(args, &searchArgs); err != nil {
		return ToolResult{
			Content: fmt.Sprintf("Failed to parse search arguments: %v", err),
			IsError: true,
		}, nil
	}
	if strings.TrimSpace(searchArgs.Query) == "" {
		return ToolResult{Content: "query is required", IsError: true}, nil
	}

	results, err := t.search(ctx, t.buildQuery(searchArgs))
	if err != nil {
		return ToolResult{
			Content: fmt.Sprintf("Search failed: %v", err),
			IsError: true,
		}, nil
	}

	return ToolResult{
		Content: t.formatResults(results),
	}, nil
}

func (t *WebSearchTool) buildQuery(args WebSearchArgs) string {
	query := args.Query
	if args.Country == "" {
		return query
	}

	marketplace := "Amazon " + strings.ToUpper(args.Country)
	switch args.SearchType {
	case "keywords":
		return fmt.Sprintf("%s search volume related keywords %s", marketplace, query)
	case "competitors":
		return fmt.Sprintf("%s best sellers competing products %s", marketplace, query)
	case "trends":
		return fmt.Sprintf("%s seasonal demand trend %s", marketplace, query)
	default:
		return fmt.Sprintf("%s %s", marketplace, query)
	}
}

func (t *WebSearchTool) search(ctx context.Context, query string) (*TavilyResponse, error) {
	request := TavilyRequest{
		APIKey:        t.apiKey,
		Query:         query,
		SearchDepth:   "basic",
		IncludeAnswer: true,
		MaxResults:    5,
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var tavilyResp TavilyResponse
	if err := json.Unmarshal(body, &tavilyResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &tavilyResp, nil
}

const maxResultContent = 500

func (t *WebSearchTool) formatResults(resp *TavilyResponse) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Search Query: %s\n\n", resp.Query)
	if resp.Answer != "" {
		fmt.Fprintf(&b, "Summary: %s\n\n", resp.Answer)
	}

	if len(resp.Results) == 0 {
		b.WriteString("No results found.\n")
		return b.String()
	}

	b.WriteString("Search Results:\n")
	for i, r := range resp.Results {
		content := r.Content
		if len(content) > maxResultContent {
			content = content[:maxResultContent] + "..."
		}
		fmt.Fprintf(&b, "\n%d. %s\n   URL: %s\n   Content: %s\n", i+1, r.Title, r.URL, content)
	}

	return b.String()
}
