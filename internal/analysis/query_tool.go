package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/chenapple/thesaurus-management/internal/tools"
)

const (
	QueryToolName     = "query_search_terms"
	defaultQueryLimit = 20
	maxQueryLimit     = 50
)

type queryArgs struct {
	Contains   string  `json:"contains"`
	MinSpend   float64 `json:"min_spend"`
	MinACOS    float64 `json:"min_acos"`
	ZeroOrders bool    `json:"zero_orders"`
	Limit      int     `json:"limit"`
}

type queryResult struct {
	Matched  int       `json:"matched"`
	Returned int       `json:"returned"`
	Rows     []termRow `json:"rows"`
}

// NewQueryTool creates a tool searching every record of one target, including records left out by sampling
func NewQueryTool(terms []SearchTerm, currency CurrencyInfo) tools.Tool {
	zero := 0.0
	params := tools.Schema(map[string]tools.Property{
		"contains":    {Type: "string", Description: "Case-insensitive substring of the search term"},
		"min_spend":   {Type: "number", Description: "Minimum spend", Minimum: &zero},
		"min_acos":    {Type: "number", Description: "Minimum ACOS in percent", Minimum: &zero},
		"zero_orders": {Type: "boolean", Description: "Only terms without orders"},
		"limit":       {Type: "integer", Description: fmt.Sprintf("Maximum rows to return (default %d, max %d)", defaultQueryLimit, maxQueryLimit)},
	})

	return tools.NewFuncTool(QueryToolName,
		"Search the full search term report of the current market. Results are ordered by spend, highest first.",
		params,
		func(_ context.Context, raw json.RawMessage) (tools.ToolResult, error) {
			var args queryArgs
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return tools.ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
				}
			}
			return tools.ToolResult{Content: toJSON(queryTerms(terms, currency, args))}, nil
		})
}

func queryTerms(terms []SearchTerm, currency CurrencyInfo, args queryArgs) queryResult {
	needle := strings.ToLower(strings.TrimSpace(args.Contains))
	matched := filterTerms(terms, func(t SearchTerm) bool {
		if needle != "" && !strings.Contains(strings.ToLower(t.CustomerSearchTerm), needle) {
			return false
		}
		if t.Spend < args.MinSpend || t.ACOS < args.MinACOS {
			return false
		}
		return !args.ZeroOrders || t.Orders == 0
	})
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Spend > matched[j].Spend })

	limit := args.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	limit = min(limit, maxQueryLimit)

	rows := termRows(matched, currency.Symbol, limit)
	return queryResult{Matched: len(matched), Returned: len(rows), Rows: rows}
}
