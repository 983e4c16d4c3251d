package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStructured(t *testing.T) {
	wellFormed := `{"negative_words":[{"search_term":"free stuff","spend_wasted":12.5}],"summary":{"key_insights":["a"]}}`

	tests := []struct {
		name string
		in   string
	}{
		{"plain", wellFormed},
		{"fenced json", "```json\n" + wellFormed + "\n```"},
		{"fenced without language", "```\n" + wellFormed + "\n```"},
		{"prose around", "Here is the result:\n" + wellFormed + "\nLet me know if you need more."},
		{"trailing commas", `{"negative_words":[{"search_term":"free stuff","spend_wasted":12.5,},],"summary":{"key_insights":["a",],},}`},
	}

	var want map[string]any
	require.NoError(t, json.Unmarshal([]byte(wellFormed), &want))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			require.NoError(t, ParseStructured(tt.in, &got))
			assert.Equal(t, want, got)
		})
	}
}

func TestParseStructured_MissingTrailingBracket(t *testing.T) {
	wellFormed := `{"negative_words":[{"search_term":"x","spend_wasted":5}]}`
	broken := "```json\n" + `{"negative_words":[{"search_term":"x","spend_wasted":5}}` + "\n```"

	var want, got map[string]any
	require.NoError(t, ParseStructured(wellFormed, &want))
	require.NoError(t, ParseStructured(broken, &got))
	assert.Equal(t, want, got)
}

func TestParseStructured_Truncated(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"open array and object", `{"a":[{"x":1}`, `{"a":[{"x":1}]}`},
		{"open string", `{"a":"unfinished`, `{"a":"unfinished"}`},
		{"dangling comma", `{"a":1,`, `{"a":1}`},
		{"unclosed fence", "```json\n{\"a\":[1,2", `{"a":[1,2]}`},
		{"brackets inside strings", `{"a":"[{","b":[1`, `{"a":"[{","b":[1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got, want any
			require.NoError(t, ParseStructured(tt.in, &got))
			require.NoError(t, json.Unmarshal([]byte(tt.want), &want))
			assert.Equal(t, want, got)
		})
	}
}

func TestParseStructured_Errors(t *testing.T) {
	var out map[string]any

	err := ParseStructured("I could not analyze this data.", &out)
	var sErr *StructuredOutputError
	require.ErrorAs(t, err, &sErr)
	assert.ErrorIs(t, err, ErrNoJSONObject)

	err = ParseStructured(`{"a": tru}`, &out)
	require.ErrorAs(t, err, &sErr)
	assert.Contains(t, sErr.Snippet, `"a": tru`)
}

func TestBalanceBrackets(t *testing.T) {
	assert.Equal(t, `{"a":[1]}`, balanceBrackets(`{"a":[1}`))
	assert.Equal(t, `{"a":1}`, balanceBrackets(`{"a":1}]`))
	assert.Equal(t, `{"a":"x\\"}`, balanceBrackets(`{"a":"x\`))
	assert.Equal(t, `{"a":"}"}`, balanceBrackets(`{"a":"}"}`))
}

func TestRemoveTrailingCommas(t *testing.T) {
	assert.Equal(t, `{"a":[1,2]}`, removeTrailingCommas(`{"a":[1,2,]}`))
	assert.Equal(t, `{"a":",]"}`, removeTrailingCommas(`{"a":",]"}`))
	assert.Equal(t, "{\"a\":1\n}", removeTrailingCommas("{\"a\":1,\n}"))
}

func TestParseReport(t *testing.T) {
	text := "```json\n" + `{
  "negative_words": [
    {"search_term": "cheap", "spend_wasted": "12.50", "risk_level": "high", "campaigns_affected": ["A"]},
    {"search_term": "broken", "campaigns_affected": "not-a-list"},
    {"search_term": "free", "spend_wasted": null}
  ],
  "bid_adjustments": [
    {"targeting": "mouse", "suggestion": "decrease", "adjustment_percent": "-15%", "confidence": 0.8,
     "current_performance": {"spend": 10, "sales": "20", "orders": 1, "acos": 50}}
  ],
  "keyword_opportunities": [
    {"search_term": "rat trap", "performance": {"orders": "3", "acos": 12.5, "conversion_rate": 9}}
  ],
  "summary": {"total_spend_analyzed": 99, "potential_savings": 1000, "optimization_score": "72", "key_insights": ["ok"]}
}` + "\n```"

	report, err := ParseReport(text)
	require.NoError(t, err)

	require.Len(t, report.NegativeWords, 2)
	assert.Equal(t, Number(12.5), report.NegativeWords[0].SpendWasted)
	assert.Equal(t, "free", report.NegativeWords[1].SearchTerm)
	assert.Zero(t, report.NegativeWords[1].SpendWasted)

	require.Len(t, report.BidAdjustments, 1)
	assert.Equal(t, Number(-15), report.BidAdjustments[0].AdjustmentPercent)
	assert.Equal(t, Number(20), report.BidAdjustments[0].CurrentPerformance.Sales)

	require.Len(t, report.KeywordOpportunities, 1)
	assert.Equal(t, Number(3), report.KeywordOpportunities[0].Performance.Orders)

	require.NotNil(t, report.Summary)
	assert.Equal(t, Number(72), report.Summary.OptimizationScore)
	assert.Empty(t, MissingFields(report))
}

func TestParseReport_MissingFields(t *testing.T) {
	report, err := ParseReport(`{"negative_words": []}`)
	require.NoError(t, err)
	assert.NotNil(t, report.NegativeWords)
	assert.Nil(t, report.Summary)
	assert.Equal(t, []string{"bid_adjustments", "keyword_opportunities", "summary"}, MissingFields(report))
}

func TestNumber_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in   string
		want Number
	}{
		{`12.5`, 12.5},
		{`"12.5"`, 12.5},
		{`"1,234.5"`, 1234.5},
		{`"35%"`, 35},
		{`""`, 0},
		{`"n/a"`, 0},
		{`null`, 0},
	}
	for _, tt := range tests {
		var n Number
		require.NoError(t, json.Unmarshal([]byte(tt.in), &n), tt.in)
		assert.Equal(t, tt.want, n, tt.in)
	}

	var n Number
	assert.Error(t, json.Unmarshal([]byte(`{}`), &n))
}
