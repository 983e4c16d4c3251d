package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestPartition(t *testing.T) {
	terms := []SearchTerm{
		{ID: 1, Country: "DE"},
		{ID: 2, Country: " US "},
		{ID: 3, Country: ""},
		{ID: 4, Country: "DE"},
		{ID: 5, Country: "unknown"},
		{ID: 6, Country: "JP"},
	}

	p := Partition(terms)
	assert.Equal(t, []string{"DE", "US", "JP"}, p.Targets)
	assert.Equal(t, 2, p.Unknown)
	assert.Len(t, p.ByTarget["DE"], 2)
	assert.Equal(t, int64(2), p.ByTarget["US"][0].ID)

	assert.Equal(t, []string{"DE", "JP"}, p.Without([]string{"US"}))
	assert.Equal(t, []string{"DE", "US", "JP"}, p.Without(nil))
	assert.Empty(t, p.Without([]string{"DE", "US", "JP"}))
}

func TestFilterCountries(t *testing.T) {
	terms := testTerms("US", "DE", "JP")
	got := FilterCountries(terms, []string{"JP", "US"})
	require.Len(t, got, 6)
	assert.Equal(t, "US", got[0].Country)
	assert.Equal(t, "JP", got[5].Country)
	assert.Empty(t, FilterCountries(terms, nil))
}

func sampleTerms(n int) []SearchTerm {
	terms := make([]SearchTerm, 0, n)
	for i := 0; i < n; i++ {
		t := SearchTerm{ID: int64(i + 1), CustomerSearchTerm: fmt.Sprintf("term %d", i), Spend: float64(i + 1)}
		switch i % 4 {
		case 0:
			t.ACOS, t.Orders, t.Sales = 80, 1, t.Spend/0.8
		case 1:
			t.Clicks, t.Orders = 20, 0
		case 2:
			t.ACOS, t.Orders, t.Sales = 10, 2, t.Spend*10
		}
		terms = append(terms, t)
	}
	return terms
}

func TestSmartSample(t *testing.T) {
	terms := sampleTerms(1000)
	got := SmartSample(terms, 30, 100)
	require.Len(t, got, 100)

	seen := make(map[int64]bool)
	for _, s := range got {
		assert.False(t, seen[s.ID], "duplicate %d", s.ID)
		seen[s.ID] = true
	}

	// The 40 highest spenders come first
	for i := 0; i < 40; i++ {
		assert.Equal(t, int64(1000-i), got[i].ID)
	}

	var highACOS, noOrders, converting int
	for _, s := range got[40:] {
		switch {
		case s.ACOS > 30:
			highACOS++
		case s.Clicks > 10 && s.Orders == 0:
			noOrders++
		case s.ACOS > 0 && s.ACOS < 30:
			converting++
		}
	}
	assert.Equal(t, 20, highACOS)
	assert.Equal(t, 20, noOrders)
	assert.Equal(t, 20, converting)
}

func TestSmartSample_BackfillsFromSpend(t *testing.T) {
	terms := make([]SearchTerm, 50)
	for i := range terms {
		terms[i] = SearchTerm{ID: int64(i + 1), Spend: float64(i), Orders: 1, ACOS: 20}
	}
	got := SmartSample(terms, 30, 20)
	require.Len(t, got, 20)
	// Only the converting quota applies; the rest is taken by spend
	seen := make(map[int64]bool)
	for _, s := range got {
		seen[s.ID] = true
	}
	assert.Len(t, seen, 20)
}

func TestSmartSample_UnderLimit(t *testing.T) {
	terms := sampleTerms(10)
	assert.Equal(t, terms, SmartSample(terms, 30, 200))
	assert.Equal(t, terms, SmartSample(terms, 30, 0))
}

func TestTotals(t *testing.T) {
	spend, sales := Totals(testTerms("US"))
	assert.Equal(t, 60.0, spend)
	assert.Equal(t, 60.0, sales)
}

func TestCurrencyFor(t *testing.T) {
	assert.Equal(t, CurrencyInfo{Symbol: "$", Code: "USD"}, CurrencyFor("US"))
	assert.Equal(t, CurrencyInfo{Symbol: "£", Code: "GBP"}, CurrencyFor("uk"))
	assert.Equal(t, CurrencyInfo{Symbol: "¥", Code: "JPY"}, CurrencyFor(" JP "))

	ch := CurrencyFor("CH")
	assert.Equal(t, "CHF", ch.Code)
	assert.NotEmpty(t, ch.Symbol)

	assert.Equal(t, defaultCurrency, CurrencyFor(""))
	assert.Equal(t, defaultCurrency, CurrencyFor("not a country"))
}

func TestDetectMarketLanguage(t *testing.T) {
	terms := []SearchTerm{
		{CustomerSearchTerm: "mausefalle für den innenbereich"},
		{CustomerSearchTerm: "lebendfalle für mäuse und ratten"},
		{CustomerSearchTerm: "ab"},
		{CustomerSearchTerm: "die beste mausefalle mit köder"},
	}
	tag := DetectMarketLanguage(terms)
	assert.Equal(t, "de", tag.String())
	assert.Equal(t, "German", LanguageName(tag))

	assert.Equal(t, language.Und, DetectMarketLanguage([]SearchTerm{{CustomerSearchTerm: "ab"}}))
	assert.Empty(t, LanguageName(language.Und))
}

func TestEstimateProgress(t *testing.T) {
	assert.Equal(t, 10, EstimateProgress(0))
	assert.Equal(t, 53, EstimateProgress(1500))
	assert.Equal(t, 90, EstimateProgress(3000))
	assert.Equal(t, 90, EstimateProgress(100000))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short"))

	long := strings.Repeat("ä", 100) + strings.Repeat("b", 150)
	assert.Equal(t, strings.Repeat("b", 150), Preview(long))
}

func TestQueryTool(t *testing.T) {
	terms := testTerms("US")
	tool := NewQueryTool(terms, CurrencyFor("US"))
	assert.Equal(t, QueryToolName, tool.Name())

	run := func(args string) queryResult {
		res, err := tool.Execute(context.Background(), json.RawMessage(args))
		require.NoError(t, err)
		require.False(t, res.IsError, res.Content)
		var got queryResult
		require.NoError(t, json.Unmarshal([]byte(res.Content), &got))
		return got
	}

	all := run(`{}`)
	assert.Equal(t, 3, all.Matched)
	assert.Equal(t, "mouse trap 2", all.Rows[0].SearchTerm)
	assert.Equal(t, "$30.00", all.Rows[0].Spend)

	assert.Equal(t, 1, run(`{"zero_orders": true}`).Matched)
	assert.Equal(t, 2, run(`{"min_spend": 20}`).Matched)
	assert.Equal(t, 1, run(`{"min_acos": 100}`).Matched)
	assert.Equal(t, 1, run(`{"contains": "TRAP 1"}`).Matched)

	limited := run(`{"limit": 1}`)
	assert.Equal(t, 3, limited.Matched)
	assert.Equal(t, 1, limited.Returned)

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"limit": "x"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
