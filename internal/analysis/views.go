package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
)

const (
	analystRowLimit   = 200
	focusRowLimit     = 30
	targetingRowLimit = 100
)

// targetData is everything the prompts of one target are built from
type targetData struct {
	Country    string
	Currency   CurrencyInfo
	Language   string
	TargetACOS float64
	Sampling   SamplingInfo
	// Sampled records the analysts see
	Terms []SearchTerm
	// Totals over every record of the target, before sampling
	TotalSpend float64
	TotalSales float64
}

// promptData is the template input of a role prompt
type promptData struct {
	Country        string
	CurrencyCode   string
	CurrencySymbol string
	Language       string
	TargetACOS     float64
	Sampling       SamplingInfo
	RecordCount    int
	AvgSpend       float64
	TotalSpend     float64
	TotalSales     float64
	OverallACOS    float64

	TermsJSON     string
	Buckets       []acosBucket
	HighACOSJSON  string
	NoSalesJSON   string
	TargetingJSON string

	SearchTermAnalysis string
	ACOSAnalysis       string
	BidStrategy        string
}

type termRow struct {
	SearchTerm     string  `json:"search_term"`
	Campaign       string  `json:"campaign,omitempty"`
	AdGroup        string  `json:"ad_group,omitempty"`
	Targeting      string  `json:"targeting,omitempty"`
	MatchType      string  `json:"match_type,omitempty"`
	SKU            string  `json:"sku,omitempty"`
	Impressions    int64   `json:"impressions"`
	Clicks         int64   `json:"clicks"`
	Spend          string  `json:"spend"`
	Sales          string  `json:"sales"`
	Orders         int64   `json:"orders"`
	ACOS           float64 `json:"acos"`
	CTR            float64 `json:"ctr,omitempty"`
	ConversionRate float64 `json:"conversion_rate"`
}

type acosBucket struct {
	Label string
	Count int
	Spend float64
}

type targetingRow struct {
	Targeting      string   `json:"targeting"`
	Campaigns      []string `json:"campaigns"`
	AdGroups       []string `json:"ad_groups"`
	Spend          string   `json:"spend"`
	Sales          string   `json:"sales"`
	Orders         int64    `json:"orders"`
	Clicks         int64    `json:"clicks"`
	Impressions    int64    `json:"impressions"`
	ACOS           float64  `json:"acos"`
	ConversionRate float64  `json:"conversion_rate"`
	CPC            string   `json:"cpc"`

	spend float64
	sales float64
}

func newPromptData(t targetData) promptData {
	d := promptData{
		Country:        t.Country,
		CurrencyCode:   t.Currency.Code,
		CurrencySymbol: t.Currency.Symbol,
		Language:       t.Language,
		TargetACOS:     t.TargetACOS,
		Sampling:       t.Sampling,
		RecordCount:    len(t.Terms),
		TotalSpend:     t.TotalSpend,
		TotalSales:     t.TotalSales,
	}
	if t.TotalSales > 0 {
		d.OverallACOS = t.TotalSpend / t.TotalSales * 100
	}
	if len(t.Terms) > 0 {
		spend, _ := Totals(t.Terms)
		d.AvgSpend = spend / float64(len(t.Terms))
	}
	return d
}

func money(symbol string, v float64) string {
	return fmt.Sprintf("%s%.2f", symbol, v)
}

func toJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

func termRows(terms []SearchTerm, symbol string, limit int) []termRow {
	sorted := append([]SearchTerm(nil), terms...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Spend > sorted[j].Spend })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	rows := make([]termRow, 0, len(sorted))
	for _, t := range sorted {
		rows = append(rows, termRow{
			SearchTerm:     t.CustomerSearchTerm,
			Campaign:       t.CampaignName,
			AdGroup:        t.AdGroupName,
			Targeting:      t.Targeting,
			MatchType:      t.MatchType,
			SKU:            t.SKU,
			Impressions:    t.Impressions,
			Clicks:         t.Clicks,
			Spend:          money(symbol, t.Spend),
			Sales:          money(symbol, t.Sales),
			Orders:         t.Orders,
			ACOS:           t.ACOS,
			CTR:            t.CTR,
			ConversionRate: t.ConversionRate,
		})
	}
	return rows
}

// acosBuckets splits terms into efficiency bands around the target ACOS
func acosBuckets(terms []SearchTerm, target float64) []acosBucket {
	bands := []struct {
		label string
		match func(SearchTerm) bool
	}{
		{fmt.Sprintf("excellent (< %.0f%%)", target*0.7), func(t SearchTerm) bool { return t.ACOS > 0 && t.ACOS <= target*0.7 }},
		{fmt.Sprintf("good (%.0f%% - %.0f%%)", target*0.7, target), func(t SearchTerm) bool { return t.ACOS > target*0.7 && t.ACOS <= target }},
		{fmt.Sprintf("marginal (%.0f%% - %.0f%%)", target, target*1.5), func(t SearchTerm) bool { return t.ACOS > target && t.ACOS <= target*1.5 }},
		{fmt.Sprintf("poor (%.0f%% - 100%%)", target*1.5), func(t SearchTerm) bool { return t.ACOS > target*1.5 && t.ACOS <= 100 }},
		{"very poor (> 100%)", func(t SearchTerm) bool { return t.ACOS > 100 }},
		{"no sales", func(t SearchTerm) bool { return t.Spend > 0 && t.Sales == 0 }},
	}

	out := make([]acosBucket, 0, len(bands))
	for _, band := range bands {
		b := acosBucket{Label: band.label}
		for _, t := range terms {
			if band.match(t) {
				b.Count++
				b.Spend += t.Spend
			}
		}
		out = append(out, b)
	}
	return out
}

func filterTerms(terms []SearchTerm, keep func(SearchTerm) bool) []SearchTerm {
	var out []SearchTerm
	for _, t := range terms {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// aggregateTargeting sums performance per targeting, highest spend first
func aggregateTargeting(terms []SearchTerm, symbol string, limit int) []targetingRow {
	index := make(map[string]int)
	var rows []targetingRow

	for _, t := range terms {
		key := t.Targeting
		if key == "" {
			key = t.CustomerSearchTerm
		}
		if key == "" {
			key = "unknown"
		}
		i, ok := index[key]
		if !ok {
			i = len(rows)
			index[key] = i
			rows = append(rows, targetingRow{Targeting: key})
		}
		r := &rows[i]
		r.Campaigns = unionStrings(r.Campaigns, []string{t.CampaignName})
		r.AdGroups = unionStrings(r.AdGroups, []string{t.AdGroupName})
		r.spend += t.Spend
		r.sales += t.Sales
		r.Orders += t.Orders
		r.Clicks += t.Clicks
		r.Impressions += t.Impressions
	}

	for i := range rows {
		r := &rows[i]
		r.Spend = money(symbol, r.spend)
		r.Sales = money(symbol, r.sales)
		if r.sales > 0 {
			r.ACOS = round2(r.spend / r.sales * 100)
		}
		cpc := 0.0
		if r.Clicks > 0 {
			r.ConversionRate = round2(float64(r.Orders) / float64(r.Clicks) * 100)
			cpc = r.spend / float64(r.Clicks)
		}
		r.CPC = money(symbol, cpc)
		if r.Campaigns == nil {
			r.Campaigns = []string{}
		}
		if r.AdGroups == nil {
			r.AdGroups = []string{}
		}
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].spend > rows[j].spend })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// analystData builds the template input of an analyst role
func analystData(role Role, t targetData) promptData {
	d := newPromptData(t)
	symbol := t.Currency.Symbol

	switch role {
	case RoleSearchTermAnalyst:
		d.TermsJSON = toJSON(termRows(t.Terms, symbol, analystRowLimit))
	case RoleACOSExpert:
		d.Buckets = acosBuckets(t.Terms, t.TargetACOS)
		d.HighACOSJSON = toJSON(termRows(filterTerms(t.Terms, func(s SearchTerm) bool { return s.ACOS > 100 }), symbol, focusRowLimit))
		d.NoSalesJSON = toJSON(termRows(filterTerms(t.Terms, func(s SearchTerm) bool { return s.Spend > 0 && s.Sales == 0 }), symbol, focusRowLimit))
	case RoleBidStrategist:
		d.TargetingJSON = toJSON(aggregateTargeting(t.Terms, symbol, targetingRowLimit))
	}
	return d
}

// integratorData builds the template input of the integrator from the analysts' answers
func integratorData(t targetData, analyses map[Role]json.RawMessage) promptData {
	d := newPromptData(t)
	d.SearchTermAnalysis = indentRaw(analyses[RoleSearchTermAnalyst])
	d.ACOSAnalysis = indentRaw(analyses[RoleACOSExpert])
	d.BidStrategy = indentRaw(analyses[RoleBidStrategist])
	return d
}

func indentRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return toJSON(v)
}
