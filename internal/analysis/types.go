package analysis

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Number is a float that also decodes from numeric strings, null and empty strings.
// Models are inconsistent about quoting numbers in structured output.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*n = 0
			return nil
		}
		*n = Number(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Number(v)
	return nil
}

func (n Number) Float() float64 {
	return float64(n)
}

// SearchTerm is one row of a search-term performance report
type SearchTerm struct {
	ID                 int64   `json:"id"`
	CustomerSearchTerm string  `json:"customer_search_term"`
	CampaignName       string  `json:"campaign_name"`
	AdGroupName        string  `json:"ad_group_name"`
	Targeting          string  `json:"targeting"`
	MatchType          string  `json:"match_type"`
	SKU                string  `json:"sku"`
	Impressions        int64   `json:"impressions"`
	Clicks             int64   `json:"clicks"`
	Spend              float64 `json:"spend"`
	Sales              float64 `json:"sales"`
	Orders             int64   `json:"orders"`
	ACOS               float64 `json:"acos"`
	CTR                float64 `json:"ctr"`
	ConversionRate     float64 `json:"conversion_rate"`
	Country            string  `json:"country"`
}

// CurrencyInfo describes the currency used by a marketplace
type CurrencyInfo struct {
	Symbol string `json:"symbol"`
	Code   string `json:"code"`
}

// NegativeWord is a search term recommended for negation
type NegativeWord struct {
	SearchTerm          string   `json:"search_term"`
	CampaignName        string   `json:"campaign_name,omitempty"`
	AdGroupName         string   `json:"ad_group_name,omitempty"`
	Targeting           string   `json:"targeting,omitempty"`
	SKU                 string   `json:"sku,omitempty"`
	Reason              string   `json:"reason,omitempty"`
	RiskLevel           string   `json:"risk_level"`
	SpendWasted         Number   `json:"spend_wasted"`
	MatchTypeSuggestion string   `json:"match_type_suggestion,omitempty"`
	CampaignsAffected   []string `json:"campaigns_affected,omitempty"`
	ReasonCategory      string   `json:"reason_category,omitempty"`
	NegationLevel       string   `json:"negation_level,omitempty"`
	NegationLevelReason string   `json:"negation_level_reason,omitempty"`
	Country             string   `json:"country,omitempty"`
}

// CurrentPerformance is the observed performance of one bid target
type CurrentPerformance struct {
	Spend  Number `json:"spend"`
	Sales  Number `json:"sales"`
	Orders Number `json:"orders"`
	ACOS   Number `json:"acos"`
	Clicks Number `json:"clicks,omitempty"`
}

// BidAdjustment is a recommended bid change for one targeting
type BidAdjustment struct {
	CampaignName       string             `json:"campaign_name,omitempty"`
	AdGroupName        string             `json:"ad_group_name,omitempty"`
	Targeting          string             `json:"targeting"`
	MatchType          string             `json:"match_type,omitempty"`
	CurrentPerformance CurrentPerformance `json:"current_performance"`
	Suggestion         string             `json:"suggestion"`
	AdjustmentPercent  Number             `json:"adjustment_percent"`
	Reason             string             `json:"reason,omitempty"`
	Priority           string             `json:"priority,omitempty"`
	AdjustmentLevel    string             `json:"adjustment_level,omitempty"`
	Confidence         Number             `json:"confidence,omitempty"`
	ConfidenceFactors  []string           `json:"confidence_factors,omitempty"`
	Country            string             `json:"country,omitempty"`
}

// OpportunityPerformance is the performance of a high-potential search term
type OpportunityPerformance struct {
	Orders         Number `json:"orders"`
	ACOS           Number `json:"acos"`
	ConversionRate Number `json:"conversion_rate"`
}

// KeywordOpportunity is a search term worth promoting to its own keyword
type KeywordOpportunity struct {
	SearchTerm           string                 `json:"search_term"`
	CampaignName         string                 `json:"campaign_name,omitempty"`
	AdGroupName          string                 `json:"ad_group_name,omitempty"`
	Targeting            string                 `json:"targeting,omitempty"`
	Performance          OpportunityPerformance `json:"performance"`
	Suggestion           string                 `json:"suggestion,omitempty"`
	MatchType            string                 `json:"match_type,omitempty"`
	EstimatedPotential   string                 `json:"estimated_potential,omitempty"`
	OpportunityType      string                 `json:"opportunity_type,omitempty"`
	RecommendedMatchType string                 `json:"recommended_match_type,omitempty"`
	MatchTypeReason      string                 `json:"match_type_reason,omitempty"`
	Country              string                 `json:"country,omitempty"`
}

// Summary holds the headline numbers of a report
type Summary struct {
	TotalSpendAnalyzed Number   `json:"total_spend_analyzed"`
	PotentialSavings   Number   `json:"potential_savings"`
	OptimizationScore  Number   `json:"optimization_score"`
	KeyInsights        []string `json:"key_insights"`
}

// Report is the structured output of the integrator role
type Report struct {
	NegativeWords        []NegativeWord       `json:"negative_words"`
	BidAdjustments       []BidAdjustment      `json:"bid_adjustments"`
	KeywordOpportunities []KeywordOpportunity `json:"keyword_opportunities"`
	Summary              *Summary             `json:"summary"`
}

// SamplingInfo records how a target's records were reduced before analysis
type SamplingInfo struct {
	Total   int  `json:"total"`
	Sampled int  `json:"sampled"`
	Applied bool `json:"applied"`
}

// TargetResult is the final, deduplicated result for one target
type TargetResult struct {
	Country              string               `json:"country"`
	Currency             CurrencyInfo         `json:"currency"`
	NegativeWords        []NegativeWord       `json:"negative_words"`
	BidAdjustments       []BidAdjustment      `json:"bid_adjustments"`
	KeywordOpportunities []KeywordOpportunity `json:"keyword_opportunities"`
	Summary              Summary              `json:"summary"`
	Sampling             SamplingInfo         `json:"sampling"`
}

// MergedResult combines every completed target.
// Money totals in Summary stay zero because targets use different currencies.
type MergedResult struct {
	NegativeWords        []NegativeWord       `json:"negative_words"`
	BidAdjustments       []BidAdjustment      `json:"bid_adjustments"`
	KeywordOpportunities []KeywordOpportunity `json:"keyword_opportunities"`
	Summary              Summary              `json:"summary"`
	ByCountry            []TargetResult       `json:"by_country"`
}

// Countries returns the targets present in the result, in merge order
func (m *MergedResult) Countries() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.ByCountry))
	for _, r := range m.ByCountry {
		out = append(out, r.Country)
	}
	return out
}

// Target returns the result of one country
func (m *MergedResult) Target(country string) (TargetResult, bool) {
	if m == nil {
		return TargetResult{}, false
	}
	for _, r := range m.ByCountry {
		if r.Country == country {
			return r, true
		}
	}
	return TargetResult{}, false
}
