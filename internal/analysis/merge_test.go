package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupNegativeWords_NoDuplicates(t *testing.T) {
	words := []NegativeWord{
		{SearchTerm: "cheap mouse", RiskLevel: "low", SpendWasted: 3, CampaignsAffected: []string{"A"}},
		{SearchTerm: "free", RiskLevel: "high", SpendWasted: 10},
		{SearchTerm: "diy trap", RiskLevel: "medium", SpendWasted: 7, MatchTypeSuggestion: "phrase"},
	}

	got := DedupNegativeWords(words)
	assert.ElementsMatch(t, words, got)
	assert.Equal(t, []string{"free", "diy trap", "cheap mouse"}, []string{got[0].SearchTerm, got[1].SearchTerm, got[2].SearchTerm})
}

func TestDedupNegativeWords_MergesDuplicates(t *testing.T) {
	words := []NegativeWord{
		{
			SearchTerm: "Free Mouse", AdGroupName: "Group 1", RiskLevel: "medium", SpendWasted: 12.25,
			MatchTypeSuggestion: "phrase", CampaignsAffected: []string{"A", "B"},
		},
		{SearchTerm: "other", RiskLevel: "low", SpendWasted: 20},
		{
			SearchTerm: "free mouse ", AdGroupName: "Group 2", RiskLevel: "high", SpendWasted: 10.5,
			MatchTypeSuggestion: "exact", CampaignsAffected: []string{"B", "C"},
		},
		{SearchTerm: "FREE MOUSE", AdGroupName: "Group 1", RiskLevel: "low", SpendWasted: 0.25},
		{SearchTerm: "   ", SpendWasted: 99},
	}

	got := DedupNegativeWords(words)
	require.Len(t, got, 2)

	merged := got[0]
	assert.Equal(t, "Free Mouse", merged.SearchTerm)
	assert.InDelta(t, 23.0, merged.SpendWasted.Float(), 1e-9)
	assert.Equal(t, "high", merged.RiskLevel)
	assert.Equal(t, "exact", merged.MatchTypeSuggestion)
	assert.Equal(t, []string{"A", "B", "C"}, merged.CampaignsAffected)
	assert.Equal(t, "Group 1, Group 2", merged.AdGroupName)

	assert.Equal(t, "other", got[1].SearchTerm)

	// The input is left untouched
	assert.Equal(t, []string{"A", "B"}, words[0].CampaignsAffected)
	assert.Equal(t, Number(12.25), words[0].SpendWasted)
}

func TestDedupNegativeWords_SeverityIsMax(t *testing.T) {
	for _, tt := range []struct{ a, b, want string }{
		{"low", "medium", "medium"},
		{"high", "low", "high"},
		{"", "low", "low"},
		{"medium", "unknown", "medium"},
	} {
		got := DedupNegativeWords([]NegativeWord{
			{SearchTerm: "x", RiskLevel: tt.a, SpendWasted: 1},
			{SearchTerm: "X", RiskLevel: tt.b, SpendWasted: 2},
		})
		require.Len(t, got, 1)
		assert.Equal(t, tt.want, got[0].RiskLevel, "%s + %s", tt.a, tt.b)
		assert.Equal(t, Number(3), got[0].SpendWasted)
	}
}

func TestDedupKeywordOpportunities(t *testing.T) {
	opps := []KeywordOpportunity{
		{
			SearchTerm: "rat trap", CampaignName: "Camp A", AdGroupName: "G1",
			Performance: OpportunityPerformance{Orders: 2, ACOS: 20, ConversionRate: 5},
		},
		{SearchTerm: "mouse trap", Performance: OpportunityPerformance{Orders: 4, ACOS: 10}},
		{
			SearchTerm: "Rat Trap", CampaignName: "Camp B", AdGroupName: "G1",
			Performance: OpportunityPerformance{Orders: 3, ACOS: 12, ConversionRate: 9},
		},
		{SearchTerm: "", Performance: OpportunityPerformance{Orders: 100}},
	}

	got := DedupKeywordOpportunities(opps)
	require.Len(t, got, 2)

	assert.Equal(t, "rat trap", got[0].SearchTerm)
	assert.Equal(t, Number(5), got[0].Performance.Orders)
	assert.Equal(t, Number(12), got[0].Performance.ACOS)
	assert.Equal(t, Number(9), got[0].Performance.ConversionRate)
	assert.Equal(t, "Camp A, Camp B", got[0].CampaignName)
	assert.Equal(t, "G1", got[0].AdGroupName)

	assert.Equal(t, "mouse trap", got[1].SearchTerm)
}

func TestFinalizeTarget_RecomputesSavings(t *testing.T) {
	report := &Report{
		NegativeWords: []NegativeWord{
			{SearchTerm: "a", SpendWasted: 10.111},
			{SearchTerm: "A", SpendWasted: 5.005},
			{SearchTerm: "b", SpendWasted: 2},
		},
		BidAdjustments:       []BidAdjustment{},
		KeywordOpportunities: []KeywordOpportunity{},
		Summary: &Summary{
			TotalSpendAnalyzed: 1,
			PotentialSavings:   999,
			OptimizationScore:  64,
			KeyInsights:        []string{"insight"},
		},
	}

	result := FinalizeTarget("DE", report, 123.456, SamplingInfo{Total: 3, Sampled: 3})

	assert.Equal(t, "DE", result.Country)
	assert.Equal(t, CurrencyInfo{Symbol: "€", Code: "EUR"}, result.Currency)
	assert.Len(t, result.NegativeWords, 2)
	assert.Equal(t, PotentialSavings(result.NegativeWords), result.Summary.PotentialSavings.Float())
	assert.Equal(t, 17.12, result.Summary.PotentialSavings.Float())
	assert.Equal(t, Number(123.46), result.Summary.TotalSpendAnalyzed)
	assert.Equal(t, Number(64), result.Summary.OptimizationScore)
	assert.Equal(t, []string{"insight"}, result.Summary.KeyInsights)
}

func TestFinalizeTarget_RepairsMissingFields(t *testing.T) {
	result := FinalizeTarget("JP", &Report{}, 50, SamplingInfo{})

	assert.NotNil(t, result.NegativeWords)
	assert.NotNil(t, result.BidAdjustments)
	assert.NotNil(t, result.KeywordOpportunities)
	assert.Equal(t, Number(50), result.Summary.OptimizationScore)
	assert.Equal(t, Number(50), result.Summary.TotalSpendAnalyzed)
	assert.Zero(t, result.Summary.PotentialSavings)
	assert.Equal(t, []string{"JP analysis completed but the result may be incomplete"}, result.Summary.KeyInsights)
}

func TestRepairReport(t *testing.T) {
	r := &Report{NegativeWords: []NegativeWord{}, Summary: &Summary{OptimizationScore: 80}}
	repaired := RepairReport(r, "US", 10)

	assert.Equal(t, []string{"bid_adjustments", "keyword_opportunities", "summary.key_insights"}, repaired)
	assert.Equal(t, Number(80), r.Summary.OptimizationScore)
	assert.NotNil(t, r.Summary.KeyInsights)
	assert.Empty(t, RepairReport(r, "US", 10))
}

func TestMergeTargets(t *testing.T) {
	us := TargetResult{
		Country:              "US",
		NegativeWords:        []NegativeWord{{SearchTerm: "free", SpendWasted: 10}},
		BidAdjustments:       []BidAdjustment{{Targeting: "mouse"}},
		KeywordOpportunities: []KeywordOpportunity{},
		Summary: Summary{
			TotalSpendAnalyzed: 100, PotentialSavings: 10, OptimizationScore: 71,
			KeyInsights: []string{"u1", "u2", "u3", "u4", "u5", "u6"},
		},
	}
	de := TargetResult{
		Country:              "DE",
		NegativeWords:        []NegativeWord{{SearchTerm: "free", SpendWasted: 4}},
		KeywordOpportunities: []KeywordOpportunity{{SearchTerm: "falle"}},
		Summary: Summary{
			TotalSpendAnalyzed: 80, PotentialSavings: 4, OptimizationScore: 60,
			KeyInsights: []string{"d1", "d2", "d3", "d4", "d5", "d6"},
		},
	}

	merged := MergeTargets([]TargetResult{us, de})

	require.Len(t, merged.NegativeWords, 2)
	assert.Equal(t, "US", merged.NegativeWords[0].Country)
	assert.Equal(t, "DE", merged.NegativeWords[1].Country)
	assert.Equal(t, "US", merged.BidAdjustments[0].Country)
	assert.Equal(t, "DE", merged.KeywordOpportunities[0].Country)

	// Cross-currency money is never summed
	assert.Zero(t, merged.Summary.TotalSpendAnalyzed)
	assert.Zero(t, merged.Summary.PotentialSavings)
	assert.Equal(t, Number(66), merged.Summary.OptimizationScore)

	require.Len(t, merged.Summary.KeyInsights, MaxMergedInsights)
	assert.Equal(t, "[US] u1", merged.Summary.KeyInsights[0])
	assert.Equal(t, "[DE] d1", merged.Summary.KeyInsights[6])

	assert.Equal(t, []string{"US", "DE"}, merged.Countries())
	got, ok := merged.Target("DE")
	require.True(t, ok)
	assert.Equal(t, Number(4), got.Summary.PotentialSavings)

	// Source results are not tagged in place
	assert.Empty(t, us.NegativeWords[0].Country)
}

func TestMergeTargets_Empty(t *testing.T) {
	merged := MergeTargets(nil)
	assert.NotNil(t, merged.NegativeWords)
	assert.Zero(t, merged.Summary.OptimizationScore)
	assert.Empty(t, merged.ByCountry)
}

func TestMergeRetry(t *testing.T) {
	existing := MergeTargets([]TargetResult{
		{Country: "US", Summary: Summary{OptimizationScore: 70}},
		{Country: "JP", Summary: Summary{OptimizationScore: 40}},
	})
	retried := []TargetResult{
		{Country: "JP", Summary: Summary{OptimizationScore: 60}},
		{Country: "DE", Summary: Summary{OptimizationScore: 50}},
	}

	merged := MergeRetry(existing, retried, []string{"DE", "US", "JP"})
	assert.Equal(t, []string{"DE", "US", "JP"}, merged.Countries())
	assert.Equal(t, Number(60), merged.Summary.OptimizationScore)

	full := MergeTargets([]TargetResult{retried[1], existing.ByCountry[0], retried[0]})
	assert.Equal(t, full, merged)

	assert.Equal(t, []string{"JP", "DE"}, MergeRetry(nil, retried, nil).Countries())
}
