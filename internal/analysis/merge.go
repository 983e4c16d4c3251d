package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// MaxMergedInsights caps the insights of a merged summary
const MaxMergedInsights = 10

var riskRank = map[string]int{"high": 3, "medium": 2, "low": 1}

func dedupKey(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

// joinDistinct appends name to a comma-separated list unless it is already present
func joinDistinct(list, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return list
	}
	if list == "" {
		return name
	}
	for _, part := range strings.Split(list, ", ") {
		if part == name {
			return list
		}
	}
	return list + ", " + name
}

// DedupNegativeWords merges negative words sharing a case-insensitive search term.
//
// Wasted spend is summed, affected campaigns are unioned, ad groups are joined, the highest risk
// level wins and an exact match-type suggestion overrides broader ones. Output is ordered by wasted
// spend, descending. Items without a search term are dropped.
func DedupNegativeWords(words []NegativeWord) []NegativeWord {
	index := make(map[string]int, len(words))
	out := make([]NegativeWord, 0, len(words))

	for _, w := range words {
		key := dedupKey(w.SearchTerm)
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, w)
			continue
		}

		existing := &out[i]
		existing.SpendWasted += w.SpendWasted
		existing.CampaignsAffected = unionStrings(existing.CampaignsAffected, w.CampaignsAffected)
		existing.AdGroupName = joinDistinct(existing.AdGroupName, w.AdGroupName)
		if riskRank[strings.ToLower(w.RiskLevel)] > riskRank[strings.ToLower(existing.RiskLevel)] {
			existing.RiskLevel = w.RiskLevel
		}
		if strings.EqualFold(w.MatchTypeSuggestion, "exact") {
			existing.MatchTypeSuggestion = "exact"
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SpendWasted > out[j].SpendWasted
	})
	return out
}

// DedupKeywordOpportunities merges opportunities sharing a case-insensitive search term.
//
// Orders are summed; the lowest ACOS is kept together with its conversion rate; ad group and
// campaign names are joined. Output is ordered by orders, descending.
func DedupKeywordOpportunities(opps []KeywordOpportunity) []KeywordOpportunity {
	index := make(map[string]int, len(opps))
	out := make([]KeywordOpportunity, 0, len(opps))

	for _, o := range opps {
		key := dedupKey(o.SearchTerm)
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, o)
			continue
		}

		existing := &out[i]
		existing.Performance.Orders += o.Performance.Orders
		if o.Performance.ACOS < existing.Performance.ACOS {
			existing.Performance.ACOS = o.Performance.ACOS
			existing.Performance.ConversionRate = o.Performance.ConversionRate
		}
		existing.AdGroupName = joinDistinct(existing.AdGroupName, o.AdGroupName)
		existing.CampaignName = joinDistinct(existing.CampaignName, o.CampaignName)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Performance.Orders > out[j].Performance.Orders
	})
	return out
}

// MergeTargets combines per-target results into one view.
//
// Items are tagged with their country and concatenated in target order. Optimization scores are
// averaged and rounded; insights are prefixed with "[country]" and capped at MaxMergedInsights.
// Money totals are left at zero since targets use different currencies.
func MergeTargets(results []TargetResult) *MergedResult {
	merged := &MergedResult{
		NegativeWords:        []NegativeWord{},
		BidAdjustments:       []BidAdjustment{},
		KeywordOpportunities: []KeywordOpportunity{},
		Summary:              Summary{KeyInsights: []string{}},
		ByCountry:            append([]TargetResult(nil), results...),
	}
	if len(results) == 0 {
		return merged
	}

	var scoreSum float64
	for _, r := range results {
		for _, w := range r.NegativeWords {
			w.Country = r.Country
			merged.NegativeWords = append(merged.NegativeWords, w)
		}
		for _, b := range r.BidAdjustments {
			b.Country = r.Country
			merged.BidAdjustments = append(merged.BidAdjustments, b)
		}
		for _, k := range r.KeywordOpportunities {
			k.Country = r.Country
			merged.KeywordOpportunities = append(merged.KeywordOpportunities, k)
		}
		scoreSum += r.Summary.OptimizationScore.Float()
		for _, insight := range r.Summary.KeyInsights {
			merged.Summary.KeyInsights = append(merged.Summary.KeyInsights, fmt.Sprintf("[%s] %s", r.Country, insight))
		}
	}

	merged.Summary.OptimizationScore = Number(math.Round(scoreSum / float64(len(results))))
	if len(merged.Summary.KeyInsights) > MaxMergedInsights {
		merged.Summary.KeyInsights = merged.Summary.KeyInsights[:MaxMergedInsights]
	}
	return merged
}

// MergeRetry combines a previous merged result with the results of a retry run.
// A target present in both takes the retry's result. Targets are ordered by their position in order.
func MergeRetry(existing *MergedResult, retried []TargetResult, order []string) *MergedResult {
	replaced := make(map[string]bool, len(retried))
	for _, r := range retried {
		replaced[r.Country] = true
	}

	var all []TargetResult
	if existing != nil {
		for _, r := range existing.ByCountry {
			if !replaced[r.Country] {
				all = append(all, r)
			}
		}
	}
	all = append(all, retried...)
	sortByOrder(all, order)
	return MergeTargets(all)
}

func unionStrings(base, add []string) []string {
	if len(base) == 0 && len(add) == 0 {
		return base
	}
	seen := make(map[string]bool, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// sortByOrder orders results by the position of their country in order; unknown countries go last
func sortByOrder(results []TargetResult, order []string) {
	pos := make(map[string]int, len(order))
	for i, c := range order {
		pos[c] = i
	}
	rank := func(c string) int {
		if p, ok := pos[c]; ok {
			return p
		}
		return len(order)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return rank(results[i].Country) < rank(results[j].Country)
	})
}
