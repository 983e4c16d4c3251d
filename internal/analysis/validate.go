package analysis

import (
	"fmt"
	"math"

	"github.com/chenapple/thesaurus-management/pkg/log"
)

const defaultOptimizationScore = 50

// MissingFields lists the required report fields absent from r
func MissingFields(r *Report) []string {
	if r == nil {
		return []string{"negative_words", "bid_adjustments", "keyword_opportunities", "summary"}
	}
	var missing []string
	if r.NegativeWords == nil {
		missing = append(missing, "negative_words")
	}
	if r.BidAdjustments == nil {
		missing = append(missing, "bid_adjustments")
	}
	if r.KeywordOpportunities == nil {
		missing = append(missing, "keyword_opportunities")
	}
	if r.Summary == nil {
		missing = append(missing, "summary")
	} else if r.Summary.KeyInsights == nil {
		missing = append(missing, "summary.key_insights")
	}
	return missing
}

// RepairReport fills missing report fields in place with safe defaults and returns what was repaired
func RepairReport(r *Report, country string, totalSpend float64) []string {
	missing := MissingFields(r)
	if len(missing) == 0 {
		return nil
	}
	log.Warn("Report for %s is incomplete, repairing: %v", country, missing)

	if r.NegativeWords == nil {
		r.NegativeWords = []NegativeWord{}
	}
	if r.BidAdjustments == nil {
		r.BidAdjustments = []BidAdjustment{}
	}
	if r.KeywordOpportunities == nil {
		r.KeywordOpportunities = []KeywordOpportunity{}
	}
	if r.Summary == nil {
		r.Summary = &Summary{
			TotalSpendAnalyzed: Number(totalSpend),
			OptimizationScore:  defaultOptimizationScore,
			KeyInsights:        []string{fmt.Sprintf("%s analysis completed but the result may be incomplete", country)},
		}
	}
	if r.Summary.KeyInsights == nil {
		r.Summary.KeyInsights = []string{}
	}
	return missing
}

// FinalizeTarget turns a repaired integrator report into a target result.
// Line items are deduplicated and potential savings recomputed from the deduplicated negative words.
func FinalizeTarget(country string, r *Report, totalSpend float64, sampling SamplingInfo) TargetResult {
	RepairReport(r, country, totalSpend)

	negatives := DedupNegativeWords(r.NegativeWords)
	opportunities := DedupKeywordOpportunities(r.KeywordOpportunities)

	score := r.Summary.OptimizationScore
	if score == 0 {
		score = defaultOptimizationScore
	}

	return TargetResult{
		Country:              country,
		Currency:             CurrencyFor(country),
		NegativeWords:        negatives,
		BidAdjustments:       r.BidAdjustments,
		KeywordOpportunities: opportunities,
		Summary: Summary{
			TotalSpendAnalyzed: Number(round2(totalSpend)),
			PotentialSavings:   Number(PotentialSavings(negatives)),
			OptimizationScore:  score,
			KeyInsights:        r.Summary.KeyInsights,
		},
		Sampling: sampling,
	}
}

// PotentialSavings sums wasted spend over negative words, rounded to cents
func PotentialSavings(words []NegativeWord) float64 {
	var total float64
	for _, w := range words {
		total += w.SpendWasted.Float()
	}
	return round2(total)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
