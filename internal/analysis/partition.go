package analysis

import (
	"sort"
	"strings"
)

// DefaultSampleSize is the record ceiling applied to each target before analysis
const DefaultSampleSize = 200

// Partitioned is a dataset grouped by country
type Partitioned struct {
	// Targets in order of first appearance, Unknown excluded
	Targets  []string
	ByTarget map[string][]SearchTerm
	// Unknown counts records without a country; they are never analyzed
	Unknown int
}

// Partition groups terms by trimmed country code
func Partition(terms []SearchTerm) Partitioned {
	p := Partitioned{ByTarget: make(map[string][]SearchTerm)}
	for _, t := range terms {
		country := strings.TrimSpace(t.Country)
		if country == "" || strings.EqualFold(country, UnknownCountry) {
			p.Unknown++
			continue
		}
		if _, ok := p.ByTarget[country]; !ok {
			p.Targets = append(p.Targets, country)
		}
		p.ByTarget[country] = append(p.ByTarget[country], t)
	}
	return p
}

// Without returns the targets not present in skip, keeping order
func (p Partitioned) Without(skip []string) []string {
	if len(skip) == 0 {
		return append([]string(nil), p.Targets...)
	}
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[strings.TrimSpace(s)] = true
	}
	var out []string
	for _, t := range p.Targets {
		if !skipped[t] {
			out = append(out, t)
		}
	}
	return out
}

// FilterCountries returns the terms whose country is in countries
func FilterCountries(terms []SearchTerm, countries []string) []SearchTerm {
	wanted := make(map[string]bool, len(countries))
	for _, c := range countries {
		wanted[strings.TrimSpace(c)] = true
	}
	var out []SearchTerm
	for _, t := range terms {
		if wanted[strings.TrimSpace(t.Country)] {
			out = append(out, t)
		}
	}
	return out
}

// SmartSample reduces terms to at most limit records while keeping every problem class visible.
//
// Quotas: 40% highest spend, 20% ACOS above target, 20% clicks without orders, 20% converting below
// target. Quotas that cannot be filled are backfilled from the highest-spend pool. Records are
// tracked by ID so none is selected twice.
func SmartSample(terms []SearchTerm, targetACOS float64, limit int) []SearchTerm {
	if limit <= 0 || len(terms) <= limit {
		return terms
	}

	byKey := func(less func(a, b SearchTerm) bool, keep func(SearchTerm) bool) []SearchTerm {
		var out []SearchTerm
		for _, t := range terms {
			if keep == nil || keep(t) {
				out = append(out, t)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
		return out
	}
	bySpend := byKey(func(a, b SearchTerm) bool { return a.Spend > b.Spend }, nil)

	selected := make(map[int64]bool, limit)
	result := make([]SearchTerm, 0, limit)
	take := func(pool []SearchTerm, quota int) {
		added := 0
		for _, t := range pool {
			if added >= quota || len(result) >= limit {
				return
			}
			if selected[t.ID] {
				continue
			}
			selected[t.ID] = true
			result = append(result, t)
			added++
		}
	}

	highSpend := limit * 40 / 100
	quota := limit * 20 / 100

	take(bySpend, highSpend)
	take(byKey(
		func(a, b SearchTerm) bool { return a.ACOS > b.ACOS },
		func(t SearchTerm) bool { return t.ACOS > targetACOS },
	), quota)
	take(byKey(
		func(a, b SearchTerm) bool { return a.Spend > b.Spend },
		func(t SearchTerm) bool { return t.Clicks > 10 && t.Orders == 0 },
	), quota)
	take(byKey(
		func(a, b SearchTerm) bool { return a.Sales > b.Sales },
		func(t SearchTerm) bool { return t.ACOS > 0 && t.ACOS < targetACOS && t.Orders > 0 },
	), quota)
	take(bySpend, limit-len(result))

	return result
}

// Totals returns the summed spend and sales of terms
func Totals(terms []SearchTerm) (spend, sales float64) {
	for _, t := range terms {
		spend += t.Spend
		sales += t.Sales
	}
	return spend, sales
}
