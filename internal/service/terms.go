package service

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chenapple/thesaurus-management/internal/analysis"
)

// LoadTerms reads a search term export. Files ending in .csv are parsed as CSV with a header row
// naming the columns; anything else must be a JSON array of search terms.
func LoadTerms(path string) ([]analysis.SearchTerm, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapError(err, ErrInput, "failed to open terms file").WithContext("path", path)
	}
	defer f.Close()

	var terms []analysis.SearchTerm
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		terms, err = ParseTermsCSV(f)
	} else {
		err = json.NewDecoder(f).Decode(&terms)
	}
	if err != nil {
		return nil, WrapError(err, ErrInput, "failed to parse terms file").WithContext("path", path)
	}
	if len(terms) == 0 {
		return nil, NewError(ErrInput, "terms file contains no search terms").WithContext("path", path)
	}
	return terms, nil
}

// ParseTermsCSV parses CSV rows into search terms.
// Header names match the JSON field names, case-insensitively and with spaces for underscores.
// Currency symbols, percent signs and thousands separators in numeric columns are ignored.
func ParseTermsCSV(r io.Reader) ([]analysis.SearchTerm, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		cols[strings.ReplaceAll(key, " ", "_")] = i
	}
	if _, ok := cols["customer_search_term"]; !ok {
		return nil, fmt.Errorf("missing customer_search_term column")
	}

	var terms []analysis.SearchTerm
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		get := func(name string) string {
			if i, ok := cols[name]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}

		t := analysis.SearchTerm{
			CustomerSearchTerm: get("customer_search_term"),
			CampaignName:       get("campaign_name"),
			AdGroupName:        get("ad_group_name"),
			Targeting:          get("targeting"),
			MatchType:          get("match_type"),
			SKU:                get("sku"),
			Country:            get("country"),
			Impressions:        int64(parseNumber(get("impressions"))),
			Clicks:             int64(parseNumber(get("clicks"))),
			Spend:              parseNumber(get("spend")),
			Sales:              parseNumber(get("sales")),
			Orders:             int64(parseNumber(get("orders"))),
			ACOS:               parseNumber(get("acos")),
			CTR:                parseNumber(get("ctr")),
			ConversionRate:     parseNumber(get("conversion_rate")),
		}
		if t.CustomerSearchTerm == "" {
			continue
		}
		t.ID = int64(parseNumber(get("id")))
		if t.ID == 0 {
			t.ID = int64(len(terms) + 1)
		}
		terms = append(terms, t)
	}
	return terms, nil
}

func parseNumber(s string) float64 {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return v
}
