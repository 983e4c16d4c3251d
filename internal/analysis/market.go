package analysis

import (
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// UnknownCountry is the target assigned to records without a country
const UnknownCountry = "Unknown"

var defaultCurrency = CurrencyInfo{Symbol: "$", Code: "USD"}

var countryCurrencies = map[string]CurrencyInfo{
	"US": {Symbol: "$", Code: "USD"},
	"CA": {Symbol: "C$", Code: "CAD"},
	"MX": {Symbol: "MX$", Code: "MXN"},
	"UK": {Symbol: "£", Code: "GBP"},
	"GB": {Symbol: "£", Code: "GBP"},
	"DE": {Symbol: "€", Code: "EUR"},
	"FR": {Symbol: "€", Code: "EUR"},
	"IT": {Symbol: "€", Code: "EUR"},
	"ES": {Symbol: "€", Code: "EUR"},
	"NL": {Symbol: "€", Code: "EUR"},
	"BE": {Symbol: "€", Code: "EUR"},
	"SE": {Symbol: "kr", Code: "SEK"},
	"PL": {Symbol: "zł", Code: "PLN"},
	"JP": {Symbol: "¥", Code: "JPY"},
	"AU": {Symbol: "A$", Code: "AUD"},
	"IN": {Symbol: "₹", Code: "INR"},
	"AE": {Symbol: "AED", Code: "AED"},
	"SA": {Symbol: "SAR", Code: "SAR"},
	"SG": {Symbol: "S$", Code: "SGD"},
	"BR": {Symbol: "R$", Code: "BRL"},
	"TR": {Symbol: "₺", Code: "TRY"},
}

// CurrencyFor returns the currency of a marketplace country code.
// Codes outside the marketplace table are resolved through CLDR region data, then default to USD.
func CurrencyFor(country string) CurrencyInfo {
	code := strings.ToUpper(strings.TrimSpace(country))
	if info, ok := countryCurrencies[code]; ok {
		return info
	}

	region, err := language.ParseRegion(code)
	if err != nil {
		return defaultCurrency
	}
	unit, ok := currency.FromRegion(region)
	if !ok {
		return defaultCurrency
	}
	return CurrencyInfo{
		Symbol: fmt.Sprint(currency.NarrowSymbol(unit)),
		Code:   unit.String(),
	}
}

// DetectMarketLanguage returns the dominant language of the search terms.
// Terms too short to classify are ignored; the result is language.Und when nothing could be detected.
func DetectMarketLanguage(terms []SearchTerm) language.Tag {
	counts := make(map[string]int)
	for _, t := range terms {
		text := strings.TrimSpace(t.CustomerSearchTerm)
		if len([]rune(text)) < 3 {
			continue
		}
		lang := whatlanggo.DetectLang(text).Iso6391()
		if lang == "" {
			continue
		}
		counts[lang]++
	}

	var top string
	var topCount int
	for lang, count := range counts {
		if count > topCount || (count == topCount && lang < top) {
			top = lang
			topCount = count
		}
	}
	if top == "" {
		return language.Und
	}
	return language.All.Make(top)
}

// LanguageName returns the English name of a language tag, or "" for language.Und
func LanguageName(tag language.Tag) string {
	if tag == language.Und {
		return ""
	}
	return display.English.Tags().Name(tag)
}
