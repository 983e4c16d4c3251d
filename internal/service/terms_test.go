package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTerms_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terms.json")
	payload, err := json.Marshal(testTerms("US", "DE"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	terms, err := LoadTerms(path)
	require.NoError(t, err)
	assert.Equal(t, testTerms("US", "DE"), terms)
}

func TestLoadTerms_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadTerms(filepath.Join(dir, "missing.json"))
	assert.True(t, IsErrorType(err, ErrInput))

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"not": "a list"}`), 0o600))
	_, err = LoadTerms(broken)
	assert.True(t, IsErrorType(err, ErrInput))

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o600))
	_, err = LoadTerms(empty)
	assert.True(t, IsErrorType(err, ErrInput))
}

func TestLoadTerms_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.CSV")
	content := "\ufeffCustomer Search Term,Campaign Name,Spend,Sales,Orders,ACOS,Clicks,Country\n" +
		"mouse trap,Campaign A,\"$1,234.50\",\"$2,000.00\",3,61.7%,40,US\n" +
		",Campaign A,$1.00,0,0,0,1,US\n" +
		"mausefalle,Campaign B,€12.00,0,0,0,15,DE\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	terms, err := LoadTerms(path)
	require.NoError(t, err)
	require.Len(t, terms, 2)

	assert.Equal(t, int64(1), terms[0].ID)
	assert.Equal(t, "mouse trap", terms[0].CustomerSearchTerm)
	assert.Equal(t, "Campaign A", terms[0].CampaignName)
	assert.Equal(t, 1234.5, terms[0].Spend)
	assert.Equal(t, 2000.0, terms[0].Sales)
	assert.Equal(t, int64(3), terms[0].Orders)
	assert.Equal(t, 61.7, terms[0].ACOS)
	assert.Equal(t, int64(40), terms[0].Clicks)
	assert.Equal(t, "US", terms[0].Country)

	assert.Equal(t, int64(2), terms[1].ID)
	assert.Equal(t, "DE", terms[1].Country)
	assert.Equal(t, 12.0, terms[1].Spend)
}

func TestParseTermsCSV_RequiresSearchTermColumn(t *testing.T) {
	_, err := ParseTermsCSV(strings.NewReader("campaign_name,spend\nA,1\n"))
	assert.Error(t, err)

	_, err = ParseTermsCSV(strings.NewReader(""))
	assert.Error(t, err)
}

func TestParseNumber(t *testing.T) {
	assert.Equal(t, 1234.5, parseNumber("$1,234.50"))
	assert.Equal(t, -10.0, parseNumber("-10%"))
	assert.Equal(t, 0.0, parseNumber(""))
	assert.Equal(t, 0.0, parseNumber("n/a"))
}
