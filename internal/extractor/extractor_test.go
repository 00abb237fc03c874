package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

func TestExtractErrorCodeLine(t *testing.T) {
	catalog := DefaultCatalog()

	res := Extract("Error C-1234: paper jam", catalog.Profile(""))

	assert.Equal(t, []string{"C-1234"}, res.RawCodes)
	assert.Equal(t, []string{"c1234"}, res.NormalizedCodes)
	assert.Empty(t, res.PartNumbers)
	assert.NotNil(t, res.PartNumbers)
}

func TestExtractNoMatches(t *testing.T) {
	res := Extract("Open the front cover and remove the toner cartridge.", DefaultCatalog().Profile("ricoh"))

	assert.True(t, res.IsEmpty())
	assert.NotNil(t, res.RawCodes)
	assert.NotNil(t, res.NormalizedCodes)
	assert.NotNil(t, res.PartNumbers)
}

func TestExtractEmptyInputs(t *testing.T) {
	res := Extract("", DefaultCatalog().Profile(""))
	assert.True(t, res.IsEmpty())

	res = Extract("Error C-1234", nil)
	assert.True(t, res.IsEmpty())
	assert.NotNil(t, res.RawCodes)
}

func TestExtractKeepsOriginalFormsAndMergesNormalized(t *testing.T) {
	text := "Error C-1234 appears when the fuser overheats. Code C1234 is logged. See also E-0401."
	res := Extract(text, DefaultCatalog().Profile(""))

	assert.Contains(t, res.RawCodes, "C-1234")
	assert.Contains(t, res.RawCodes, "C1234")
	assert.Contains(t, res.RawCodes, "E-0401")
	assert.Equal(t, []string{"c1234", "e0401"}, res.NormalizedCodes)
}

func TestExtractPartNumbers(t *testing.T) {
	text := "Replace the fuser (part no. RM1-2345-000) and the pickup roller A0ED-R70-100. Ref ABCD-EFG-HIJ."
	res := Extract(text, DefaultCatalog().Profile("hp"))

	assert.Equal(t, []string{"RM1-2345-000", "A0ED-R70-100"}, res.PartNumbers)
}

func TestExtractManufacturerPatterns(t *testing.T) {
	catalog := DefaultCatalog()

	tests := []struct {
		manufacturer string
		text         string
		want         string
	}{
		{"Konica Minolta", "Trouble code C2557 indicates abnormal toner density.", "C2557"},
		{"km", "Jam J72-14 at the duplex unit.", "J72-14"},
		{"Ricoh", "SC542-02 fusing temperature warm-up error", "SC542-02"},
		{"HP", "Event log shows 13.20.00 jam in tray 2", "13.20.00"},
		{"hewlett-packard", "Firmware 20230415_101500 resolves the issue", "20230415_101500"},
		{"canon", "E000-0001 fixing assembly temperature rise error", "E000-0001"},
		{"Xerox", "Fault 077-101 registration sensor late", "077-101"},
	}

	for _, tt := range tests {
		t.Run(tt.manufacturer, func(t *testing.T) {
			res := Extract(tt.text, catalog.Profile(tt.manufacturer))
			assert.Contains(t, res.RawCodes, tt.want)
		})
	}
}

func TestCatalogProfileFallback(t *testing.T) {
	catalog := DefaultCatalog()

	assert.Equal(t, "default", catalog.Profile("Unknown Corp").Name)
	assert.Equal(t, "konica-minolta", catalog.Profile(" MINOLTA ").Name)
	assert.Contains(t, catalog.Names(), "xerox")
}

func TestLoadCatalogOverride(t *testing.T) {
	override := []byte(`
profiles:
  Acme:
    extends: default
    code_patterns:
      - name: acme
        pattern: 'ACME/(\d{4})'
chunking:
  default:
    target_words: 500
`)
	catalog, err := LoadCatalog(override)
	require.NoError(t, err)

	res := Extract("Fault ACME/0042 on boot", catalog.Profile("acme"))
	assert.Contains(t, res.RawCodes, "0042")
}

func TestLoadCatalogErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad regexp", "profiles:\n  x:\n    code_patterns:\n      - pattern: '(['\n"},
		{"cycle", "profiles:\n  a:\n    extends: b\n  b:\n    extends: a\n"},
		{"unknown parent", "profiles:\n  a:\n    extends: nope\n"},
		{"group range", "profiles:\n  a:\n    code_patterns:\n      - pattern: '(x)'\n        group: 3\n"},
		{"bad yaml", "profiles: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestCompileRequiresDefault(t *testing.T) {
	_, err := Compile(&CatalogSpec{Profiles: map[string]ProfileSpec{"ricoh": {}}})
	assert.Error(t, err)
}

func TestExtractEntries(t *testing.T) {
	text := `Error code table

C-1234: Paper jam in tray 2.
  Remedy: Open tray 2 and remove the jammed sheet.
E-0401 - Fuser temperature too high. Critical, power off immediately.
  Action: Replace the fuser unit.
  Check the thermistor connector.
Code C1234: Paper jam (duplicate listing)
`
	entries := ExtractEntries(text, DefaultCatalog().Profile(""))
	require.Len(t, entries, 2)

	jam := entries[0]
	assert.Equal(t, "C-1234", jam.Code)
	assert.Equal(t, "c1234", jam.NormalizedCode)
	assert.Equal(t, "Paper jam in tray 2.", jam.Description)
	assert.Equal(t, "Open tray 2 and remove the jammed sheet.", jam.Remediation)
	assert.Equal(t, []string{"C1234"}, jam.AlternativeForms)
	assert.Equal(t, domain.SeverityMedium, jam.Severity)

	fuser := entries[1]
	assert.Equal(t, "e0401", fuser.NormalizedCode)
	assert.Equal(t, domain.SeverityCritical, fuser.Severity)
	assert.Equal(t, "Replace the fuser unit. Check the thermistor connector.", fuser.Remediation)
}

func TestExtractEntriesExplicitSeverity(t *testing.T) {
	entries := ExtractEntries("Fault 55: Door open. Severity: 5", DefaultCatalog().Profile(""))
	require.Len(t, entries, 1)
	assert.Equal(t, "55", entries[0].Code)
	assert.Equal(t, domain.SeverityInfo, entries[0].Severity)
}

func TestExtractEntriesNoCodes(t *testing.T) {
	entries := ExtractEntries("Nothing to see here.\nStill nothing.", DefaultCatalog().Profile(""))
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}
