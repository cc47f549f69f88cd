package sheetconfig

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `
cross_sheet_error_table: cross_sheet_errors
sheets:
  - name: Contracts
    order: 1
    enabled: true
    raw_table: contracts_raw
    valid_table: contracts_valid
    error_table: contracts_error
    master_table: contracts
    batch_size: 2000
    parallel_sheet: true
    rule_ids: [req_name, dup_key]
    mapping:
      - header_label: "Contract ID"
        column: contract_id
        kind: text
      - header_label: "Amount"
        column: amount
        kind: number
    key_recipe:
      name: customer_date_discriminator
rules:
  - id: req_name
    kind: required_field
    field: contract_id
    priority: 1
  - id: dup_key
    kind: unique_in_db
    table: contracts
    scope: master
    priority: 10
`

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sheets.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	return path
}

func TestLoadMissingFileReturnsEmptyManifest(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m.Sheets) != 0 || len(m.Rules) != 0 {
		t.Errorf("expected empty manifest, got %+v", m)
	}
}

func TestLoadParsesManifest(t *testing.T) {
	m, err := Load(writeManifest(t, sampleManifest))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m.Sheets) != 1 || m.Sheets[0].Name != "Contracts" {
		t.Fatalf("Sheets = %+v", m.Sheets)
	}
	if m.CrossSheetErrorTable != "cross_sheet_errors" {
		t.Errorf("CrossSheetErrorTable = %q", m.CrossSheetErrorTable)
	}
	if len(m.Rules) != 2 {
		t.Fatalf("Rules = %+v", m.Rules)
	}
}

func TestToSheetTypesResolvesMappingAndRecipe(t *testing.T) {
	m, err := Load(writeManifest(t, sampleManifest))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sheets, err := m.ToSheetTypes()
	if err != nil {
		t.Fatalf("ToSheetTypes: %v", err)
	}
	if len(sheets) != 1 {
		t.Fatalf("got %d sheets, want 1", len(sheets))
	}
	st := sheets[0]
	if st.Name != "Contracts" || st.Order != 1 || !st.Enabled {
		t.Errorf("sheet = %+v", st)
	}
	if st.EffectiveBatchSize() != 2000 {
		t.Errorf("EffectiveBatchSize() = %d, want 2000", st.EffectiveBatchSize())
	}
	if len(st.Mapping) != 2 || st.Mapping[0].Column != "contract_id" {
		t.Errorf("Mapping = %+v", st.Mapping)
	}
	if st.KeyRecipe == nil {
		t.Fatal("expected a resolved KeyRecipe")
	}
	got := st.KeyRecipe(map[string]string{"customer": "C1", "date": "2024-01-02", "discriminator": "X"})
	if got != "C1_2024-01-02_X" {
		t.Errorf("KeyRecipe() = %q, want C1_2024-01-02_X", got)
	}
}

func TestToSheetTypesUnknownRecipeErrors(t *testing.T) {
	const bad = `
sheets:
  - name: Bad
    key_recipe:
      name: not_a_real_recipe
`
	m, err := Load(writeManifest(t, bad))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := m.ToSheetTypes(); err == nil {
		t.Fatal("expected an error for an unknown key recipe name")
	}
}

func TestToRulesResolvesEveryKind(t *testing.T) {
	m, err := Load(writeManifest(t, sampleManifest))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rules, err := m.ToRules()
	if err != nil {
		t.Fatalf("ToRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if _, ok := rules["req_name"]; !ok {
		t.Error("missing req_name rule")
	}
	if _, ok := rules["dup_key"]; !ok {
		t.Error("missing dup_key rule")
	}
}

func TestToRulesUnknownKindErrors(t *testing.T) {
	const bad = `
rules:
  - id: mystery
    kind: not_a_real_kind
`
	m, err := Load(writeManifest(t, bad))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := m.ToRules(); err == nil {
		t.Fatal("expected an error for an unknown rule kind")
	}
}

func TestResolveRecipeEmptyNameYieldsNilRecipe(t *testing.T) {
	recipe, err := resolveRecipe(KeyRecipeSpec{})
	if err != nil {
		t.Fatalf("resolveRecipe: %v", err)
	}
	if recipe != nil {
		t.Error("expected a nil recipe for an empty key_recipe name")
	}
}

func TestResolveRecipeContractDiscriminatorUsesDiscriminatorSets(t *testing.T) {
	recipe, err := resolveRecipe(KeyRecipeSpec{
		Name:      "contract_discriminator",
		LoanClass: []string{"LOAN"},
		CardClass: []string{"CARD"},
	})
	if err != nil {
		t.Fatalf("resolveRecipe: %v", err)
	}
	row := map[string]string{"contract": "C1", "discriminator": "LOAN", "date": "2024-01-02"}
	if got := recipe(row); got != "C1_LOAN_2024-01-02" {
		t.Errorf("recipe(%v) = %q, want C1_LOAN_2024-01-02", row, got)
	}
}

func TestToSet(t *testing.T) {
	set := toSet([]string{"A", "B", "A"})
	if len(set) != 2 || !set["A"] || !set["B"] {
		t.Errorf("toSet = %v, want {A, B}", set)
	}
}
