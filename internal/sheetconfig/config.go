// Package sheetconfig loads the declarative sheet-type manifest that binds
// workbook sheet names to column mappings, staging/master tables, and
// validation rule IDs (spec.md §3/§6), the same configuration-as-data
// approach a SheetType itself follows.
//
// Grounded on correlator-io-correlator's internal/aliasing/config.go: a
// gopkg.in/yaml.v3-decoded struct tree with graceful degradation on a
// missing file; malformed YAML is returned to the caller as an error.
package sheetconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/JonMunkholm/sheetmigrate/internal/mapping"
	"github.com/JonMunkholm/sheetmigrate/internal/model"
	"github.com/JonMunkholm/sheetmigrate/internal/validate"
	"gopkg.in/yaml.v3"
)

// ColumnSpec is one YAML-declared column mapping.
type ColumnSpec struct {
	HeaderLabel string `yaml:"header_label"`
	Column      string `yaml:"column"`
	Kind        string `yaml:"kind"` // text|date|number|month
}

// KeyRecipeSpec names a registered business-key recipe plus the
// discriminator value sets it needs, so the YAML manifest never embeds
// code — only references a recipe by name.
type KeyRecipeSpec struct {
	Name      string   `yaml:"name"` // contract_discriminator | customer_date_discriminator | org_party_month_product
	LoanClass []string `yaml:"loan_class,omitempty"`
	CardClass []string `yaml:"card_class,omitempty"`
}

// SheetSpec is one YAML-declared sheet entry.
type SheetSpec struct {
	Name            string        `yaml:"name"`
	Order           int           `yaml:"order"`
	Enabled         bool          `yaml:"enabled"`
	Mapping         []ColumnSpec  `yaml:"mapping"`
	RawTable        string        `yaml:"raw_table"`
	ValidTable      string        `yaml:"valid_table"`
	ErrorTable      string        `yaml:"error_table"`
	MasterTable     string        `yaml:"master_table"`
	BatchSize       int           `yaml:"batch_size,omitempty"`
	ParallelSheet   bool          `yaml:"parallel_sheet,omitempty"`
	RuleIDs         []string      `yaml:"rule_ids"`
	KeyRecipe       KeyRecipeSpec `yaml:"key_recipe"`
	ForeignKeyOrder []string      `yaml:"foreign_key_order,omitempty"`
}

// RuleSpec declares one named validation rule, letting a deployment add or
// tune rules without a code change — everything but BusinessLogic rules
// (which need a Go predicate) is expressible here.
type RuleSpec struct {
	ID       string   `yaml:"id"`
	Kind     string   `yaml:"kind"` // required_field|data_type_number|data_type_date|pattern|enum|unique_in_file|unique_in_db|reference_exists
	Field    string   `yaml:"field,omitempty"`
	Pattern  string   `yaml:"pattern,omitempty"`
	Allowed  []string `yaml:"allowed,omitempty"`
	Table    string   `yaml:"table,omitempty"`
	Scope    string   `yaml:"scope,omitempty"` // master|prior-valid-staging
	RefTable string   `yaml:"ref_table,omitempty"`
	Priority int      `yaml:"priority"`
}

// Manifest is the root of the sheet-type YAML file.
type Manifest struct {
	CrossSheetErrorTable string      `yaml:"cross_sheet_error_table"`
	Sheets               []SheetSpec `yaml:"sheets"`
	Rules                []RuleSpec  `yaml:"rules"`
}

// Load reads and parses path into a Manifest. A missing file yields an
// empty Manifest (no error) since sheet config is supplied per deployment,
// not baked into the binary.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("sheet config not found, starting with no configured sheets", "path", path)
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("read sheet config %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse sheet config %s: %w", path, err)
	}
	return &m, nil
}

// ToSheetTypes resolves every SheetSpec into a model.SheetType, binding
// named key recipes to their mapping package implementations.
func (m *Manifest) ToSheetTypes() ([]model.SheetType, error) {
	out := make([]model.SheetType, 0, len(m.Sheets))
	for _, spec := range m.Sheets {
		cols := make([]model.ColumnMapping, 0, len(spec.Mapping))
		for _, c := range spec.Mapping {
			cols = append(cols, model.ColumnMapping{
				HeaderLabel: c.HeaderLabel,
				Column:      c.Column,
				Kind:        model.NormKind(c.Kind),
			})
		}

		recipe, err := resolveRecipe(spec.KeyRecipe)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", spec.Name, err)
		}

		out = append(out, model.SheetType{
			Name: spec.Name, Order: spec.Order, Enabled: spec.Enabled,
			Mapping:         cols,
			RawTable:        spec.RawTable,
			ValidTable:      spec.ValidTable,
			ErrorTable:      spec.ErrorTable,
			MasterTable:     spec.MasterTable,
			BatchSize:       spec.BatchSize,
			ParallelSheet:   spec.ParallelSheet,
			RuleIDs:         spec.RuleIDs,
			KeyRecipe:       recipe,
			ForeignKeyOrder: spec.ForeignKeyOrder,
		})
	}
	return out, nil
}

// ToRules resolves every RuleSpec into a validate.Rule, keyed by ID.
// BusinessLogic rules have no YAML form (they need a Go predicate) and are
// merged in by the caller after ToRules returns.
func (m *Manifest) ToRules() (map[string]validate.Rule, error) {
	out := make(map[string]validate.Rule, len(m.Rules))
	for _, rs := range m.Rules {
		rule, err := resolveRule(rs)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rs.ID, err)
		}
		out[rs.ID] = rule
	}
	return out, nil
}

func resolveRule(rs RuleSpec) (validate.Rule, error) {
	switch rs.Kind {
	case "required_field":
		return validate.RequiredField(rs.ID, rs.Field, rs.Priority), nil
	case "data_type_number":
		return validate.DataTypeNumber(rs.ID, rs.Field, rs.Priority), nil
	case "data_type_date":
		return validate.DataTypeDate(rs.ID, rs.Field, rs.Priority), nil
	case "pattern":
		return validate.Pattern(rs.ID, rs.Field, rs.Pattern, rs.Priority), nil
	case "enum":
		return validate.Enum(rs.ID, rs.Field, rs.Allowed, rs.Priority), nil
	case "unique_in_file":
		return validate.UniqueInFile(rs.ID, rs.Priority), nil
	case "unique_in_db":
		return validate.UniqueInDB(rs.ID, rs.Table, model.DuplicateScope(rs.Scope), rs.Priority), nil
	case "reference_exists":
		return validate.ReferenceExists(rs.ID, rs.Field, rs.RefTable, rs.Priority), nil
	default:
		return validate.Rule{}, fmt.Errorf("unknown rule kind %q", rs.Kind)
	}
}

func resolveRecipe(spec KeyRecipeSpec) (model.BusinessKeyRecipe, error) {
	switch spec.Name {
	case "":
		return nil, nil
	case "contract_discriminator":
		loan := toSet(spec.LoanClass)
		card := toSet(spec.CardClass)
		return mapping.ContractDiscriminatorRecipe(loan, card), nil
	case "customer_date_discriminator":
		return mapping.CustomerDateDiscriminatorRecipe, nil
	case "org_party_month_product":
		return mapping.OrgPartyMonthProductRecipe, nil
	default:
		return nil, fmt.Errorf("unknown key recipe %q", spec.Name)
	}
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
