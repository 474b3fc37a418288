package intake

import (
	"curator/internal/config"
	"curator/internal/registry"
)

// Column names recognized by the default ruleset. Headers are matched after
// whitespace collapsing, so spreadsheet exports with wrapped header cells
// still line up.
const (
	ColFiler            = "Filer HawkID"
	ColOperationDate    = "Operation Date"
	ColSite             = "Acquisition Site"
	ColProcedure        = "Procedure Name"
	ColDataPath         = "Full Path to Data"
	ColCaseName         = "Case Name"
	ColEpicStart        = "Epic Start Time"
	ColEpicEnd          = "Epic End Time"
	ColPatientSide      = "Side of Patient Body"
	ColORLocation       = "OR Location"
	ColPerforming       = "Performing Surgeon HawkID"
	ColSupervising      = "Supervising Surgeon HawkID"
	ColAssessor         = "Assessor HawkID"
	ColSkillsAssessment = "Skills Assessment Requested"
)

// Rule requires a column whenever another column holds a specific value.
// Values compare in normalized form, so "Dynamic_Hip_Screw" and
// "DYNAMIC HIP SCREW" trigger the same rule.
type Rule struct {
	When    string
	Equals  string
	Require string
}

// VocabularyBinding ties a column to the registry table that enumerates its
// allowed values.
type VocabularyBinding struct {
	Column string
	Table  string
}

// Ruleset is the data-driven validation contract for one intake row.
type Ruleset struct {
	Required    []string
	Vocabulary  []VocabularyBinding
	Conditional []Rule
	DateColumns []string
	TimeColumns []string
}

// DefaultRuleset returns the documented intake contract: the always-required
// columns, the vocabulary bindings, and the conditional-column rules.
func DefaultRuleset() Ruleset {
	return Ruleset{
		Required: []string{
			ColFiler,
			ColOperationDate,
			ColSite,
			ColProcedure,
			ColDataPath,
		},
		Vocabulary: []VocabularyBinding{
			{Column: ColFiler, Table: registry.TableUsers},
			{Column: ColSite, Table: registry.TableSites},
			{Column: ColProcedure, Table: registry.TableGroups},
			{Column: ColPerforming, Table: registry.TableUsers},
			{Column: ColSupervising, Table: registry.TableUsers},
			{Column: ColAssessor, Table: registry.TableUsers},
		},
		Conditional: []Rule{
			{When: ColProcedure, Equals: "Dynamic_Hip_Screw", Require: ColEpicStart},
			{When: ColSkillsAssessment, Equals: "Yes", Require: ColAssessor},
		},
		DateColumns: []string{ColOperationDate},
		TimeColumns: []string{ColEpicStart, ColEpicEnd},
	}
}

// RulesetFromConfig extends the default ruleset with any extra conditional
// rules declared in configuration.
func RulesetFromConfig(cfg *config.Config) Ruleset {
	rs := DefaultRuleset()
	for _, rule := range cfg.Intake.ExtraRules {
		rs.Conditional = append(rs.Conditional, Rule{
			When:    rule.When,
			Equals:  rule.Equals,
			Require: rule.Require,
		})
	}
	return rs
}
