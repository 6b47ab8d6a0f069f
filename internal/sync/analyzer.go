package sync

import (
	"sort"
	"strings"

	"github.com/nexovan/fieldsync/internal/config"
)

// Analysis is the analyzer's verdict on one conflict
type Analysis struct {
	Complexity          Complexity      `json:"complexity"`
	FieldConflicts      []FieldConflict `json:"field_conflicts"`
	RecommendedStrategy Strategy        `json:"recommended_strategy"`
	AutoResolvable      bool            `json:"auto_resolvable"`
}

// ConflictAnalyzer classifies conflicts and recommends a resolution path.
// It never mutates data.
type ConflictAnalyzer struct {
	criticalFields         map[string]bool
	fieldConflictThreshold int
}

// NewConflictAnalyzer creates an analyzer from sync configuration
func NewConflictAnalyzer(cfg *config.SyncConfig) *ConflictAnalyzer {
	critical := make(map[string]bool, len(cfg.CriticalFields))
	for _, f := range cfg.CriticalFields {
		critical[strings.ToLower(f)] = true
	}

	threshold := cfg.FieldConflictThreshold
	if threshold <= 0 {
		threshold = 5
	}

	return &ConflictAnalyzer{
		criticalFields:         critical,
		fieldConflictThreshold: threshold,
	}
}

// Analyze diffs the two payload versions, grades the conflict, and
// recommends a strategy
func (ca *ConflictAnalyzer) Analyze(c *Conflict) Analysis {
	fields := ca.diffFields(c.LocalPayload, c.ServerPayload)

	analysis := Analysis{
		Complexity:     ca.classify(fields),
		FieldConflicts: fields,
	}
	analysis.RecommendedStrategy = ca.recommend(analysis.Complexity, fields)
	analysis.AutoResolvable = ca.autoResolvable(analysis.Complexity, fields)

	return analysis
}

// diffFields walks the union of keys in both payloads and records every
// field where deep equality fails
func (ca *ConflictAnalyzer) diffFields(local, server Payload) []FieldConflict {
	names := make(map[string]bool, len(local)+len(server))
	for k := range local {
		names[k] = true
	}
	for k := range server {
		names[k] = true
	}

	sorted := make([]string, 0, len(names))
	for k := range names {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var conflicts []FieldConflict
	for _, name := range sorted {
		lv, lok := local[name]
		sv, sok := server[name]
		if !lok {
			lv = Null()
		}
		if !sok {
			sv = Null()
		}
		if lv.Equal(sv) {
			continue
		}

		fc := FieldConflict{
			FieldName:   name,
			LocalValue:  lv,
			ServerValue: sv,
			DataType:    dominantType(lv, sv),
		}
		fc.BusinessImpact = ca.impactOf(name, fc.DataType)
		fc.AutoResolvable = fc.BusinessImpact != ImpactCritical
		conflicts = append(conflicts, fc)
	}

	return conflicts
}

// dominantType picks the type merge rules should dispatch on when the two
// sides disagree (a null on one side defers to the populated side)
func dominantType(local, server Value) DataType {
	if local.Type == TypeNull {
		return server.Type
	}
	if server.Type == TypeNull || local.Type == server.Type {
		return local.Type
	}
	// Mixed non-null types cannot be merged structurally
	return TypeObject
}

// impactOf applies the business-impact policy: tagged critical fields are
// critical regardless of type; otherwise scalars are low risk and nested
// structures moderate
func (ca *ConflictAnalyzer) impactOf(fieldName string, dt DataType) BusinessImpact {
	if ca.criticalFields[strings.ToLower(fieldName)] {
		return ImpactCritical
	}
	switch dt {
	case TypeString, TypeNumber, TypeTimestamp, TypeBool, TypeNull:
		return ImpactLow
	}
	return ImpactModerate
}

// classify applies the ordered complexity rule, first match wins
func (ca *ConflictAnalyzer) classify(fields []FieldConflict) Complexity {
	if len(fields) == 0 {
		return ComplexitySimple
	}
	for _, fc := range fields {
		if fc.BusinessImpact == ImpactCritical {
			return ComplexityCritical
		}
	}
	if len(fields) > ca.fieldConflictThreshold {
		return ComplexityComplex
	}
	return ComplexityModerate
}

// recommend picks the first applicable strategy from the policy table
func (ca *ConflictAnalyzer) recommend(complexity Complexity, fields []FieldConflict) Strategy {
	if complexity == ComplexityCritical {
		return StrategyUserGuided
	}
	if len(fields) == 0 {
		return StrategyServerWins
	}
	if hasNaturalText(fields) {
		return StrategyPolicyAware
	}
	if len(fields) > 1 {
		return StrategyFieldLevel
	}
	return StrategyTimestampBased
}

func (ca *ConflictAnalyzer) autoResolvable(complexity Complexity, fields []FieldConflict) bool {
	if complexity == ComplexityCritical {
		return false
	}
	for _, fc := range fields {
		if !fc.AutoResolvable {
			return false
		}
	}
	return true
}

// hasNaturalText reports whether any conflicting field carries prose that
// needs consistency-preserving treatment rather than a mechanical merge
func hasNaturalText(fields []FieldConflict) bool {
	for _, fc := range fields {
		if fc.DataType != TypeString {
			continue
		}
		if isNaturalText(fc.LocalValue) || isNaturalText(fc.ServerValue) {
			return true
		}
	}
	return false
}

func isNaturalText(v Value) bool {
	if v.Type != TypeString {
		return false
	}
	s := strings.TrimSpace(v.Str)
	return len(s) >= 24 && strings.Count(s, " ") >= 3
}
