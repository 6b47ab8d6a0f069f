package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/nexovan/fieldsync/internal/config"
)

// FieldChoice is one per-field decision supplied for user-guided resolution
type FieldChoice struct {
	Source string `json:"source"` // "local", "server", "custom"
	Custom Value  `json:"custom,omitempty"`
}

// UserInput maps field names to explicit choices
type UserInput map[string]FieldChoice

// Per-strategy base confidence scores. Timestamps can be skewed across
// devices, so timestamp_based never reaches wholesale-pick confidence.
const (
	confidenceWholesale = 90
	confidencePriority  = 80
	confidenceTimestamp = 75
	confidencePolicy    = 75
	confidenceNumberMax = 85
	confidenceDateMax   = 85
	confidenceLongText  = 70
	confidenceUnion     = 60
	confidenceFallback  = 40
)

// Fields probed for an embedded last-modified stamp, in order
var timestampFields = []string{"updated_at", "updatedAt", "modified_at", "last_modified"}

// Fields probed for the originating actor's role
var actorRoleFields = []string{"actor_role", "actorRole", "role"}

// Actor-priority scores derived from role
var actorRank = map[string]int{
	"admin":      100,
	"manager":    80,
	"supervisor": 70,
	"dispatcher": 60,
	"technician": 40,
	"driver":     30,
}

// ConflictResolver executes named strategies against conflicts. Strategies
// are pure transforms of (conflict, optional user input); the resolver holds
// only policy configuration.
type ConflictResolver struct {
	confidenceThreshold int
	preferenceFields    map[string]bool
	terminalStates      map[string]bool
}

// NewConflictResolver creates a resolver from sync configuration
func NewConflictResolver(cfg *config.SyncConfig) *ConflictResolver {
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 70
	}

	prefs := make(map[string]bool, len(cfg.PreferenceFields))
	for _, f := range cfg.PreferenceFields {
		prefs[strings.ToLower(f)] = true
	}
	terminal := make(map[string]bool, len(cfg.TerminalStates))
	for _, s := range cfg.TerminalStates {
		terminal[strings.ToLower(s)] = true
	}

	return &ConflictResolver{
		confidenceThreshold: threshold,
		preferenceFields:    prefs,
		terminalStates:      terminal,
	}
}

// Resolve executes the named strategy and returns its result. A result with
// Success=false mutates nothing; confidence below the configured threshold
// forces RequiresUserConfirmation even for automatic strategies.
func (cr *ConflictResolver) Resolve(c *Conflict, strategy Strategy, input UserInput) ResolutionResult {
	var result ResolutionResult

	switch strategy {
	case StrategyClientWins:
		result = wholesale(c.LocalPayload, strategy, "local payload wins wholesale by policy")
	case StrategyServerWins:
		result = wholesale(c.ServerPayload, strategy, "server payload wins wholesale by policy")
	case StrategyTimestampBased:
		result = cr.resolveTimestamp(c)
	case StrategyPriorityBased:
		result = cr.resolvePriority(c)
	case StrategyFieldLevel:
		result = cr.resolveFieldLevel(c)
	case StrategyPolicyAware:
		result = cr.resolvePolicyAware(c)
	case StrategyUserGuided:
		result = cr.resolveUserGuided(c, input)
	default:
		return ResolutionResult{
			Success:      false,
			StrategyUsed: strategy,
			Rationale:    fmt.Sprintf("unknown strategy %q", strategy),
		}
	}

	if result.Success && result.Confidence < cr.confidenceThreshold {
		result.RequiresUserConfirmation = true
	}
	return result
}

func wholesale(p Payload, strategy Strategy, rationale string) ResolutionResult {
	return ResolutionResult{
		Success:         true,
		ResolvedPayload: p.Clone(),
		StrategyUsed:    strategy,
		Confidence:      confidenceWholesale,
		Rationale:       rationale,
	}
}

// resolveTimestamp compares the last-modified stamps embedded in each
// payload; the newer payload wins wholesale
func (cr *ConflictResolver) resolveTimestamp(c *Conflict) ResolutionResult {
	localTS, localOK := embeddedTimestamp(c.LocalPayload)
	serverTS, serverOK := embeddedTimestamp(c.ServerPayload)

	if !localOK || !serverOK {
		return ResolutionResult{
			Success:                  true,
			ResolvedPayload:          c.ServerPayload.Clone(),
			StrategyUsed:             StrategyTimestampBased,
			Confidence:               confidenceFallback,
			RequiresUserConfirmation: true,
			Warnings:                 []string{"no last-modified timestamp in one or both payloads, falling back to server"},
			Rationale:                "missing timestamps prevent comparison",
		}
	}

	winner := c.ServerPayload
	side := "server"
	if localTS.After(serverTS) {
		winner = c.LocalPayload
		side = "local"
	}

	return ResolutionResult{
		Success:         true,
		ResolvedPayload: winner.Clone(),
		StrategyUsed:    StrategyTimestampBased,
		Confidence:      confidenceTimestamp,
		Rationale:       fmt.Sprintf("%s payload is newer (%s vs %s)", side, localTS.Format(time.RFC3339), serverTS.Format(time.RFC3339)),
	}
}

func embeddedTimestamp(p Payload) (time.Time, bool) {
	for _, name := range timestampFields {
		if v, ok := p[name]; ok && v.Type == TypeTimestamp {
			return v.Time, true
		}
	}
	return time.Time{}, false
}

// resolvePriority compares actor-priority scores derived from each payload's
// originating actor role; the higher priority wins wholesale
func (cr *ConflictResolver) resolvePriority(c *Conflict) ResolutionResult {
	localRank := embeddedActorRank(c.LocalPayload)
	serverRank := embeddedActorRank(c.ServerPayload)

	if localRank == serverRank {
		return ResolutionResult{
			Success:                  true,
			ResolvedPayload:          c.ServerPayload.Clone(),
			StrategyUsed:             StrategyPriorityBased,
			Confidence:               confidenceFallback,
			RequiresUserConfirmation: true,
			Warnings:                 []string{"equal or unknown actor priorities, falling back to server"},
			Rationale:                fmt.Sprintf("actor priorities tie at %d", localRank),
		}
	}

	winner := c.ServerPayload
	side := "server"
	if localRank > serverRank {
		winner = c.LocalPayload
		side = "local"
	}

	return ResolutionResult{
		Success:         true,
		ResolvedPayload: winner.Clone(),
		StrategyUsed:    StrategyPriorityBased,
		Confidence:      confidencePriority,
		Rationale:       fmt.Sprintf("%s actor priority wins (%d vs %d)", side, localRank, serverRank),
	}
}

func embeddedActorRank(p Payload) int {
	for _, name := range actorRoleFields {
		if v, ok := p[name]; ok && v.Type == TypeString {
			return actorRank[strings.ToLower(v.Str)]
		}
	}
	return 0
}

// resolveFieldLevel starts from the server payload and merges each
// conflicting field with a per-type rule. Blended confidence is the minimum
// of the per-field confidences; unmergeable fields fall back to the server
// value with a warning.
func (cr *ConflictResolver) resolveFieldLevel(c *Conflict) ResolutionResult {
	merged := c.ServerPayload.Clone()
	if merged == nil {
		merged = make(Payload)
	}

	confidence := 100
	var warnings []string
	var decisions []string

	for _, fc := range c.FieldConflicts {
		value, fieldConf, rule := mergeField(fc)
		if rule == "" {
			warnings = append(warnings, fmt.Sprintf("field %q (%s) could not be merged, keeping server value", fc.FieldName, fc.DataType))
			confidence = min(confidence, confidenceFallback)
			continue
		}
		merged[fc.FieldName] = value
		confidence = min(confidence, fieldConf)
		decisions = append(decisions, fmt.Sprintf("%s: %s", fc.FieldName, rule))
	}

	rationale := "no field conflicts, server payload kept"
	if len(decisions) > 0 {
		rationale = strings.Join(decisions, "; ")
	}

	return ResolutionResult{
		Success:         true,
		ResolvedPayload: merged,
		StrategyUsed:    StrategyFieldLevel,
		Confidence:      confidence,
		Warnings:        warnings,
		Rationale:       rationale,
	}
}

// mergeField applies the per-type merge rule for one field conflict.
// An empty rule name means no rule applies and the base value stands.
func mergeField(fc FieldConflict) (Value, int, string) {
	local, server := fc.LocalValue, fc.ServerValue

	// A null side defers to the populated side
	if local.Type == TypeNull {
		return server, confidenceNumberMax, "server value fills null"
	}
	if server.Type == TypeNull {
		return local, confidenceNumberMax, "local value fills null"
	}

	switch fc.DataType {
	case TypeString:
		if len(local.Str) > len(server.Str) {
			return local, confidenceLongText, "longer text wins"
		}
		return server, confidenceLongText, "longer text wins"
	case TypeNumber:
		if local.Num > server.Num {
			return local, confidenceNumberMax, "numeric max wins"
		}
		return server, confidenceNumberMax, "numeric max wins"
	case TypeTimestamp:
		if local.Time.After(server.Time) {
			return local, confidenceDateMax, "later date wins"
		}
		return server, confidenceDateMax, "later date wins"
	case TypeArray:
		return unionArrays(local, server), confidenceUnion, "union of elements"
	}

	return Value{}, 0, ""
}

// unionArrays appends local elements missing from the server array,
// preserving server order first
func unionArrays(local, server Value) Value {
	out := make([]Value, 0, len(server.List)+len(local.List))
	out = append(out, server.List...)
	for _, lv := range local.List {
		seen := false
		for _, sv := range out {
			if lv.Equal(sv) {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, lv)
		}
	}
	return Value{Type: TypeArray, List: out}
}

// resolvePolicyAware consults the business-rule table: server payload is the
// base, caller-local user-preference fields are kept, and a terminal
// workflow state already reached on the server is pinned
func (cr *ConflictResolver) resolvePolicyAware(c *Conflict) ResolutionResult {
	merged := c.ServerPayload.Clone()
	if merged == nil {
		merged = make(Payload)
	}

	var kept []string
	for name, lv := range c.LocalPayload {
		if cr.preferenceFields[strings.ToLower(name)] {
			merged[name] = lv.clone()
			kept = append(kept, name)
		}
	}

	var pinned []string
	for _, name := range []string{"status", "state"} {
		if sv, ok := c.ServerPayload[name]; ok && sv.Type == TypeString && cr.terminalStates[strings.ToLower(sv.Str)] {
			merged[name] = sv
			pinned = append(pinned, fmt.Sprintf("%s=%s", name, sv.Str))
		}
	}

	rationale := "server payload as base"
	if len(kept) > 0 {
		rationale += ", local preference fields kept: " + strings.Join(kept, ", ")
	}
	if len(pinned) > 0 {
		rationale += ", terminal server states pinned: " + strings.Join(pinned, ", ")
	}

	return ResolutionResult{
		Success:         true,
		ResolvedPayload: merged,
		StrategyUsed:    StrategyPolicyAware,
		Confidence:      confidencePolicy,
		Rationale:       rationale,
	}
}

// resolveUserGuided applies explicit per-field choices. Without input it
// fails with RequiresUserConfirmation and changes nothing.
func (cr *ConflictResolver) resolveUserGuided(c *Conflict, input UserInput) ResolutionResult {
	if len(input) == 0 {
		return ResolutionResult{
			Success:                  false,
			StrategyUsed:             StrategyUserGuided,
			RequiresUserConfirmation: true,
			Rationale:                "user-guided resolution requires explicit per-field choices",
		}
	}

	merged := c.ServerPayload.Clone()
	if merged == nil {
		merged = make(Payload)
	}

	var warnings []string
	for _, fc := range c.FieldConflicts {
		choice, ok := input[fc.FieldName]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("no choice supplied for field %q, keeping server value", fc.FieldName))
			continue
		}
		switch choice.Source {
		case "local":
			merged[fc.FieldName] = fc.LocalValue
		case "server":
			merged[fc.FieldName] = fc.ServerValue
		case "custom":
			merged[fc.FieldName] = choice.Custom
		default:
			return ResolutionResult{
				Success:                  false,
				StrategyUsed:             StrategyUserGuided,
				RequiresUserConfirmation: true,
				Rationale:                fmt.Sprintf("invalid choice source %q for field %q", choice.Source, fc.FieldName),
			}
		}
	}

	return ResolutionResult{
		Success:         true,
		ResolvedPayload: merged,
		StrategyUsed:    StrategyUserGuided,
		Confidence:      100,
		Warnings:        warnings,
		Rationale:       "per-field choices applied as supplied",
	}
}
