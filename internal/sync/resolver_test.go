package sync

import (
	"testing"
	"time"
)

// analyzed builds a conflict with its field diffs filled in, the shape the
// queue hands the resolver
func analyzed(local, server Payload) *Conflict {
	c := &Conflict{
		LocalPayload:  local,
		ServerPayload: server,
	}
	c.FieldConflicts = newTestAnalyzer().Analyze(c).FieldConflicts
	return c
}

func newTestResolver() *ConflictResolver {
	return NewConflictResolver(testSyncConfig())
}

func TestResolver_ClientWinsWholesale(t *testing.T) {
	cr := newTestResolver()
	c := analyzed(
		Payload{"notes": String("local"), "count": Number(1)},
		Payload{"notes": String("server"), "count": Number(2)},
	)

	result := cr.Resolve(c, StrategyClientWins, nil)
	if !result.Success {
		t.Fatal("client_wins should always succeed")
	}
	if result.RequiresUserConfirmation {
		t.Error("Wholesale pick should clear the confidence threshold")
	}
	if !result.ResolvedPayload.Equal(c.LocalPayload) {
		t.Error("Expected the local payload wholesale")
	}
}

func TestResolver_FieldLevelNumericMaxWins(t *testing.T) {
	cr := newTestResolver()
	c := analyzed(
		Payload{"quantity": Number(5)},
		Payload{"quantity": Number(9)},
	)

	result := cr.Resolve(c, StrategyFieldLevel, nil)
	if !result.Success {
		t.Fatal("field_level should succeed")
	}
	if got := result.ResolvedPayload["quantity"].Num; got != 9 {
		t.Errorf("Numeric merge should pick the max, got %v", got)
	}
	if result.RequiresUserConfirmation {
		t.Errorf("Numeric max merge at confidence %d should not require confirmation", result.Confidence)
	}

	// Deterministic regardless of which side holds the larger value
	swapped := analyzed(
		Payload{"quantity": Number(9)},
		Payload{"quantity": Number(5)},
	)
	result2 := cr.Resolve(swapped, StrategyFieldLevel, nil)
	if got := result2.ResolvedPayload["quantity"].Num; got != 9 {
		t.Errorf("Swapped sides should produce the same winner, got %v", got)
	}
}

func TestResolver_FieldLevelLongerTextWins(t *testing.T) {
	cr := newTestResolver()
	c := analyzed(
		Payload{"description": String("short")},
		Payload{"description": String("a considerably longer description")},
	)

	result := cr.Resolve(c, StrategyFieldLevel, nil)
	if got := result.ResolvedPayload["description"].Str; got != "a considerably longer description" {
		t.Errorf("Longer text should win, got %q", got)
	}
	if result.Confidence != confidenceLongText {
		t.Errorf("Expected text-merge confidence %d, got %d", confidenceLongText, result.Confidence)
	}
}

func TestResolver_FieldLevelArrayUnion(t *testing.T) {
	cr := newTestResolver()
	c := analyzed(
		Payload{"tags": Array(String("urgent"), String("rework"))},
		Payload{"tags": Array(String("urgent"), String("billing"))},
	)

	result := cr.Resolve(c, StrategyFieldLevel, nil)
	merged := result.ResolvedPayload["tags"].List
	if len(merged) != 3 {
		t.Fatalf("Expected union of 3 elements, got %d", len(merged))
	}
	// Server order first, then local-only elements
	want := []string{"urgent", "billing", "rework"}
	for i, w := range want {
		if merged[i].Str != w {
			t.Errorf("Element %d: expected %q, got %q", i, w, merged[i].Str)
		}
	}
	// Union confidence sits below the threshold, so confirmation is required
	if !result.RequiresUserConfirmation {
		t.Error("Array union should require confirmation")
	}
}

func TestResolver_FieldLevelNullDefersToPopulated(t *testing.T) {
	cr := newTestResolver()
	c := analyzed(
		Payload{"assignee": String("tech-4")},
		Payload{"assignee": Null()},
	)

	result := cr.Resolve(c, StrategyFieldLevel, nil)
	if got := result.ResolvedPayload["assignee"].Str; got != "tech-4" {
		t.Errorf("Populated side should fill null, got %q", got)
	}
}

func TestResolver_TimestampBasedNewerWins(t *testing.T) {
	cr := newTestResolver()
	older := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(2 * time.Hour)

	c := analyzed(
		Payload{"name": String("local edit"), "updated_at": Timestamp(newer)},
		Payload{"name": String("server edit"), "updated_at": Timestamp(older)},
	)

	result := cr.Resolve(c, StrategyTimestampBased, nil)
	if !result.Success {
		t.Fatal("timestamp_based should succeed")
	}
	if got := result.ResolvedPayload["name"].Str; got != "local edit" {
		t.Errorf("Newer payload should win wholesale, got %q", got)
	}
}

func TestResolver_TimestampBasedMissingStampsFallBack(t *testing.T) {
	cr := newTestResolver()
	c := analyzed(
		Payload{"name": String("local edit")},
		Payload{"name": String("server edit")},
	)

	result := cr.Resolve(c, StrategyTimestampBased, nil)
	if !result.Success {
		t.Fatal("Fallback should still produce a result")
	}
	if !result.RequiresUserConfirmation {
		t.Error("Missing timestamps should require confirmation")
	}
	if got := result.ResolvedPayload["name"].Str; got != "server edit" {
		t.Errorf("Fallback should keep the server payload, got %q", got)
	}
	if len(result.Warnings) == 0 {
		t.Error("Fallback should carry a warning")
	}
}

func TestResolver_PriorityBasedHigherRoleWins(t *testing.T) {
	cr := newTestResolver()
	c := analyzed(
		Payload{"name": String("local"), "actor_role": String("admin")},
		Payload{"name": String("server"), "actor_role": String("technician")},
	)

	result := cr.Resolve(c, StrategyPriorityBased, nil)
	if got := result.ResolvedPayload["name"].Str; got != "local" {
		t.Errorf("Admin edit should outrank technician, got %q", got)
	}
	if result.RequiresUserConfirmation {
		t.Error("Clear priority difference should not require confirmation")
	}
}

func TestResolver_PriorityTieRequiresConfirmation(t *testing.T) {
	cr := newTestResolver()
	c := analyzed(
		Payload{"name": String("local")},
		Payload{"name": String("server")},
	)

	result := cr.Resolve(c, StrategyPriorityBased, nil)
	if !result.RequiresUserConfirmation {
		t.Error("Unknown actor priorities should require confirmation")
	}
	if got := result.ResolvedPayload["name"].Str; got != "server" {
		t.Errorf("Tie should fall back to server, got %q", got)
	}
}

func TestResolver_PolicyAwarePinsTerminalStateAndKeepsPreferences(t *testing.T) {
	cr := newTestResolver()
	c := analyzed(
		Payload{
			"status":   String("in_progress"),
			"language": String("de"),
			"notes":    String("local notes"),
		},
		Payload{
			"status":   String("completed"),
			"language": String("en"),
			"notes":    String("server notes"),
		},
	)

	result := cr.Resolve(c, StrategyPolicyAware, nil)
	if !result.Success {
		t.Fatal("policy_aware should succeed")
	}
	if got := result.ResolvedPayload["status"].Str; got != "completed" {
		t.Errorf("Terminal server state must be pinned, got %q", got)
	}
	if got := result.ResolvedPayload["language"].Str; got != "de" {
		t.Errorf("Local preference field should be kept, got %q", got)
	}
	if got := result.ResolvedPayload["notes"].Str; got != "server notes" {
		t.Errorf("Non-preference fields take the server base, got %q", got)
	}
}

func TestResolver_UserGuidedWithoutInputFails(t *testing.T) {
	cr := newTestResolver()
	c := analyzed(
		Payload{"name": String("local")},
		Payload{"name": String("server")},
	)

	result := cr.Resolve(c, StrategyUserGuided, nil)
	if result.Success {
		t.Fatal("user_guided without input must not resolve")
	}
	if !result.RequiresUserConfirmation {
		t.Error("Missing input should flag RequiresUserConfirmation")
	}
	if result.ResolvedPayload != nil {
		t.Error("Failed resolution must not produce a payload")
	}
}

func TestResolver_UserGuidedAppliesChoices(t *testing.T) {
	cr := newTestResolver()
	c := analyzed(
		Payload{"name": String("local"), "count": Number(1), "tag": String("a")},
		Payload{"name": String("server"), "count": Number(2), "tag": String("b")},
	)

	input := UserInput{
		"name":  {Source: "local"},
		"count": {Source: "server"},
		"tag":   {Source: "custom", Custom: String("c")},
	}

	result := cr.Resolve(c, StrategyUserGuided, input)
	if !result.Success {
		t.Fatalf("user_guided with full input should succeed: %s", result.Rationale)
	}
	if result.ResolvedPayload["name"].Str != "local" {
		t.Errorf("Expected local name, got %q", result.ResolvedPayload["name"].Str)
	}
	if result.ResolvedPayload["count"].Num != 2 {
		t.Errorf("Expected server count, got %v", result.ResolvedPayload["count"].Num)
	}
	if result.ResolvedPayload["tag"].Str != "c" {
		t.Errorf("Expected custom tag, got %q", result.ResolvedPayload["tag"].Str)
	}
	if result.Confidence != 100 {
		t.Errorf("Explicit choices carry full confidence, got %d", result.Confidence)
	}
}

func TestResolver_UnknownStrategyFails(t *testing.T) {
	cr := newTestResolver()
	c := analyzed(Payload{"a": Number(1)}, Payload{"a": Number(2)})

	result := cr.Resolve(c, Strategy("coin_flip"), nil)
	if result.Success {
		t.Error("Unknown strategy must not resolve")
	}
}
