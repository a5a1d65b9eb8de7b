package engine

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/miradorstack/report-viewer/internal/models"
)

func ruleByID(t *testing.T, id string) InterpretationRule {
	t.Helper()
	for _, r := range DefaultInterpreter().Rules() {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("rule %s not found", id)
	return InterpretationRule{}
}

func TestInterpretClickBranches(t *testing.T) {
	interp := DefaultInterpreter()
	clicks := ruleByID(t, "clicks")

	severe := interp.Interpret(models.Anomaly{Metric: "Clicks", DropPercent: -62})
	if severe.Text != clicks.SevereText {
		t.Fatalf("expected severe click text, got %q", severe.Text)
	}
	moderate := interp.Interpret(models.Anomaly{Metric: "Organic Clicks", DropPercent: -50})
	if moderate.Text != clicks.Text {
		t.Fatalf("expected moderate click text at exactly 50%%, got %q", moderate.Text)
	}
	if severe.Text == moderate.Text {
		t.Fatalf("click branches must differ")
	}
}

func TestInterpretCategories(t *testing.T) {
	interp := DefaultInterpreter()
	cases := map[string]string{
		"Sessions":          "traffic",
		"Active Users":      "traffic",
		"IMPRESSIONS":       "impressions",
		"Bounce Rate":       "general",
		"Click-through Imp": "clicks",
	}
	for metric, id := range cases {
		want := ruleByID(t, id)
		got := interp.SuggestActions(models.Anomaly{Metric: metric, DropPercent: -20})
		if got.Primary != want.Primary {
			t.Fatalf("metric %q: expected %s primary action, got %q", metric, id, got.Primary)
		}
	}
}

func TestInterpretDeterministic(t *testing.T) {
	interp := DefaultInterpreter()
	a := models.Anomaly{Metric: "Users", DropPercent: -30}
	if interp.Interpret(a) != interp.Interpret(a) {
		t.Fatalf("interpretation not deterministic")
	}
}

func TestSuggestActionsReturnsCopy(t *testing.T) {
	interp := DefaultInterpreter()
	first := interp.SuggestActions(models.Anomaly{Metric: "Clicks"})
	first.Secondary[0] = "mutated"
	second := interp.SuggestActions(models.Anomaly{Metric: "Clicks"})
	if second.Secondary[0] == "mutated" {
		t.Fatalf("secondary actions share backing storage")
	}
}

func TestRulePackAppendsBeforeFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(`rules:
  - id: revenue
    keywords: ["revenue", "conversion"]
    text: "Revenue dropped"
    primary: "Check checkout funnel"
    secondary: ["Review payment provider status"]
  - id: broken
    text: "no keywords"
  - id: clicks-shadow
    keywords: ["click"]
    text: "never reached"
`), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	interp, err := NewInterpreter(path, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	if err != nil {
		t.Fatalf("new interpreter: %v", err)
	}

	rules := interp.Rules()
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	want := []string{"clicks", "traffic", "impressions", "revenue", "clicks-shadow", "general"}
	if len(ids) != len(want) {
		t.Fatalf("unexpected rule order %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("unexpected rule order %v", ids)
		}
	}

	if got := interp.Interpret(models.Anomaly{Metric: "Conversions"}); got.Text != "Revenue dropped" {
		t.Fatalf("expected rule pack category, got %q", got.Text)
	}
	if got := interp.Interpret(models.Anomaly{Metric: "Clicks", DropPercent: -10}); got.Text == "never reached" {
		t.Fatalf("rule pack must not shadow built-in categories")
	}
}

func TestNewInterpreterMissingFile(t *testing.T) {
	interp, err := NewInterpreter("non-existent", nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(interp.Rules()) != len(DefaultInterpreter().Rules()) {
		t.Fatalf("expected built-in rules only")
	}
}

func TestNewInterpreterInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("rules: [:"), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if _, err := NewInterpreter(path, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestViewsOrderBySeverity(t *testing.T) {
	report := models.DiagnosticReport{Anomalies: []models.Anomaly{
		{Date: "2024-03-01", Source: "GA4", Metric: "Sessions", ZScore: -1.2},
		{Date: "2024-03-02", Source: "GSC", Metric: "Clicks", ZScore: -3.1, DropPercent: -62},
		{Date: "2024-03-03", Source: "GSC", Metric: "Impressions", ZScore: -2.4},
		{Date: "2024-03-04", Source: "GSC", Metric: "Clicks", ZScore: -4.0, DropPercent: -70},
	}}

	views := DefaultInterpreter().Views(report)
	got := []models.AnomalyID{views[0].ID, views[1].ID, views[2].ID, views[3].ID}
	want := []models.AnomalyID{"2024-03-04_gsc_clicks", "2024-03-02_gsc_clicks", "2024-03-03_gsc_impressions", "2024-03-01_ga4_sessions"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order %v", got)
		}
	}
	if views[0].Severity != models.SeveritySevere || views[3].Severity != models.SeverityMild {
		t.Fatalf("unexpected severities %+v", views)
	}
	if report.Anomalies[0].Metric != "Sessions" {
		t.Fatalf("views must not reorder the report")
	}
}

func TestNilInterpreterUsesBuiltins(t *testing.T) {
	var interp *Interpreter
	if got := interp.SuggestActions(models.Anomaly{Metric: "Impressions"}); got.Primary == "" {
		t.Fatalf("expected built-in action for nil interpreter")
	}
}

func TestShadowedKeywords(t *testing.T) {
	rules := append(DefaultInterpreter().Rules()[:3:3], InterpretationRule{ID: "ctr", Keywords: []string{"ctr", "Click-Through"}})
	got := shadowedKeywords(rules)
	if len(got) != 1 || got[0] != "Click-Through" {
		t.Fatalf("expected Click-Through to be shadowed by the clicks rule, got %v", got)
	}
}

func TestBundledRulePackKeywordsReachable(t *testing.T) {
	interp, err := NewInterpreter(filepath.Join("..", "..", "configs", "rules", "default.yaml"), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("load bundled rule pack: %v", err)
	}
	if len(interp.Rules()) <= 4 {
		t.Fatalf("expected bundled rules after the built-ins, got %d rules", len(interp.Rules()))
	}
	if got := shadowedKeywords(interp.rules); len(got) != 0 {
		t.Fatalf("bundled rule pack has unreachable keywords: %v", got)
	}
}
