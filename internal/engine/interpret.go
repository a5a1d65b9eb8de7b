package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/report-viewer/internal/models"
)

// Interpretation is the human-readable reading of an anomaly.
type Interpretation struct {
	Text string `json:"text"`
}

// SuggestedActions is the fixed action set attached to an interpretation category.
type SuggestedActions struct {
	Primary   string   `json:"primary"`
	Secondary []string `json:"secondary"`
}

// InterpretationRule is one entry of the ordered interpretation table. A rule
// matches when any keyword is a case-insensitive substring of the metric name.
// When SevereThreshold is positive and |dropPercent| exceeds it, SevereText is
// used instead of Text.
type InterpretationRule struct {
	ID              string   `yaml:"id"`
	Keywords        []string `yaml:"keywords"`
	SevereThreshold float64  `yaml:"severe_threshold"`
	Text            string   `yaml:"text"`
	SevereText      string   `yaml:"severe_text"`
	Primary         string   `yaml:"primary"`
	Secondary       []string `yaml:"secondary"`
}

// RulePackFile is the YAML root structure for additional interpretation rules.
type RulePackFile struct {
	Rules []InterpretationRule `yaml:"rules"`
}

var builtinRules = []InterpretationRule{
	{
		ID:              "clicks",
		Keywords:        []string{"click"},
		SevereThreshold: 50,
		SevereText:      "Clicks fell by more than half against the 7-day average. A drop this sharp usually means lost rankings, deindexed pages or a manual action rather than a normal swing in demand.",
		Text:            "Clicks are down moderately against the 7-day average. This is often a CTR shift caused by SERP feature changes, rewritten titles or seasonal demand.",
		Primary:         "Review Search Console for manual actions, indexing errors and ranking changes on the top landing pages",
		Secondary: []string{
			"Compare average position for the affected queries before and after the drop",
			"Check the page indexing report for newly excluded URLs",
			"Look for new SERP features on head terms",
		},
	},
	{
		ID:       "traffic",
		Keywords: []string{"session", "user"},
		Text:     "Sessions or users dropped. This can be a real loss of traffic or a tracking problem, so confirm measurement before treating it as a ranking issue.",
		Primary:  "Verify the analytics tag fires on every template and that no consent or filter change went live",
		Secondary: []string{
			"Cross-check organic clicks in Search Console for the same dates",
			"Review deployments that touched page templates",
			"Check for channel grouping or referral exclusion changes",
		},
	},
	{
		ID:       "impressions",
		Keywords: []string{"impression"},
		Text:     "Impressions fell, so pages are being shown less often in search. This usually precedes click loss and points to reduced visibility or indexing trouble.",
		Primary:  "Inspect index coverage and sitemap status for the affected sections",
		Secondary: []string{
			"Check robots.txt and noindex directives on recently changed pages",
			"Review Search Console for crawl anomalies",
			"Compare query counts to spot lost keyword coverage",
		},
	},
}

var fallbackRule = InterpretationRule{
	ID:      "general",
	Text:    "This metric dropped significantly against its 7-day baseline. Look at site, content and tracking changes made around this date.",
	Primary: "Audit changes deployed around the anomaly date",
	Secondary: []string{
		"Compare against the same period last year for seasonality",
		"Check data source connectivity for gaps",
		"Review competitor activity on shared keywords",
	},
}

// Interpreter applies the ordered interpretation table. Built-in categories come
// first, rule-pack categories follow in file order, and the fallback is always last.
type Interpreter struct {
	rules    []InterpretationRule
	fallback InterpretationRule
	logger   *slog.Logger
}

// NewInterpreter returns an interpreter with the built-in table plus any rules found
// at path. An empty or missing path yields the built-in table only.
func NewInterpreter(path string, logger *slog.Logger) (*Interpreter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	interp := &Interpreter{
		rules:    append([]InterpretationRule(nil), builtinRules...),
		fallback: fallbackRule,
		logger:   logger,
	}
	if path == "" {
		return interp, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("interpretation rule pack not found", slog.String("path", path))
			return interp, nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}
	var pack RulePackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}
	for _, rule := range pack.Rules {
		if len(rule.Keywords) == 0 {
			logger.Warn("skipping interpretation rule without keywords", slog.String("id", rule.ID))
			continue
		}
		interp.rules = append(interp.rules, rule)
	}
	for _, kw := range shadowedKeywords(interp.rules) {
		logger.Warn("interpretation keyword can never match; an earlier rule claims it", slog.String("path", path), slog.String("keyword", kw))
	}
	logger.Info("interpretation rule pack loaded", slog.String("path", path), slog.Int("rules", len(interp.rules)))
	return interp, nil
}

// DefaultInterpreter returns the built-in table.
func DefaultInterpreter() *Interpreter {
	interp, _ := NewInterpreter("", nil)
	return interp
}

// Rules returns the dispatch order, fallback included.
func (i *Interpreter) Rules() []InterpretationRule {
	if i == nil {
		i = DefaultInterpreter()
	}
	out := append([]InterpretationRule(nil), i.rules...)
	return append(out, i.fallback)
}

// Interpret returns the interpretation text for the anomaly's metric and drop.
func (i *Interpreter) Interpret(a models.Anomaly) Interpretation {
	rule := i.match(a.Metric)
	return Interpretation{Text: rule.text(a.DropPercent)}
}

// SuggestActions returns the primary action and secondary checks for the anomaly.
func (i *Interpreter) SuggestActions(a models.Anomaly) SuggestedActions {
	rule := i.match(a.Metric)
	return SuggestedActions{
		Primary:   rule.Primary,
		Secondary: append([]string(nil), rule.Secondary...),
	}
}

// View projects an anomaly into its presentation form.
func (i *Interpreter) View(a models.Anomaly) models.AnomalyView {
	actions := i.SuggestActions(a)
	return models.AnomalyView{
		Anomaly:          a,
		ID:               models.IdentityOf(a),
		Severity:         Classify(a.ZScore),
		Interpretation:   i.Interpret(a).Text,
		PrimaryAction:    actions.Primary,
		SecondaryActions: actions.Secondary,
	}
}

// Views projects every anomaly of a report and orders them for display: most
// severe first, larger |z| first within a tier, report order otherwise.
func (i *Interpreter) Views(report models.DiagnosticReport) []models.AnomalyView {
	views := make([]models.AnomalyView, 0, len(report.Anomalies))
	for _, a := range report.Anomalies {
		views = append(views, i.View(a))
	}
	sort.SliceStable(views, func(x, y int) bool {
		rx, ry := severityRank(views[x].Severity), severityRank(views[y].Severity)
		if rx != ry {
			return rx < ry
		}
		return math.Abs(views[x].ZScore) > math.Abs(views[y].ZScore)
	})
	return views
}

func (i *Interpreter) match(metric string) InterpretationRule {
	if i == nil {
		i = DefaultInterpreter()
	}
	lowered := strings.ToLower(metric)
	for _, rule := range i.rules {
		if rule.matches(lowered) {
			return rule
		}
	}
	return i.fallback
}

// shadowedKeywords lists keywords that an earlier rule in the table already
// matches, so their own rule is never selected through them.
func shadowedKeywords(rules []InterpretationRule) []string {
	var out []string
	for k, rule := range rules {
		for _, kw := range rule.Keywords {
			lowered := strings.ToLower(kw)
			for _, earlier := range rules[:k] {
				if earlier.matches(lowered) {
					out = append(out, kw)
					break
				}
			}
		}
	}
	return out
}

func (r InterpretationRule) matches(loweredMetric string) bool {
	for _, kw := range r.Keywords {
		if kw != "" && strings.Contains(loweredMetric, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (r InterpretationRule) text(dropPercent float64) string {
	if r.SevereThreshold > 0 && r.SevereText != "" && math.Abs(dropPercent) > r.SevereThreshold {
		return r.SevereText
	}
	return r.Text
}
