// Package risk classifies proposed tool calls. Assessment is a pure
// function over the call and its declared schema: an ordered list of
// independent rules each inspect the tool name and parameters and may
// elevate the level or demand confirmation. Assessments are computed
// fresh for every call and never cached, since parameter values change
// the outcome.
package risk

import (
	"sync"

	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
)

// DefaultConfirmationThreshold: anything at or above this level requires
// confirmation even if no individual rule demanded one.
const DefaultConfirmationThreshold = models.RiskHigh

// Classifier evaluates tool calls against its rule list. Safe for
// concurrent use; rules can be added and removed at runtime.
type Classifier struct {
	mu        sync.RWMutex
	rules     []Rule
	threshold models.RiskLevel
}

// NewClassifier creates a classifier with the built-in rule set and the
// default confirmation threshold.
func NewClassifier() *Classifier {
	return &Classifier{
		rules:     builtinRules(),
		threshold: DefaultConfirmationThreshold,
	}
}

// SetConfirmationThreshold overrides the level at which confirmation is
// always required.
func (c *Classifier) SetConfirmationThreshold(level models.RiskLevel) {
	c.mu.Lock()
	c.threshold = level
	c.mu.Unlock()
}

// AddRule appends a rule to the evaluation list.
func (c *Classifier) AddRule(rule Rule) {
	c.mu.Lock()
	c.rules = append(c.rules, rule)
	c.mu.Unlock()
}

// RemoveRule removes a rule by id. Returns whether a rule was removed.
func (c *Classifier) RemoveRule(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, rule := range c.rules {
		if rule.ID == id {
			c.rules = append(c.rules[:i], c.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns a copy of the current rule list.
func (c *Classifier) Rules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Assess evaluates one tool call. The final level is the maximum of the
// call's declared base level, every matched rule's elevation, and the
// schema's declared level — the assessment never reports a level below
// what the schema declares.
func (c *Classifier) Assess(call *models.ToolCall, schema *models.ToolSchema) models.RiskAssessment {
	c.mu.RLock()
	rules := c.rules
	threshold := c.threshold
	c.mu.RUnlock()

	level := call.RiskLevel
	if level == "" {
		level = models.RiskLow
	}

	assessment := models.RiskAssessment{Level: level}
	for _, rule := range rules {
		matched, reason := rule.Match(call)
		if !matched {
			continue
		}
		assessment.Reasons = append(assessment.Reasons, reason)
		assessment.Level = models.MaxRiskLevel(assessment.Level, rule.ElevatesTo)
		if rule.RequiresConfirmation {
			assessment.RequiresConfirmation = true
		}
		if rule.Mitigation != "" {
			assessment.Mitigations = append(assessment.Mitigations, rule.Mitigation)
		}
	}

	if schema != nil {
		assessment.Level = models.MaxRiskLevel(assessment.Level, schema.RiskLevel)
	}
	if assessment.Level.AtLeast(threshold) {
		assessment.RequiresConfirmation = true
	}
	return assessment
}
