package compliance

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/PaolaCartala/compliance-local-ai/internal/inference"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/PaolaCartala/compliance-local-ai/pkg/metrics"
	"github.com/PaolaCartala/compliance-local-ai/pkg/opa"
)

const (
	DefaultHumanReviewThreshold          = 0.7
	DefaultComplianceConfidenceThreshold = 0.8
)

// baseConfidence is used when the runtime does not report a confidence.
var baseConfidence = map[model.Specialization]float64{
	model.SpecializationCRM:        0.80,
	model.SpecializationPortfolio:  0.80,
	model.SpecializationCompliance: 0.75,
}

const defaultBaseConfidence = 0.85

// RuleEngine returns the findings of the rule checks for a response.
type RuleEngine interface {
	Flags(ctx context.Context, input any) ([]opa.Flag, error)
}

// Evaluation is what the gate stamps onto a job.
type Evaluation struct {
	ConfidenceScore     float64
	HumanReviewRequired bool
	SecCompliant        bool
	Flags               []opa.Flag
}

// FlagIDs returns the ids of every finding, advisory ones included.
func (e Evaluation) FlagIDs() []string {
	ids := make([]string, 0, len(e.Flags))
	for _, f := range e.Flags {
		ids = append(ids, f.ID)
	}
	return ids
}

// Gate decides whether a result may be treated as authoritative. It never
// fails a job: low confidence routes to human review.
type Gate struct {
	rules                RuleEngine
	humanReviewThreshold float64
	complianceThreshold  float64
}

func NewGate(rules RuleEngine, humanReviewThreshold, complianceThreshold float64) *Gate {
	return &Gate{
		rules:                rules,
		humanReviewThreshold: humanReviewThreshold,
		complianceThreshold:  complianceThreshold,
	}
}

type ruleInput struct {
	Text           string   `json:"text"`
	Specialization string   `json:"specialization"`
	RequestType    string   `json:"request_type"`
	RuntimeFlags   []string `json:"runtime_flags"`
}

func (g *Gate) Evaluate(ctx context.Context, job model.Job, resp *inference.Response) (Evaluation, error) {
	score := Confidence(job.Specialization, resp.Confidence)

	flags, err := g.rules.Flags(ctx, ruleInput{
		Text:           resp.Text,
		Specialization: string(job.Specialization),
		RequestType:    string(job.RequestType),
		RuntimeFlags:   resp.Flags,
	})
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluating compliance rules: %w", err)
	}

	// signals raised by the runtime itself always disqualify
	for _, id := range resp.Flags {
		if slices.ContainsFunc(flags, func(f opa.Flag) bool { return f.ID == id }) {
			continue
		}
		flags = append(flags, opa.Flag{ID: id, Severity: opa.SeverityDisqualifying, Label: id, Assessment: "raised by the runtime"})
	}

	disqualified := slices.ContainsFunc(flags, opa.Flag.Disqualifying)
	for _, f := range flags {
		metrics.IncreaseComplianceFlagMetric(f.ID)
	}

	eval := Evaluation{
		ConfidenceScore:     score,
		HumanReviewRequired: HumanReviewRequired(score, g.humanReviewThreshold),
		SecCompliant:        score >= g.complianceThreshold && !disqualified,
		Flags:               flags,
	}
	if eval.HumanReviewRequired {
		metrics.IncreaseHumanReviewMetric(string(job.Specialization))
	}
	return eval, nil
}

// Confidence returns the reported confidence clamped to [0, 1], or the
// specialization's base confidence when none was reported.
func Confidence(s model.Specialization, reported *float64) float64 {
	if reported == nil {
		if c, ok := baseConfidence[s]; ok {
			return c
		}
		return defaultBaseConfidence
	}
	if math.IsNaN(*reported) {
		return 0
	}
	return min(max(*reported, 0), 1)
}

// HumanReviewRequired is the review rule. It depends on the stored score
// only, so it can be recomputed from the ledger at any time.
func HumanReviewRequired(score, threshold float64) bool {
	return score < threshold
}
