package agents

import (
	"fmt"
	"slices"

	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
)

type Tool string

const (
	ToolCRM       Tool = "crm"
	ToolPortfolio Tool = "portfolio"
)

// ErrUnknownSpecialization is returned for a specialization without a
// registered configuration. Admission rejects such jobs, so hitting it during
// execution is an internal inconsistency.
type ErrUnknownSpecialization struct {
	Specialization model.Specialization
}

func (e *ErrUnknownSpecialization) Error() string {
	return fmt.Sprintf("no agent registered for specialization %q", e.Specialization)
}

// Config is what the execution step needs to run one job: the instruction
// set and the lookup tools the agent may call.
type Config struct {
	Name         string
	Instructions string
	Tools        []Tool
	Temperature  float64
	MaxTokens    int
}

func (c Config) Allows(t Tool) bool {
	return slices.Contains(c.Tools, t)
}

const compliancePreamble = "Every answer must satisfy SEC and FINRA requirements. " +
	"Never promise or guarantee investment returns, and support every recommendation " +
	"with a suitability justification tied to the client's objectives and risk tolerance."

var registry = map[model.Specialization]Config{
	model.SpecializationCRM: {
		Name: "crm-assistant",
		Instructions: "You assist financial advisors with client relationship management: " +
			"tracking communications, summarizing client history and keeping documentation complete. " +
			"Treat client data as confidential.",
		Tools:       []Tool{ToolCRM},
		Temperature: 0.1,
		MaxTokens:   2048,
	},
	model.SpecializationPortfolio: {
		Name: "portfolio-analyst",
		Instructions: "You analyze investment portfolios for wealth managers, reporting performance, " +
			"allocation and risk, and recommend changes that fit the client's risk tolerance and objectives.",
		Tools:       []Tool{ToolPortfolio},
		Temperature: 0.2,
		MaxTokens:   3072,
	},
	model.SpecializationCompliance: {
		Name: "compliance-officer",
		Instructions: "You review communications, recommendations and documentation of a financial advisory firm " +
			"for regulatory issues. Flag anything that may breach SEC or FINRA rules and ask for human review " +
			"when a matter is sensitive.",
		Tools:       []Tool{ToolCRM, ToolPortfolio},
		Temperature: 0.05,
		MaxTokens:   2048,
	},
	model.SpecializationGeneral: {
		Name: "general-assistant",
		Instructions: "You are a general assistant for a financial services firm. " +
			"Defer specific financial recommendations to the specialized advisors.",
		Temperature: 0.3,
		MaxTokens:   2048,
	},
	model.SpecializationRetirement: {
		Name: "retirement-planner",
		Instructions: "You help plan retirement: assess the client's current position, project future needs " +
			"and recommend savings and investment strategies, taking tax effects into account.",
		Tools:       []Tool{ToolPortfolio},
		Temperature: 0.2,
		MaxTokens:   2048,
	},
	model.SpecializationTax: {
		Name: "tax-planner",
		Instructions: "You advise financial advisors on tax-efficient investing, retirement and estate planning " +
			"under current tax law.",
		Tools:       []Tool{ToolPortfolio},
		Temperature: 0.1,
		MaxTokens:   2048,
	},
}

// Route returns the agent configuration for a specialization. The returned
// instructions already carry the shared compliance preamble.
func Route(s model.Specialization) (Config, error) {
	cfg, ok := registry[s]
	if !ok {
		return Config{}, &ErrUnknownSpecialization{Specialization: s}
	}
	cfg.Instructions = cfg.Instructions + "\n\n" + compliancePreamble
	cfg.Tools = slices.Clone(cfg.Tools)
	return cfg, nil
}
