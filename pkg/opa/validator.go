package opa

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const flagsQuery = "data.compliance.inference.flags"

const (
	SeverityDisqualifying = "disqualifying"
	SeverityAdvisory      = "advisory"
)

// Flag is one finding raised by a policy.
type Flag struct {
	ID         string `json:"id"`
	Severity   string `json:"severity"`
	Label      string `json:"label"`
	Assessment string `json:"assessment"`
}

func (f Flag) Disqualifying() bool {
	return f.Severity == SeverityDisqualifying
}

// Validator handles policy compilation and validation
type Validator struct {
	preparedQuery rego.PreparedEvalQuery
}

func NewValidatorFromDir(policiesDir string) (*Validator, error) {
	reader := NewPolicyReader()

	policies, err := reader.ReadPolicies(policiesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read policies: %w", err)
	}

	return NewValidator(policies)
}

// NewDefaultValidator compiles the policies built into the binary.
func NewDefaultValidator() (*Validator, error) {
	policies, err := NewPolicyReader().DefaultPolicies()
	if err != nil {
		return nil, fmt.Errorf("failed to read default policies: %w", err)
	}
	return NewValidator(policies)
}

func NewValidator(policies map[string]string) (*Validator, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("no policies provided for validation")
	}

	validator := &Validator{}

	if err := validator.compilePolicies(policies); err != nil {
		return nil, fmt.Errorf("failed to compile policies: %w", err)
	}

	zap.S().Named("opa").Infof("OPA validator initialized with %d policies", len(policies))
	return validator, nil
}

// compilePolicies Compile the provided policy content and prepares the query
func (v *Validator) compilePolicies(policies map[string]string) error {
	compiler := ast.NewCompiler()
	modules := make(map[string]*ast.Module)

	for filename, content := range policies {
		module, err := ast.ParseModuleWithOpts(filename, content, ast.ParserOptions{
			RegoVersion: ast.RegoV1,
		})
		if err != nil {
			return fmt.Errorf("failed to parse policy %s: %w", filename, err)
		}
		modules[filename] = module
	}

	compiler.Compile(modules)
	if compiler.Failed() {
		return fmt.Errorf("policy compilation failed: %v", compiler.Errors)
	}

	r := rego.New(
		rego.Query(flagsQuery),
		rego.Compiler(compiler),
		rego.SetRegoVersion(ast.RegoV1),
	)

	preparedQuery, err := r.PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare rego query: %w", err)
	}

	v.preparedQuery = preparedQuery
	zap.S().Named("opa").Infof("Successfully compiled %d policy files", len(policies))
	return nil
}

// Flags evaluates input against the compiled policies. The result is sorted by
// flag id.
func (v *Validator) Flags(ctx context.Context, input any) ([]Flag, error) {
	resultSet, err := v.preparedQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}

	if len(resultSet) == 0 || len(resultSet[0].Expressions) == 0 {
		zap.S().Named("opa").Debug("No policy results returned")
		return []Flag{}, nil
	}

	raw, ok := resultSet[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from policy evaluation")
	}

	flags := make([]Flag, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected item type in result set")
		}

		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal flag data: %w", err)
		}

		var f Flag
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flag: %w", err)
		}

		flags = append(flags, f)
	}

	sort.Slice(flags, func(i, j int) bool { return flags[i].ID < flags[j].ID })
	return flags, nil
}
