// Package policyopa evaluates an optional rego admission policy against
// verified uploads. The policy document is expected to define
// data.serialtrust.policy.result as an object with an "allow" boolean and
// an optional "reason" string.
package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"serialtrust/internal/domain"

	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.serialtrust.policy.result"

type Engine struct {
	query rego.PreparedEvalQuery
}

func NewEngineFromPath(ctx context.Context, policyPath string) (*Engine, error) {
	r := rego.New(
		rego.Query(defaultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{policyPath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare upload policy: %w", err)
	}
	return &Engine{query: prepared}, nil
}

// NewEngineFromModule builds an engine from an inline rego module; tests
// use this instead of touching the filesystem.
func NewEngineFromModule(ctx context.Context, filename, module string) (*Engine, error) {
	r := rego.New(
		rego.Query(defaultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Module(filename, module),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare upload policy: %w", err)
	}
	return &Engine{query: prepared}, nil
}

func (e *Engine) Evaluate(ctx context.Context, input domain.UploadPolicyInput) (domain.UploadPolicyDecision, error) {
	var doc map[string]any
	raw, err := json.Marshal(input)
	if err != nil {
		return domain.UploadPolicyDecision{}, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.UploadPolicyDecision{}, err
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return domain.UploadPolicyDecision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.UploadPolicyDecision{}, errors.New("upload policy produced no result")
	}
	result, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return domain.UploadPolicyDecision{}, errors.New("upload policy result is not an object")
	}

	decision := domain.UploadPolicyDecision{}
	if allow, ok := result["allow"].(bool); ok {
		decision.Allow = allow
	}
	if reason, ok := result["reason"].(string); ok {
		decision.Reason = reason
	}
	return decision, nil
}
