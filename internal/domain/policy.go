package domain

import "context"

// UploadPolicyInput is the document handed to the admission policy after
// signature verification succeeds.
type UploadPolicyInput struct {
	FactoryName  string          `json:"factory_name"`
	Scheme       SignatureScheme `json:"scheme"`
	TotalChunks  int             `json:"total_chunks"`
	TestRunCount int             `json:"test_run_count"`
}

type UploadPolicyDecision struct {
	Allow  bool
	Reason string
}

type UploadPolicy interface {
	Evaluate(ctx context.Context, input UploadPolicyInput) (UploadPolicyDecision, error)
}
