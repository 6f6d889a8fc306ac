package agent

import (
	"encoding/json"

	"github.com/BaSui01/crewflow/types"
)

// OutcomeKind discriminates the variants of Outcome.
type OutcomeKind string

const (
	KindResult        OutcomeKind = "result"
	KindDelegation    OutcomeKind = "delegation"
	KindClarification OutcomeKind = "clarification"
	KindFailure       OutcomeKind = "failure"
)

// Outcome is the result of one worker invocation. The concrete type is one of
// *Result, *DelegationRequest, *ClarificationRequest or *Failure.
type Outcome interface {
	Kind() OutcomeKind
	TokenUsage() types.TokenUsage
	outcome()
}

// Result is a completed answer.
type Result struct {
	Text       string           `json:"text"`
	Structured json.RawMessage  `json:"structured,omitempty"`
	Usage      types.TokenUsage `json:"usage"`
}

// DelegationRequest asks the coordinator to hand a sub-task to another worker.
type DelegationRequest struct {
	TargetHint     string           `json:"target_hint"`
	SubDescription string           `json:"sub_description"`
	Usage          types.TokenUsage `json:"usage"`
}

// ClarificationRequest suspends the run until a human answers.
type ClarificationRequest struct {
	Question string           `json:"question"`
	Usage    types.TokenUsage `json:"usage"`
}

// Failure ends the invocation without an answer.
type Failure struct {
	Reason string           `json:"reason"`
	Err    error            `json:"-"`
	Usage  types.TokenUsage `json:"usage"`
}

func (*Result) Kind() OutcomeKind               { return KindResult }
func (*DelegationRequest) Kind() OutcomeKind    { return KindDelegation }
func (*ClarificationRequest) Kind() OutcomeKind { return KindClarification }
func (*Failure) Kind() OutcomeKind              { return KindFailure }

func (o *Result) TokenUsage() types.TokenUsage               { return o.Usage }
func (o *DelegationRequest) TokenUsage() types.TokenUsage    { return o.Usage }
func (o *ClarificationRequest) TokenUsage() types.TokenUsage { return o.Usage }
func (o *Failure) TokenUsage() types.TokenUsage              { return o.Usage }

func (*Result) outcome()               {}
func (*DelegationRequest) outcome()    {}
func (*ClarificationRequest) outcome() {}
func (*Failure) outcome()              {}

// Error implements error so a Failure can be returned or wrapped directly.
func (f *Failure) Error() string {
	if f.Err != nil {
		return f.Reason + ": " + f.Err.Error()
	}
	return f.Reason
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error { return f.Err }

// Failure reasons produced by the worker itself.
const (
	ReasonTimeout            = "timeout"
	ReasonCancelled          = "cancelled"
	ReasonMaxIterations      = "max iterations exceeded"
	ReasonDelegationDisabled = "delegation not allowed"
	ReasonProviderError      = "provider error"
	ReasonEmptyResponse      = "empty response"
)

func withUsage(o Outcome, usage types.TokenUsage) Outcome {
	switch v := o.(type) {
	case *Result:
		v.Usage = usage
	case *DelegationRequest:
		v.Usage = usage
	case *ClarificationRequest:
		v.Usage = usage
	case *Failure:
		v.Usage = usage
	}
	return o
}
