package classifier

import (
	"context"
	"fmt"
)

type Kind string

const (
	KindText  Kind = "TEXT"
	KindImage Kind = "IMAGE"
)

type Payload struct {
	Kind Kind
	// post body for TEXT, asset locator (URL) for IMAGE
	Content string
}

type Verdict struct {
	IsViolation   bool    `json:"isViolation"`
	Category      string  `json:"category,omitempty"`
	Confidence    float64 `json:"confidence"`
	Justification string  `json:"justification"`
}

// Formats the verdict as a short human-readable reason string, eg "[harassment] personal attack".
func (v *Verdict) Reason() string {
	if v.Category == "" {
		return v.Justification
	}
	return fmt.Sprintf("[%s] %s", v.Category, v.Justification)
}

type Classifier interface {
	Classify(ctx context.Context, p Payload) (*Verdict, error)
}

const (
	StageRequest = "request"
	StageParse   = "parse"
)

// All errors returned by classifiers in this package are of this type.
type Failure struct {
	Kind  Kind
	Stage string
	Cause error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("classifier %s failure (%s): %v", f.Stage, f.Kind, f.Cause)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

func requestFailure(k Kind, err error) *Failure {
	return &Failure{Kind: k, Stage: StageRequest, Cause: err}
}

func parseFailure(k Kind, err error) *Failure {
	return &Failure{Kind: k, Stage: StageParse, Cause: err}
}
