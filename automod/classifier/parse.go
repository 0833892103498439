package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Which JSON shape the classifier is asked to produce.
type Schema string

const (
	// {isViolation, category, confidence, justification}
	SchemaFull Schema = "full"
	// {isViolation, justification}
	SchemaSimple Schema = "simple"
)

func ParseSchema(s string) (Schema, error) {
	switch Schema(strings.ToLower(strings.TrimSpace(s))) {
	case SchemaFull, "":
		return SchemaFull, nil
	case SchemaSimple:
		return SchemaSimple, nil
	}
	return "", fmt.Errorf("unknown verdict schema: %q", s)
}

var ErrNoJSONObject = errors.New("no JSON object in classifier output")

// Pulls the single JSON object out of model output which may be wrapped in code fences or chatter.
func ExtractJSON(raw string) (string, error) {
	s := strings.ReplaceAll(raw, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", ErrNoJSONObject
	}
	return s[start : end+1], nil
}

// pointer fields so that "missing" can be told apart from zero values
type rawVerdict struct {
	IsViolation   *bool    `json:"isViolation"`
	Category      *string  `json:"category"`
	Confidence    *float64 `json:"confidence"`
	Justification *string  `json:"justification"`
}

// Parses raw model output into a Verdict, checking the fields the schema requires.
func ParseVerdict(raw string, schema Schema) (*Verdict, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var rv rawVerdict
	if err := json.Unmarshal([]byte(obj), &rv); err != nil {
		return nil, fmt.Errorf("decoding verdict JSON: %w", err)
	}
	if rv.IsViolation == nil {
		return nil, fmt.Errorf("verdict missing required field: isViolation")
	}
	v := Verdict{IsViolation: *rv.IsViolation}

	switch schema {
	case SchemaSimple:
		if rv.Justification == nil {
			return nil, fmt.Errorf("verdict missing required field: justification")
		}
		v.Justification = *rv.Justification
		// simple verdicts carry no confidence; treat the boolean as certain
		if v.IsViolation {
			v.Confidence = 1.0
		}
	case SchemaFull:
		if rv.Confidence == nil {
			return nil, fmt.Errorf("verdict missing required field: confidence")
		}
		if *rv.Confidence < 0 || *rv.Confidence > 1 {
			return nil, fmt.Errorf("verdict confidence out of range: %f", *rv.Confidence)
		}
		v.Confidence = *rv.Confidence
		if v.IsViolation {
			if rv.Category == nil || *rv.Category == "" {
				return nil, fmt.Errorf("verdict missing required field: category")
			}
			if rv.Justification == nil {
				return nil, fmt.Errorf("verdict missing required field: justification")
			}
		}
		if rv.Category != nil {
			v.Category = *rv.Category
		}
		if rv.Justification != nil {
			v.Justification = *rv.Justification
		}
	default:
		return nil, fmt.Errorf("unknown verdict schema: %q", schema)
	}
	return &v, nil
}
