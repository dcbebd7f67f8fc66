package model

import (
	"math"

	"github.com/rotisserie/eris"
)

// ErrConfidenceRange is returned when a confidence value falls outside [0, 1].
var ErrConfidenceRange = eris.New("model: confidence must be within [0.0, 1.0]")

// ErrExtractionMethod is returned for an unknown source extraction method.
var ErrExtractionMethod = eris.New("model: unknown extraction method")

// ExtractionMethod tags how an answer was located in the document.
type ExtractionMethod string

const (
	ExtractionExplicit        ExtractionMethod = "explicit"
	ExtractionInferred        ExtractionMethod = "inferred"
	ExtractionCrossReferenced ExtractionMethod = "cross-referenced"
	ExtractionNotFound        ExtractionMethod = "not_found"
)

// Valid reports whether m is one of the known extraction methods.
func (m ExtractionMethod) Valid() bool {
	switch m {
	case ExtractionExplicit, ExtractionInferred, ExtractionCrossReferenced, ExtractionNotFound:
		return true
	default:
		return false
	}
}

// Source anchors an answer to a place in the document.
type Source struct {
	Location         string           `json:"location"`
	Quote            string           `json:"quote"`
	PageNumber       *int             `json:"page_number,omitempty"`
	Context          *string          `json:"context,omitempty"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
}

// Answer is the validated, fully typed result of one question against one
// document. Source is serialized as null when absent.
type Answer struct {
	Question                   string   `json:"question"`
	Answer                     string   `json:"answer"`
	Confidence                 float64  `json:"confidence"`
	Reasoning                  string   `json:"reasoning"`
	Source                     *Source  `json:"source"`
	Verified                   bool     `json:"verified"`
	TotalPages                 *int     `json:"total_pages,omitempty"`
	DataQualityNotes           *string  `json:"data_quality_notes,omitempty"`
	AlternativeInterpretations []string `json:"alternative_interpretations,omitempty"`
}

// ValidateConfidence checks that c is a finite value in the closed unit interval.
func ValidateConfidence(c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return eris.Wrapf(ErrConfidenceRange, "got %v", c)
	}
	return nil
}

// Validate checks the range and enum invariants of the answer.
func (a *Answer) Validate() error {
	if err := ValidateConfidence(a.Confidence); err != nil {
		return err
	}
	if a.Source != nil && !a.Source.ExtractionMethod.Valid() {
		return eris.Wrapf(ErrExtractionMethod, "got %q", a.Source.ExtractionMethod)
	}
	if a.TotalPages != nil && *a.TotalPages < 0 {
		return eris.Errorf("model: total_pages must be non-negative, got %d", *a.TotalPages)
	}
	return nil
}

// NewAnswer builds an Answer and rejects out-of-range confidence values.
func NewAnswer(question, answer string, confidence float64, reasoning string, source *Source, verified bool) (*Answer, error) {
	a := &Answer{
		Question:   question,
		Answer:     answer,
		Confidence: confidence,
		Reasoning:  reasoning,
		Source:     source,
		Verified:   verified,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
