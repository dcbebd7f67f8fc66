package contract

import (
	"github.com/sells-group/docsage/internal/model"
)

// Parse extracts and validates an answer from raw model text. Any missing or
// mistyped required field rejects the whole response.
func Parse(raw string) (*model.Answer, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return nil, err
	}
	return answerFromFields(fields(obj))
}

func answerFromFields(f fields) (*model.Answer, error) {
	var (
		a   model.Answer
		err error
	)
	if a.Question, err = f.requiredString("", "question"); err != nil {
		return nil, err
	}
	if a.Answer, err = f.requiredString("", "answer"); err != nil {
		return nil, err
	}
	if a.Confidence, err = f.requiredNumber("", "confidence"); err != nil {
		return nil, err
	}
	if err := model.ValidateConfidence(a.Confidence); err != nil {
		return nil, fieldErr("confidence", "must be within [0.0, 1.0], got %v", a.Confidence)
	}
	if a.Reasoning, err = f.requiredString("", "reasoning"); err != nil {
		return nil, err
	}
	if a.Verified, err = f.requiredBool("", "verified"); err != nil {
		return nil, err
	}
	if a.Source, err = sourceFromFields(f); err != nil {
		return nil, err
	}
	if a.TotalPages, err = f.optionalInt("", "total_pages"); err != nil {
		return nil, err
	}
	if a.DataQualityNotes, err = f.optionalString("", "data_quality_notes"); err != nil {
		return nil, err
	}
	if a.AlternativeInterpretations, err = f.optionalStrings("", "alternative_interpretations"); err != nil {
		return nil, err
	}
	return &a, nil
}

func sourceFromFields(f fields) (*model.Source, error) {
	obj, err := f.optionalObject("", "source")
	if err != nil || obj == nil {
		return nil, err
	}

	const prefix = "source."
	var s model.Source
	if s.Location, err = obj.requiredString(prefix, "location"); err != nil {
		return nil, err
	}
	if s.Quote, err = obj.requiredString(prefix, "quote"); err != nil {
		return nil, err
	}
	method, err := obj.requiredString(prefix, "extraction_method")
	if err != nil {
		return nil, err
	}
	s.ExtractionMethod = model.ExtractionMethod(method)
	if !s.ExtractionMethod.Valid() {
		return nil, fieldErr(prefix+"extraction_method", "has unknown value %q", method)
	}
	if s.PageNumber, err = obj.optionalInt(prefix, "page_number"); err != nil {
		return nil, err
	}
	if s.Context, err = obj.optionalString(prefix, "context"); err != nil {
		return nil, err
	}
	return &s, nil
}
