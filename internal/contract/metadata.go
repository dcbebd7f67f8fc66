package contract

import (
	"github.com/sells-group/docsage/internal/model"
)

// ParseMetadata extracts document metadata and suggested questions from raw
// model text. The expected shape is
// {"metadata": {"title", "type", "pages", "created_date"}, "suggested_questions": [...]}.
// A top-level "questions" list is accepted when "suggested_questions" is absent.
func ParseMetadata(raw string) (*model.DocumentMetadata, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return nil, err
	}
	f := fields(obj)

	meta, err := f.optionalObject("", "metadata")
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fieldErr("metadata", "is missing")
	}

	const prefix = "metadata."
	var m model.DocumentMetadata
	if m.Title, err = meta.requiredString(prefix, "title"); err != nil {
		return nil, err
	}
	if m.Type, err = meta.requiredString(prefix, "type"); err != nil {
		return nil, err
	}
	if m.PageCount, err = meta.optionalInt(prefix, "pages"); err != nil {
		return nil, err
	}
	created, err := meta.optionalString(prefix, "created_date")
	if err != nil {
		return nil, err
	}
	if created != nil {
		m.CreatedDate = *created
	}

	questionsKey := "suggested_questions"
	if !f.present(questionsKey) && f.present("questions") {
		questionsKey = "questions"
	}
	if m.SuggestedQuestions, err = f.optionalStrings("", questionsKey); err != nil {
		return nil, err
	}
	if len(m.SuggestedQuestions) > model.MaxSuggestedQuestions {
		m.SuggestedQuestions = m.SuggestedQuestions[:model.MaxSuggestedQuestions]
	}
	return &m, nil
}
