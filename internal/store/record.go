package store

import (
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docsage/internal/model"
)

// conversationColumns is the select list shared by both SQL backends.
const conversationColumns = `id, user_id, fingerprint, sort_key, created_at, question, answer, confidence, reasoning, source, verified, total_pages, data_quality_notes, alternative_interpretations`

// encodedAnswer holds the column encodings of an answer.
type encodedAnswer struct {
	confidence   string
	source       []byte
	alternatives []byte
}

// encodeAnswer renders confidence as a decimal string so NUMERIC columns keep
// the exact value the model produced.
func encodeAnswer(a model.Answer) (encodedAnswer, error) {
	enc := encodedAnswer{confidence: strconv.FormatFloat(a.Confidence, 'f', -1, 64)}
	if a.Source != nil {
		b, err := json.Marshal(a.Source)
		if err != nil {
			return enc, eris.Wrap(err, "store: marshal source")
		}
		enc.source = b
	}
	if a.AlternativeInterpretations != nil {
		b, err := json.Marshal(a.AlternativeInterpretations)
		if err != nil {
			return enc, eris.Wrap(err, "store: marshal alternative interpretations")
		}
		enc.alternatives = b
	}
	return enc, nil
}

// decodeAnswer fills the JSON and numeric parts of rec from their columns.
func decodeAnswer(rec *model.Conversation, enc encodedAnswer) error {
	c, err := strconv.ParseFloat(enc.confidence, 64)
	if err != nil {
		return eris.Wrapf(err, "store: parse confidence %q", enc.confidence)
	}
	rec.Confidence = c
	if len(enc.source) > 0 {
		rec.Source = &model.Source{}
		if err := json.Unmarshal(enc.source, rec.Source); err != nil {
			return eris.Wrap(err, "store: unmarshal source")
		}
	}
	if len(enc.alternatives) > 0 {
		if err := json.Unmarshal(enc.alternatives, &rec.AlternativeInterpretations); err != nil {
			return eris.Wrap(err, "store: unmarshal alternative interpretations")
		}
	}
	return nil
}

func encodeQuestions(qs []string) ([]byte, error) {
	if qs == nil {
		return nil, nil
	}
	b, err := json.Marshal(qs)
	return b, eris.Wrap(err, "store: marshal suggested questions")
}

func decodeQuestions(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var qs []string
	err := json.Unmarshal(b, &qs)
	return qs, eris.Wrap(err, "store: unmarshal suggested questions")
}
