package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/docsage/internal/document"
	"github.com/sells-group/docsage/internal/locator"
	"github.com/sells-group/docsage/internal/qa"
	"github.com/sells-group/docsage/internal/store"
)

// Kinds used by handlers outside the ask pipeline.
const (
	kindNotFound    = "NotFound"
	kindBadRequest  = "InvalidInput"
	kindTooLarge    = "PayloadTooLarge"
	kindInternal    = string(qa.KindInternal)
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusForKind maps an ask failure kind to an HTTP status.
func StatusForKind(k qa.Kind) int {
	switch k {
	case qa.KindInvalidInput:
		return http.StatusBadRequest
	case qa.KindDocumentNotFound:
		return http.StatusNotFound
	case qa.KindDocumentUnprocessable:
		return http.StatusUnprocessableEntity
	case qa.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case qa.KindInvalidModelResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind, msg string, retryable bool) {
	writeJSON(w, status, errorBody{Error: errorDetail{
		Kind:      kind,
		Message:   msg,
		Retryable: retryable,
		RequestID: RequestID(r.Context()),
	}})
}

// writeAskError renders a pipeline failure. Internal details stay in the log.
func writeAskError(w http.ResponseWriter, r *http.Request, err error) {
	kind := qa.KindOf(err)
	status := StatusForKind(kind)
	msg := askMessage(kind)
	if kind == qa.KindInvalidInput {
		var qe *qa.Error
		if errors.As(err, &qe) && qe.Err != nil {
			msg = qe.Err.Error()
		}
	}
	writeError(w, r, status, string(kind), msg, kind.Retryable())
}

func askMessage(k qa.Kind) string {
	switch k {
	case qa.KindDocumentNotFound:
		return "document not found"
	case qa.KindDocumentUnprocessable:
		return "document could not be converted for analysis"
	case qa.KindUpstreamUnavailable:
		return "the language model is unavailable, try again later"
	case qa.KindInvalidModelResponse:
		return "the language model returned an unusable answer"
	case qa.KindLedgerWriteFailed:
		return "the answer could not be recorded"
	default:
		return "internal error"
	}
}

// writeStoreError renders errors from document and conversation operations.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, locator.ErrNotFound):
		writeError(w, r, http.StatusNotFound, kindNotFound, "not found", false)
	case errors.Is(err, document.ErrInvalidUpload):
		writeError(w, r, http.StatusBadRequest, kindBadRequest, err.Error(), false)
	default:
		zap.L().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, kindInternal, "internal error", false)
	}
}
