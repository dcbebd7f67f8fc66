package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/docsage/internal/auth"
	"github.com/sells-group/docsage/internal/model"
	"github.com/sells-group/docsage/internal/store"
)

type askRequest struct {
	Fingerprint string `json:"fingerprint"`
	Question    string `json:"question"`
}

// AskResponse is the answer contract plus replay details.
type AskResponse struct {
	model.Answer
	Cached  bool     `json:"cached"`
	Score   *float64 `json:"similarity,omitempty"`
	SortKey string   `json:"sort_key,omitempty"`
}

type deletedResponse struct {
	Deleted int `json:"deleted"`
}

func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized", "missing caller identity", false)
	}
	return user, ok
}

func (h *handler) ask(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req askRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, kindBadRequest, "invalid request body", false)
		return
	}

	res, err := h.Asker.Ask(r.Context(), user, req.Fingerprint, req.Question)
	if err != nil {
		writeAskError(w, r, err)
		return
	}

	resp := AskResponse{Answer: res.Answer, Cached: res.Cached}
	if res.Cached {
		score := res.Score
		resp.Score = &score
	}
	if res.Record != nil {
		resp.SortKey = res.Record.SortKey
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, kindTooLarge, "upload exceeds size limit", false)
			return
		}
		writeError(w, r, http.StatusBadRequest, kindBadRequest, "multipart field \"file\" is required", false)
		return
	}
	defer file.Close() //nolint:errcheck

	body, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, kindBadRequest, "could not read upload", false)
		return
	}

	doc, created, err := h.Documents.Upload(r.Context(), user, header.Filename, header.Header.Get("Content-Type"), body)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, doc)
}

func (h *handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	docs, err := h.Documents.List(r.Context(), user)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *handler) getDocument(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	doc, err := h.Documents.Get(r.Context(), user, chi.URLParam(r, "fingerprint"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	if err := h.Documents.Delete(r.Context(), user, chi.URLParam(r, "fingerprint")); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) deleteAllDocuments(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	n, err := h.Documents.DeleteAllForUser(r.Context(), user)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

func (h *handler) listConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	it, err := h.Ledger.QueryByUser(r.Context(), user)
	h.writeRecords(w, r, it, err)
}

func (h *handler) documentConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	fp := chi.URLParam(r, "fingerprint")

	if q := r.URL.Query().Get("question"); q != "" {
		rec, err := h.Ledger.FindByQuestion(r.Context(), user, fp, q)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	it, err := h.Ledger.QueryByDocument(r.Context(), user, fp)
	h.writeRecords(w, r, it, err)
}

func (h *handler) writeRecords(w http.ResponseWriter, r *http.Request, it store.RecordIterator, err error) {
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	recs, err := store.Collect(it)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.Conversation{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) deleteDocumentConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	n, err := h.Ledger.DeleteAllForDocument(r.Context(), user, chi.URLParam(r, "fingerprint"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

func (h *handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	sortKey := chi.URLParam(r, "fingerprint") + model.SortKeySeparator + chi.URLParam(r, "timestamp")
	if _, _, valid := model.ParseSortKey(sortKey); !valid {
		writeError(w, r, http.StatusBadRequest, kindBadRequest, "timestamp is not a valid record timestamp", false)
		return
	}
	if err := h.Ledger.DeleteOne(r.Context(), user, sortKey); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) deleteAllConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	n, err := h.Ledger.DeleteAllForUser(r.Context(), user)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}
