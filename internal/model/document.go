package model

import "time"

// MaxSuggestedQuestions caps the suggested questions kept per document.
const MaxSuggestedQuestions = 5

// DocumentMetadata is derived from document content by the LLM.
type DocumentMetadata struct {
	Title              string   `json:"title,omitempty"`
	Type               string   `json:"type,omitempty"`
	PageCount          *int     `json:"page_count,omitempty"`
	CreatedDate        string   `json:"created_date,omitempty"`
	SuggestedQuestions []string `json:"suggested_questions,omitempty"`
}

// Document is one uploaded file for one user. (UserID, Fingerprint) is unique.
type Document struct {
	UserID      string           `json:"user_id"`
	Fingerprint string           `json:"fingerprint"`
	StorageKey  string           `json:"storage_key"`
	Filename    string           `json:"filename"`
	ContentType string           `json:"content_type,omitempty"`
	Size        int64            `json:"size"`
	Metadata    DocumentMetadata `json:"metadata"`
	// CanonicalKey is set only once a converted copy has been stored.
	CanonicalKey string    `json:"canonical_key,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
}
