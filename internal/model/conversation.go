package model

import (
	"strings"
	"time"
)

// TimestampLayout is the fixed-width UTC layout used in conversation sort
// keys, at microsecond resolution. Fixed width keeps lexicographic order equal
// to chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// SortKeySeparator joins the fingerprint and timestamp in a sort key.
const SortKeySeparator = "#"

// Conversation is one answered question for one document. Records are
// immutable once appended to the ledger.
type Conversation struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Fingerprint string    `json:"fingerprint"`
	SortKey     string    `json:"sort_key"`
	CreatedAt   time.Time `json:"created_at"`
	Answer
}

// SortKey derives the composite key "{fingerprint}#{timestamp}".
func SortKey(fingerprint string, ts time.Time) string {
	return fingerprint + SortKeySeparator + ts.UTC().Format(TimestampLayout)
}

// SortKeyPrefix is the range prefix shared by every record of a document.
func SortKeyPrefix(fingerprint string) string {
	return fingerprint + SortKeySeparator
}

// ParseSortKey splits a sort key into its fingerprint and timestamp parts.
func ParseSortKey(key string) (fingerprint string, ts time.Time, ok bool) {
	i := strings.LastIndex(key, SortKeySeparator)
	if i <= 0 || i == len(key)-1 {
		return "", time.Time{}, false
	}
	ts, err := time.Parse(TimestampLayout, key[i+1:])
	if err != nil {
		return "", time.Time{}, false
	}
	return key[:i], ts, true
}
