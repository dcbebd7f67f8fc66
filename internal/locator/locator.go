// Package locator resolves a user's document fingerprint to the blob the LLM
// should read, converting office formats to PDF once and reusing the result.
package locator

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/docsage/internal/blob"
	"github.com/sells-group/docsage/internal/convert"
	"github.com/sells-group/docsage/internal/model"
	"github.com/sells-group/docsage/internal/resilience"
	"github.com/sells-group/docsage/internal/store"
)

var (
	// ErrNotFound is returned when the user has no document with the fingerprint.
	ErrNotFound = eris.New("locator: document not found")
	// ErrConversionFailed is returned when a convertible document cannot be
	// turned into the canonical format.
	ErrConversionFailed = eris.New("locator: conversion failed")
)

// ConvertedSuffix is appended to an original key to derive the location of
// its canonical copy.
const ConvertedSuffix = ".converted"

// ConvertedKey returns the deterministic location of the canonical copy of
// the object stored at key.
func ConvertedKey(key string) string {
	return key + ConvertedSuffix
}

// Documents is the metadata store the locator reads.
type Documents interface {
	GetDocument(ctx context.Context, userID, fingerprint string) (*model.Document, error)
	SetCanonicalKey(ctx context.Context, userID, fingerprint, key string) error
}

// Resolution is where the LLM should read a document from.
type Resolution struct {
	Document  model.Document
	Location  string
	Canonical bool
}

// Options tune a Locator.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	Retry     resilience.Policy
	// ConvertTimeout bounds a shared conversion, which outlives any one
	// caller's context. Zero uses DefaultConvertTimeout.
	ConvertTimeout time.Duration
}

// DefaultConvertTimeout bounds a shared conversion run.
const DefaultConvertTimeout = 5 * time.Minute

// Locator implements document resolution with a convert-once policy.
type Locator struct {
	docs      Documents
	blobs     blob.Store
	converter convert.Converter
	cache     *recordCache
	retry     resilience.Policy
	flight    singleflight.Group

	convertTimeout time.Duration
}

// New creates a Locator. A zero CacheSize disables the record cache.
func New(docs Documents, blobs blob.Store, converter convert.Converter, opts Options) *Locator {
	retry := opts.Retry
	if retry.Name == "" {
		retry = resilience.DefaultPolicy("blob")
	}
	convertTimeout := opts.ConvertTimeout
	if convertTimeout <= 0 {
		convertTimeout = DefaultConvertTimeout
	}
	return &Locator{
		docs:           docs,
		blobs:          blobs,
		converter:      converter,
		cache:          newRecordCache(opts.CacheSize, opts.CacheTTL),
		retry:          retry,
		convertTimeout: convertTimeout,
	}
}

// Resolve looks up the document and returns the location of its canonical
// form. Convertible documents are converted on first use and the result is
// stored at ConvertedKey(original); later calls reuse that object.
func (l *Locator) Resolve(ctx context.Context, userID, fingerprint string) (*Resolution, error) {
	doc, err := l.document(ctx, userID, fingerprint)
	if err != nil {
		return nil, err
	}

	switch convert.Classify(doc.Filename, doc.ContentType) {
	case convert.Canonical:
		return &Resolution{Document: doc, Location: doc.StorageKey, Canonical: true}, nil
	case convert.Passthrough:
		return &Resolution{Document: doc, Location: doc.StorageKey}, nil
	}

	key := ConvertedKey(doc.StorageKey)
	// Concurrent requests for the same document share one conversion. The
	// run is detached from the caller that started it; each caller stops
	// waiting when its own context ends.
	ch := l.flight.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.convertTimeout)
		defer cancel()
		return nil, l.ensureConverted(runCtx, doc, key)
	})
	select {
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "locator: wait for conversion of %s", doc.Filename)
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
	}

	if doc.CanonicalKey != key {
		doc.CanonicalKey = key
		l.cache.add(doc)
	}
	return &Resolution{Document: doc, Location: key, Canonical: true}, nil
}

// Invalidate drops any cached record for the document.
func (l *Locator) Invalidate(userID, fingerprint string) {
	l.cache.remove(userID, fingerprint)
}

func (l *Locator) document(ctx context.Context, userID, fingerprint string) (model.Document, error) {
	if doc, ok := l.cache.get(userID, fingerprint); ok {
		return doc, nil
	}
	doc, err := l.docs.GetDocument(ctx, userID, fingerprint)
	if errors.Is(err, store.ErrNotFound) {
		return model.Document{}, eris.Wrapf(ErrNotFound, "fingerprint %s", fingerprint)
	}
	if err != nil {
		return model.Document{}, eris.Wrap(err, "locator: get document")
	}
	l.cache.add(*doc)
	return *doc, nil
}

func (l *Locator) ensureConverted(ctx context.Context, doc model.Document, key string) error {
	exists, err := resilience.Retry(ctx, l.retry, func(ctx context.Context) (bool, error) {
		return l.blobs.ObjectExists(ctx, key)
	})
	if err != nil {
		return eris.Wrapf(err, "locator: check %s", key)
	}
	if exists {
		conversionTotal.WithLabelValues("reused").Inc()
		l.recordCanonical(ctx, doc, key)
		return nil
	}

	original, err := resilience.Retry(ctx, l.retry, func(ctx context.Context) ([]byte, error) {
		return l.blobs.GetObject(ctx, doc.StorageKey)
	})
	if errors.Is(err, blob.ErrNotFound) {
		return eris.Wrapf(ErrNotFound, "original object %s missing", doc.StorageKey)
	}
	if err != nil {
		return eris.Wrapf(err, "locator: read %s", doc.StorageKey)
	}

	start := time.Now()
	pdf, err := l.converter.ConvertToCanonical(ctx, doc.Filename, original)
	if err != nil && ctx.Err() != nil {
		return eris.Wrapf(ctx.Err(), "locator: convert %s", doc.Filename)
	}
	if err != nil {
		conversionTotal.WithLabelValues("failed").Inc()
		zap.L().Warn("document conversion failed",
			zap.String("fingerprint", doc.Fingerprint),
			zap.String("filename", doc.Filename),
			zap.Error(err),
		)
		return eris.Wrapf(ErrConversionFailed, "%s: %v", doc.Filename, err)
	}

	if err := resilience.RetryDo(ctx, l.retry, func(ctx context.Context) error {
		return l.blobs.PutObject(ctx, key, pdf, convert.CanonicalContentType)
	}); err != nil {
		return eris.Wrapf(err, "locator: store %s", key)
	}

	conversionTotal.WithLabelValues("converted").Inc()
	zap.L().Info("converted document to canonical format",
		zap.String("fingerprint", doc.Fingerprint),
		zap.String("key", key),
		zap.Int("bytes", len(pdf)),
		zap.Duration("elapsed", time.Since(start)),
	)
	l.recordCanonical(ctx, doc, key)
	return nil
}

// recordCanonical stores the converted location on the document record. The
// object itself is the source of truth, so failures are only logged.
func (l *Locator) recordCanonical(ctx context.Context, doc model.Document, key string) {
	if doc.CanonicalKey == key {
		return
	}
	if err := l.docs.SetCanonicalKey(ctx, doc.UserID, doc.Fingerprint, key); err != nil {
		zap.L().Warn("failed to record canonical key",
			zap.String("fingerprint", doc.Fingerprint),
			zap.Error(err),
		)
	}
}
