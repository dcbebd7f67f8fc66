// Package document handles document bookkeeping around the ask pipeline:
// content-addressed uploads, metadata extraction and cascading deletes.
package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docsage/internal/blob"
	"github.com/sells-group/docsage/internal/contract"
	"github.com/sells-group/docsage/internal/llm"
	"github.com/sells-group/docsage/internal/locator"
	"github.com/sells-group/docsage/internal/model"
	"github.com/sells-group/docsage/internal/store"
)

// ErrInvalidUpload is returned for uploads that cannot be stored, such as an
// empty body or an unusable filename.
var ErrInvalidUpload = eris.New("document: invalid upload")

// Records is the persistence the service needs.
type Records interface {
	store.DocumentStore
	DeleteAllForDocument(ctx context.Context, userID, fingerprint string) (int, error)
}

// Resolver locates the canonical form of a document.
type Resolver interface {
	Resolve(ctx context.Context, userID, fingerprint string) (*locator.Resolution, error)
	Invalidate(userID, fingerprint string)
}

// Config tunes a Service.
type Config struct {
	PresignTTL time.Duration
	// MetadataTimeout bounds the metadata LLM call made during upload.
	MetadataTimeout time.Duration
	// DeleteConcurrency bounds parallel document deletes for one user.
	DeleteConcurrency int
}

// Service manages a user's documents.
type Service struct {
	records  Records
	blobs    blob.Store
	resolver Resolver
	llm      llm.Completer
	cfg      Config
}

// NewService creates a Service. completer may be nil, in which case uploads
// skip metadata extraction.
func NewService(records Records, blobs blob.Store, resolver Resolver, completer llm.Completer, cfg Config) *Service {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = 180 * time.Second
	}
	if cfg.DeleteConcurrency <= 0 {
		cfg.DeleteConcurrency = 4
	}
	return &Service{records: records, blobs: blobs, resolver: resolver, llm: completer, cfg: cfg}
}

// Fingerprint is the lowercase hex SHA-256 of data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StorageKey is where the original bytes of a document are kept.
func StorageKey(userID, fingerprint, filename string) string {
	return userID + "/" + fingerprint + "/" + filename
}

// SanitizeFilename reduces a client supplied name to its base name. It
// returns "" when nothing usable remains.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	base := path.Base(name)
	switch base {
	case ".", "..", "/":
		return ""
	}
	return base
}

// Upload stores body for the user unless the same bytes were uploaded
// before, in which case the existing record is returned with created false.
func (s *Service) Upload(ctx context.Context, userID, filename, contentType string, body []byte) (*model.Document, bool, error) {
	if userID == "" {
		return nil, false, eris.Wrap(ErrInvalidUpload, "caller identity is required")
	}
	if len(body) == 0 {
		return nil, false, eris.Wrap(ErrInvalidUpload, "empty body")
	}
	name := SanitizeFilename(filename)
	if name == "" {
		return nil, false, eris.Wrapf(ErrInvalidUpload, "filename %q", filename)
	}

	fp := Fingerprint(body)
	existing, err := s.records.GetDocument(ctx, userID, fp)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, eris.Wrap(err, "document: lookup")
	}

	doc := &model.Document{
		UserID:      userID,
		Fingerprint: fp,
		StorageKey:  StorageKey(userID, fp, name),
		Filename:    name,
		ContentType: detectContentType(name, contentType, body),
		Size:        int64(len(body)),
	}
	if err := s.blobs.PutObject(ctx, doc.StorageKey, body, doc.ContentType); err != nil {
		return nil, false, eris.Wrapf(err, "document: store %s", doc.StorageKey)
	}
	created, err := s.records.CreateDocument(ctx, doc)
	if err != nil {
		return nil, false, eris.Wrap(err, "document: create record")
	}
	if !created {
		// Lost a race with a concurrent upload of the same bytes.
		existing, err := s.records.GetDocument(ctx, userID, fp)
		if err != nil {
			return nil, false, eris.Wrap(err, "document: lookup")
		}
		// The winner may have stored the bytes under another filename; the
		// object written here is then referenced by no record.
		if existing.StorageKey != doc.StorageKey {
			if err := s.blobs.DeleteObject(ctx, doc.StorageKey); err != nil && !errors.Is(err, blob.ErrNotFound) {
				zap.L().Warn("failed to remove orphaned upload",
					zap.String("key", doc.StorageKey),
					zap.Error(err),
				)
			}
		}
		return existing, false, nil
	}

	zap.L().Info("document uploaded",
		zap.String("user_id", userID),
		zap.String("fingerprint", fp),
		zap.String("filename", name),
		zap.Int64("size", doc.Size),
	)

	if s.llm != nil {
		mctx, cancel := context.WithTimeout(ctx, s.cfg.MetadataTimeout)
		meta, err := s.ExtractMetadata(mctx, userID, fp)
		cancel()
		if err != nil {
			zap.L().Warn("metadata extraction failed",
				zap.String("fingerprint", fp),
				zap.Error(err),
			)
		} else {
			doc.Metadata = *meta
		}
	}
	return doc, true, nil
}

// Get returns the user's document record.
func (s *Service) Get(ctx context.Context, userID, fingerprint string) (*model.Document, error) {
	doc, err := s.records.GetDocument(ctx, userID, fingerprint)
	if err != nil {
		return nil, eris.Wrapf(err, "document: get %s", fingerprint)
	}
	return doc, nil
}

// List returns every document of the user.
func (s *Service) List(ctx context.Context, userID string) ([]model.Document, error) {
	docs, err := s.records.ListDocuments(ctx, userID)
	if err != nil {
		return nil, eris.Wrap(err, "document: list")
	}
	return docs, nil
}

// ExtractMetadata asks the LLM to describe the document and stores the
// result. Resolving first means an office document is converted here if it
// has not been already.
func (s *Service) ExtractMetadata(ctx context.Context, userID, fingerprint string) (*model.DocumentMetadata, error) {
	if s.llm == nil {
		return nil, eris.New("document: no llm configured")
	}
	res, err := s.resolver.Resolve(ctx, userID, fingerprint)
	if err != nil {
		return nil, eris.Wrap(err, "document: resolve")
	}
	url, err := s.blobs.PresignedGetURL(ctx, res.Location, s.cfg.PresignTTL)
	if err != nil {
		return nil, eris.Wrap(err, "document: presign")
	}
	raw, err := s.llm.Complete(ctx, llm.MetadataSystemPrompt, llm.MetadataMessage(res.Document.Filename), url)
	if err != nil {
		return nil, eris.Wrap(err, "document: metadata completion")
	}
	meta, err := contract.ParseMetadata(raw)
	if err != nil {
		return nil, eris.Wrap(err, "document: parse metadata")
	}
	if err := s.records.SetMetadata(ctx, userID, fingerprint, *meta); err != nil {
		return nil, eris.Wrap(err, "document: store metadata")
	}
	s.resolver.Invalidate(userID, fingerprint)
	return meta, nil
}

// Delete removes a document with its conversation records and stored
// objects. The record is kept when any object delete fails so the call can
// be retried.
func (s *Service) Delete(ctx context.Context, userID, fingerprint string) error {
	doc, err := s.records.GetDocument(ctx, userID, fingerprint)
	if err != nil {
		return eris.Wrapf(err, "document: get %s", fingerprint)
	}
	log := zap.L().With(zap.String("user_id", userID), zap.String("fingerprint", fingerprint))

	var (
		mu   sync.Mutex
		errs []error
	)
	collect := func(what string, err error) {
		if err == nil {
			return
		}
		log.Error("document delete step failed", zap.String("step", what), zap.Error(err))
		mu.Lock()
		errs = append(errs, eris.Wrap(err, what))
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		n, err := s.records.DeleteAllForDocument(ctx, userID, fingerprint)
		if err == nil {
			log.Debug("deleted conversation records", zap.Int("count", n))
		}
		collect("delete conversations", err)
		return nil
	})
	for _, key := range []string{doc.StorageKey, locator.ConvertedKey(doc.StorageKey)} {
		g.Go(func() error {
			err := s.blobs.DeleteObject(ctx, key)
			if errors.Is(err, blob.ErrNotFound) {
				err = nil
			}
			collect("delete object "+key, err)
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return eris.Wrapf(errors.Join(errs...), "document: delete %s", fingerprint)
	}
	if err := s.records.DeleteDocument(ctx, userID, fingerprint); err != nil {
		return eris.Wrapf(err, "document: delete record %s", fingerprint)
	}
	s.resolver.Invalidate(userID, fingerprint)
	log.Info("document deleted")
	return nil
}

// DeleteAllForUser deletes every document of the user and returns how many
// were removed. Failures are joined; successful deletes are not rolled back.
func (s *Service) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	docs, err := s.records.ListDocuments(ctx, userID)
	if err != nil {
		return 0, eris.Wrap(err, "document: list")
	}

	var (
		mu      sync.Mutex
		deleted int
		errs    []error
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.DeleteConcurrency)
	for _, d := range docs {
		g.Go(func() error {
			err := s.Delete(ctx, userID, d.Fingerprint)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			deleted++
			return nil
		})
	}
	_ = g.Wait()

	return deleted, errors.Join(errs...)
}

func detectContentType(filename, declared string, body []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(body))
	return mt
}
