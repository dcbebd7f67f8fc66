package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
)

// GCSConfig configures a Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket string
	// CredentialsFile is an optional service account key. Empty uses
	// application default credentials.
	CredentialsFile string
	// SignerEmail and PrivateKeyFile sign URLs explicitly. When empty the
	// client signs with the credentials it was built from.
	SignerEmail    string
	PrivateKeyFile string
}

// GCSStore implements Store on a single GCS bucket.
type GCSStore struct {
	client     *storage.Client
	bucket     *storage.BucketHandle
	signer     string
	privateKey []byte
}

// NewGCS creates a GCS client for cfg.Bucket.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("blob: gcs bucket is required")
	}

	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "blob: create gcs client")
	}

	s := &GCSStore{client: client, bucket: client.Bucket(cfg.Bucket), signer: cfg.SignerEmail}
	if cfg.PrivateKeyFile != "" {
		key, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			client.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "blob: read signing key")
		}
		s.privateKey = key
	}
	return s, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, wrapGCS(err, "blob: open %s", key)
	}
	defer r.Close() //nolint:errcheck

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s", key)
	}
	return data, nil
}

// PutObject streams data through a single object writer. GCS only makes the
// object visible once Close succeeds, which gives atomic replacement.
func (s *GCSStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return eris.Wrapf(err, "blob: write %s", key)
	}
	if err := w.Close(); err != nil {
		return eris.Wrapf(err, "blob: commit %s", key)
	}
	return nil
}

func (s *GCSStore) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := s.bucket.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "blob: stat %s", key)
	}
	return true, nil
}

func (s *GCSStore) PresignedGetURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        time.Now().Add(ttl),
		GoogleAccessID: s.signer,
		PrivateKey:     s.privateKey,
	}
	url, err := s.bucket.SignedURL(key, opts)
	if err != nil {
		return "", eris.Wrapf(err, "blob: sign %s", key)
	}
	return url, nil
}

func (s *GCSStore) DeleteObject(ctx context.Context, key string) error {
	if err := s.bucket.Object(key).Delete(ctx); err != nil {
		return wrapGCS(err, "blob: delete %s", key)
	}
	return nil
}

func wrapGCS(err error, format string, args ...any) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return eris.Wrapf(ErrNotFound, format, args...)
	}
	return eris.Wrapf(err, format, args...)
}
