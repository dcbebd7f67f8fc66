package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docsage/internal/db"
	"github.com/sells-group/docsage/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool       db.Pool
	closeFn    func()
	connString string
	clock      *Clock
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, connString: connString, clock: defaultClock}, nil
}

func (s *PostgresStore) now() time.Time {
	if s.clock == nil {
		return defaultClock.Now()
	}
	return s.clock.Now()
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate(_ context.Context) error {
	return runMigrations(s.connString)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Documents ---

const documentColumns = `user_id, fingerprint, storage_key, filename, content_type, size, title, doc_type, page_count, created_date, suggested_questions, canonical_key, uploaded_at`

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *model.Document) (bool, error) {
	questions, err := encodeQuestions(doc.Metadata.SuggestedQuestions)
	if err != nil {
		return false, err
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, fingerprint) DO NOTHING`,
		doc.UserID, doc.Fingerprint, doc.StorageKey, doc.Filename, doc.ContentType, doc.Size,
		doc.Metadata.Title, doc.Metadata.Type, doc.Metadata.PageCount, doc.Metadata.CreatedDate,
		questions, doc.CanonicalKey, doc.UploadedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert document %s", doc.Fingerprint)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, userID, fingerprint string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = $1 AND fingerprint = $2`,
		userID, fingerprint,
	)
	doc, err := scanPGDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "document %s", fingerprint)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %s", fingerprint)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, userID string) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = $1 ORDER BY uploaded_at DESC`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanPGDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, *doc)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: iterate documents")
}

func (s *PostgresStore) SetCanonicalKey(ctx context.Context, userID, fingerprint, key string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET canonical_key = $1 WHERE user_id = $2 AND fingerprint = $3`,
		key, userID, fingerprint,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set canonical key %s", fingerprint)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "document %s", fingerprint)
	}
	return nil
}

func (s *PostgresStore) SetMetadata(ctx context.Context, userID, fingerprint string, meta model.DocumentMetadata) error {
	questions, err := encodeQuestions(meta.SuggestedQuestions)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET title = $1, doc_type = $2, page_count = $3, created_date = $4, suggested_questions = $5
		WHERE user_id = $6 AND fingerprint = $7`,
		meta.Title, meta.Type, meta.PageCount, meta.CreatedDate, questions, userID, fingerprint,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set metadata %s", fingerprint)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "document %s", fingerprint)
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, userID, fingerprint string) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM conversations WHERE user_id = $1 AND sort_key >= $2 AND sort_key < $3`,
			userID, prefixLow(fingerprint), prefixHigh(fingerprint),
		); err != nil {
			return eris.Wrapf(err, "postgres: delete conversations for %s", fingerprint)
		}
		tag, err := tx.Exec(ctx,
			`DELETE FROM documents WHERE user_id = $1 AND fingerprint = $2`,
			userID, fingerprint,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: delete document %s", fingerprint)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrNotFound, "document %s", fingerprint)
		}
		return nil
	})
}

func scanPGDocument(row pgx.Row) (*model.Document, error) {
	var (
		doc       model.Document
		questions []byte
	)
	if err := row.Scan(
		&doc.UserID, &doc.Fingerprint, &doc.StorageKey, &doc.Filename, &doc.ContentType, &doc.Size,
		&doc.Metadata.Title, &doc.Metadata.Type, &doc.Metadata.PageCount, &doc.Metadata.CreatedDate,
		&questions, &doc.CanonicalKey, &doc.UploadedAt,
	); err != nil {
		return nil, err
	}
	qs, err := decodeQuestions(questions)
	if err != nil {
		return nil, err
	}
	doc.Metadata.SuggestedQuestions = qs
	doc.UploadedAt = doc.UploadedAt.UTC()
	return &doc, nil
}

// --- Conversation ledger ---

// pgConversationSelect reads confidence as text to keep the NUMERIC value exact.
const pgConversationSelect = `SELECT id, user_id, fingerprint, sort_key, created_at, question, answer, confidence::text, reasoning, source, verified, total_pages, data_quality_notes, alternative_interpretations FROM conversations`

func (s *PostgresStore) Append(ctx context.Context, userID, fingerprint string, answer model.Answer) (*model.Conversation, error) {
	enc, err := encodeAnswer(answer)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < appendAttempts; attempt++ {
		rec := newConversation(userID, fingerprint, answer, s.now())
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO conversations (`+conversationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (user_id, sort_key) DO NOTHING`,
			rec.ID, rec.UserID, rec.Fingerprint, rec.SortKey, rec.CreatedAt,
			rec.Question, rec.Answer.Answer, enc.confidence, rec.Reasoning, enc.source,
			rec.Verified, rec.TotalPages, rec.DataQualityNotes, enc.alternatives,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: append conversation %s", fingerprint)
		}
		if tag.RowsAffected() == 1 {
			return rec, nil
		}
		zap.L().Warn("conversation sort key collision, retrying",
			zap.String("sort_key", rec.SortKey),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, eris.Errorf("postgres: append conversation %s: sort key collision", fingerprint)
}

func (s *PostgresStore) QueryByDocument(ctx context.Context, userID, fingerprint string) (RecordIterator, error) {
	rows, err := s.pool.Query(ctx,
		pgConversationSelect+` WHERE user_id = $1 AND sort_key >= $2 AND sort_key < $3 ORDER BY sort_key`,
		userID, prefixLow(fingerprint), prefixHigh(fingerprint),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query conversations for %s", fingerprint)
	}
	return &pgRecordIterator{rows: rows}, nil
}

func (s *PostgresStore) QueryByUser(ctx context.Context, userID string) (RecordIterator, error) {
	rows, err := s.pool.Query(ctx,
		pgConversationSelect+` WHERE user_id = $1 ORDER BY sort_key`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query conversations for user")
	}
	return &pgRecordIterator{rows: rows}, nil
}

func (s *PostgresStore) FindByQuestion(ctx context.Context, userID, fingerprint, question string) (*model.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		pgConversationSelect+` WHERE user_id = $1 AND sort_key >= $2 AND sort_key < $3 AND question = $4
		ORDER BY sort_key DESC LIMIT 1`,
		userID, prefixLow(fingerprint), prefixHigh(fingerprint), question,
	)
	rec, err := scanPGConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "conversation for %s", fingerprint)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find conversation for %s", fingerprint)
	}
	return rec, nil
}

func (s *PostgresStore) DeleteOne(ctx context.Context, userID, sortKey string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversations WHERE user_id = $1 AND sort_key = $2`,
		userID, sortKey,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete conversation %s", sortKey)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "conversation %s", sortKey)
	}
	return nil
}

func (s *PostgresStore) DeleteAllForDocument(ctx context.Context, userID, fingerprint string) (int, error) {
	n, err := s.deleteReturning(ctx,
		`DELETE FROM conversations WHERE user_id = $1 AND sort_key >= $2 AND sort_key < $3 RETURNING sort_key`,
		userID, prefixLow(fingerprint), prefixHigh(fingerprint),
	)
	return n, eris.Wrapf(err, "postgres: delete conversations for %s", fingerprint)
}

func (s *PostgresStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := s.deleteReturning(ctx,
		`DELETE FROM conversations WHERE user_id = $1 RETURNING sort_key`,
		userID,
	)
	return n, eris.Wrap(err, "postgres: delete conversations for user")
}

// deleteReturning runs a single DELETE ... RETURNING statement, so each call
// is atomic, and logs every removed sort key.
func (s *PostgresStore) deleteReturning(ctx context.Context, sql string, args ...any) (int, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return n, err
		}
		n++
		zap.L().Debug("conversation deleted", zap.String("sort_key", key))
	}
	return n, rows.Err()
}

func scanPGConversation(row pgx.Row) (*model.Conversation, error) {
	var (
		rec model.Conversation
		enc encodedAnswer
	)
	if err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Fingerprint, &rec.SortKey, &rec.CreatedAt,
		&rec.Question, &rec.Answer.Answer, &enc.confidence, &rec.Reasoning, &enc.source,
		&rec.Verified, &rec.TotalPages, &rec.DataQualityNotes, &enc.alternatives,
	); err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if err := decodeAnswer(&rec, enc); err != nil {
		return nil, err
	}
	return &rec, nil
}

// pgRecordIterator streams rows from an open pgx query.
type pgRecordIterator struct {
	rows pgx.Rows
	rec  model.Conversation
	err  error
}

func (it *pgRecordIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	rec, err := scanPGConversation(it.rows)
	if err != nil {
		it.err = eris.Wrap(err, "postgres: scan conversation")
		return false
	}
	it.rec = *rec
	return true
}

func (it *pgRecordIterator) Record() model.Conversation { return it.rec }

func (it *pgRecordIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return eris.Wrap(it.rows.Err(), "postgres: iterate conversations")
}

func (it *pgRecordIterator) Close() error {
	it.rows.Close()
	return nil
}

func newConversation(userID, fingerprint string, answer model.Answer, ts time.Time) *model.Conversation {
	return &model.Conversation{
		ID:          uuid.NewString(),
		UserID:      userID,
		Fingerprint: fingerprint,
		SortKey:     model.SortKey(fingerprint, ts),
		CreatedAt:   ts,
		Answer:      answer,
	}
}

// prefixLow and prefixHigh bound the sort keys of one document: every key
// "{fp}#..." satisfies low <= key < high because '$' follows '#'.
func prefixLow(fingerprint string) string  { return model.SortKeyPrefix(fingerprint) }
func prefixHigh(fingerprint string) string { return fingerprint + "$" }
