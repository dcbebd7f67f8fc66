package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/docsage/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local CLI
// use where no Postgres server is available.
type SQLiteStore struct {
	db    *sql.DB
	clock *Clock
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; a single connection keeps them applied
	// and serialises writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, clock: defaultClock}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	user_id             TEXT NOT NULL,
	fingerprint         TEXT NOT NULL,
	storage_key         TEXT NOT NULL,
	filename            TEXT NOT NULL,
	content_type        TEXT NOT NULL DEFAULT '',
	size                INTEGER NOT NULL DEFAULT 0,
	title               TEXT NOT NULL DEFAULT '',
	doc_type            TEXT NOT NULL DEFAULT '',
	page_count          INTEGER,
	created_date        TEXT NOT NULL DEFAULT '',
	suggested_questions TEXT,
	canonical_key       TEXT NOT NULL DEFAULT '',
	uploaded_at         TEXT NOT NULL,
	PRIMARY KEY (user_id, fingerprint)
);

CREATE TABLE IF NOT EXISTS conversations (
	id                          TEXT NOT NULL UNIQUE,
	user_id                     TEXT NOT NULL,
	fingerprint                 TEXT NOT NULL,
	sort_key                    TEXT NOT NULL,
	created_at                  TEXT NOT NULL,
	question                    TEXT NOT NULL,
	answer                      TEXT NOT NULL,
	confidence                  TEXT NOT NULL,
	reasoning                   TEXT NOT NULL,
	source                      TEXT,
	verified                    INTEGER NOT NULL,
	total_pages                 INTEGER,
	data_quality_notes          TEXT,
	alternative_interpretations TEXT,
	PRIMARY KEY (user_id, sort_key)
);

CREATE INDEX IF NOT EXISTS idx_conversations_user_question ON conversations(user_id, fingerprint, question);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks that the database file is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) now() time.Time {
	if s.clock == nil {
		return defaultClock.Now()
	}
	return s.clock.Now()
}

// --- Documents ---

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *model.Document) (bool, error) {
	questions, err := encodeQuestions(doc.Metadata.SuggestedQuestions)
	if err != nil {
		return false, err
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, fingerprint) DO NOTHING`,
		doc.UserID, doc.Fingerprint, doc.StorageKey, doc.Filename, doc.ContentType, doc.Size,
		doc.Metadata.Title, doc.Metadata.Type, doc.Metadata.PageCount, doc.Metadata.CreatedDate,
		nullableText(questions), doc.CanonicalKey, doc.UploadedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert document %s", doc.Fingerprint)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, userID, fingerprint string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = ? AND fingerprint = ?`,
		userID, fingerprint,
	)
	doc, err := scanSQLiteDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "document %s", fingerprint)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", fingerprint)
	}
	return doc, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, userID string) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = ? ORDER BY uploaded_at DESC`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close() //nolint:errcheck

	var docs []model.Document
	for rows.Next() {
		doc, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, *doc)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: iterate documents")
}

func (s *SQLiteStore) SetCanonicalKey(ctx context.Context, userID, fingerprint, key string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET canonical_key = ? WHERE user_id = ? AND fingerprint = ?`,
		key, userID, fingerprint,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set canonical key %s", fingerprint)
	}
	return requireAffected(res, "document "+fingerprint)
}

func (s *SQLiteStore) SetMetadata(ctx context.Context, userID, fingerprint string, meta model.DocumentMetadata) error {
	questions, err := encodeQuestions(meta.SuggestedQuestions)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET title = ?, doc_type = ?, page_count = ?, created_date = ?, suggested_questions = ?
		WHERE user_id = ? AND fingerprint = ?`,
		meta.Title, meta.Type, meta.PageCount, meta.CreatedDate, nullableText(questions), userID, fingerprint,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set metadata %s", fingerprint)
	}
	return requireAffected(res, "document "+fingerprint)
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, userID, fingerprint string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE user_id = ? AND sort_key >= ? AND sort_key < ?`,
		userID, prefixLow(fingerprint), prefixHigh(fingerprint),
	); err != nil {
		return eris.Wrapf(err, "sqlite: delete conversations for %s", fingerprint)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE user_id = ? AND fingerprint = ?`,
		userID, fingerprint,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete document %s", fingerprint)
	}
	if err := requireAffected(res, "document "+fingerprint); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func scanSQLiteDocument(row interface{ Scan(...any) error }) (*model.Document, error) {
	var (
		doc       model.Document
		questions []byte
		uploaded  string
	)
	if err := row.Scan(
		&doc.UserID, &doc.Fingerprint, &doc.StorageKey, &doc.Filename, &doc.ContentType, &doc.Size,
		&doc.Metadata.Title, &doc.Metadata.Type, &doc.Metadata.PageCount, &doc.Metadata.CreatedDate,
		&questions, &doc.CanonicalKey, &uploaded,
	); err != nil {
		return nil, err
	}
	qs, err := decodeQuestions(questions)
	if err != nil {
		return nil, err
	}
	doc.Metadata.SuggestedQuestions = qs
	if doc.UploadedAt, err = time.Parse(time.RFC3339Nano, uploaded); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse uploaded_at")
	}
	return &doc, nil
}

// --- Conversation ledger ---

const sqliteConversationSelect = `SELECT ` + conversationColumns + ` FROM conversations`

func (s *SQLiteStore) Append(ctx context.Context, userID, fingerprint string, answer model.Answer) (*model.Conversation, error) {
	enc, err := encodeAnswer(answer)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < appendAttempts; attempt++ {
		rec := newConversation(userID, fingerprint, answer, s.now())
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO conversations (`+conversationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, sort_key) DO NOTHING`,
			rec.ID, rec.UserID, rec.Fingerprint, rec.SortKey, rec.CreatedAt.Format(model.TimestampLayout),
			rec.Question, rec.Answer.Answer, enc.confidence, rec.Reasoning, nullableText(enc.source),
			rec.Verified, rec.TotalPages, rec.DataQualityNotes, nullableText(enc.alternatives),
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: append conversation %s", fingerprint)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return rec, nil
		}
		zap.L().Warn("conversation sort key collision, retrying",
			zap.String("sort_key", rec.SortKey),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, eris.Errorf("sqlite: append conversation %s: sort key collision", fingerprint)
}

func (s *SQLiteStore) QueryByDocument(ctx context.Context, userID, fingerprint string) (RecordIterator, error) {
	rows, err := s.db.QueryContext(ctx,
		sqliteConversationSelect+` WHERE user_id = ? AND sort_key >= ? AND sort_key < ? ORDER BY sort_key`,
		userID, prefixLow(fingerprint), prefixHigh(fingerprint),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query conversations for %s", fingerprint)
	}
	return &sqlRecordIterator{rows: rows}, nil
}

func (s *SQLiteStore) QueryByUser(ctx context.Context, userID string) (RecordIterator, error) {
	rows, err := s.db.QueryContext(ctx,
		sqliteConversationSelect+` WHERE user_id = ? ORDER BY sort_key`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query conversations for user")
	}
	return &sqlRecordIterator{rows: rows}, nil
}

func (s *SQLiteStore) FindByQuestion(ctx context.Context, userID, fingerprint, question string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		sqliteConversationSelect+` WHERE user_id = ? AND sort_key >= ? AND sort_key < ? AND question = ?
		ORDER BY sort_key DESC LIMIT 1`,
		userID, prefixLow(fingerprint), prefixHigh(fingerprint), question,
	)
	rec, err := scanSQLiteConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "conversation for %s", fingerprint)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find conversation for %s", fingerprint)
	}
	return rec, nil
}

func (s *SQLiteStore) DeleteOne(ctx context.Context, userID, sortKey string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE user_id = ? AND sort_key = ?`,
		userID, sortKey,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete conversation %s", sortKey)
	}
	return requireAffected(res, "conversation "+sortKey)
}

func (s *SQLiteStore) DeleteAllForDocument(ctx context.Context, userID, fingerprint string) (int, error) {
	n, err := s.deleteReturning(ctx,
		`DELETE FROM conversations WHERE user_id = ? AND sort_key >= ? AND sort_key < ? RETURNING sort_key`,
		userID, prefixLow(fingerprint), prefixHigh(fingerprint),
	)
	return n, eris.Wrapf(err, "sqlite: delete conversations for %s", fingerprint)
}

func (s *SQLiteStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := s.deleteReturning(ctx,
		`DELETE FROM conversations WHERE user_id = ? RETURNING sort_key`,
		userID,
	)
	return n, eris.Wrap(err, "sqlite: delete conversations for user")
}

func (s *SQLiteStore) deleteReturning(ctx context.Context, query string, args ...any) (int, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close() //nolint:errcheck

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

func scanSQLiteConversation(row interface{ Scan(...any) error }) (*model.Conversation, error) {
	var (
		rec     model.Conversation
		enc     encodedAnswer
		created string
	)
	if err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Fingerprint, &rec.SortKey, &created,
		&rec.Question, &rec.Answer.Answer, &enc.confidence, &rec.Reasoning, &enc.source,
		&rec.Verified, &rec.TotalPages, &rec.DataQualityNotes, &enc.alternatives,
	); err != nil {
		return nil, err
	}
	var err error
	if rec.CreatedAt, err = time.Parse(model.TimestampLayout, created); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	if err := decodeAnswer(&rec, enc); err != nil {
		return nil, err
	}
	return &rec, nil
}

// sqlRecordIterator streams rows from an open database/sql query.
type sqlRecordIterator struct {
	rows *sql.Rows
	rec  model.Conversation
	err  error
}

func (it *sqlRecordIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	rec, err := scanSQLiteConversation(it.rows)
	if err != nil {
		it.err = eris.Wrap(err, "sqlite: scan conversation")
		return false
	}
	it.rec = *rec
	return true
}

func (it *sqlRecordIterator) Record() model.Conversation { return it.rec }

func (it *sqlRecordIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return eris.Wrap(it.rows.Err(), "sqlite: iterate conversations")
}

func (it *sqlRecordIterator) Close() error {
	return it.rows.Close()
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrap(ErrNotFound, what)
	}
	return nil
}

// nullableText stores nil JSON as SQL NULL rather than an empty string.
func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
