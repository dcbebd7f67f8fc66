package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docsage/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, clock: NewClock()}
	return s, mock
}

var pgConversationCols = []string{
	"id", "user_id", "fingerprint", "sort_key", "created_at", "question", "answer", "confidence",
	"reasoning", "source", "verified", "total_pages", "data_quality_notes", "alternative_interpretations",
}

func TestPostgresStore_Append(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	answer := model.Answer{Question: "What is the policy number?", Answer: "POL-998", Confidence: 0.95, Reasoning: "page 1", Verified: true}

	mock.ExpectExec(`INSERT INTO conversations .* ON CONFLICT \(user_id, sort_key\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "u1", "abc123", pgxmock.AnyArg(), pgxmock.AnyArg(),
			"What is the policy number?", "POL-998", "0.95", "page 1", []byte(nil),
			true, (*int)(nil), (*string)(nil), []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec, err := s.Append(context.Background(), "u1", "abc123", answer)
	require.NoError(t, err)
	assert.Equal(t, "abc123", rec.Fingerprint)
	assert.Contains(t, rec.SortKey, "abc123#")
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, answer, rec.Answer)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Append_RetriesOnCollision(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO conversations`).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(`INSERT INTO conversations`).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec, err := s.Append(context.Background(), "u1", "abc123", model.Answer{Confidence: 0.5})
	require.NoError(t, err)
	assert.NotNil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Append_GivesUpAfterCollisions(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	for i := 0; i < appendAttempts; i++ {
		mock.ExpectExec(`INSERT INTO conversations`).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	}

	_, err := s.Append(context.Background(), "u1", "abc123", model.Answer{Confidence: 0.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collision")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Append_ExecError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO conversations`).WillReturnError(eris.New("connection refused"))

	_, err := s.Append(context.Background(), "u1", "abc123", model.Answer{Confidence: 0.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append conversation")
}

func TestPostgresStore_QueryByDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	created := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	pages := 4
	rows := mock.NewRows(pgConversationCols).
		AddRow("id-1", "u1", "abc123", model.SortKey("abc123", created), created,
			"What is the policy number?", "POL-998", "0.95", "page 1",
			[]byte(`{"location":"p1","quote":"POL-998","extraction_method":"explicit"}`),
			true, &pages, nil, []byte(`["POL-998-A"]`)).
		AddRow("id-2", "u1", "abc123", model.SortKey("abc123", created.Add(time.Minute)), created.Add(time.Minute),
			"Who is insured?", "Acme", "1", "page 2", nil, false, nil, nil, nil)

	mock.ExpectQuery(`SELECT .* FROM conversations WHERE user_id = \$1 AND sort_key >= \$2 AND sort_key < \$3 ORDER BY sort_key`).
		WithArgs("u1", "abc123#", "abc123$").
		WillReturnRows(rows)

	it, err := s.QueryByDocument(context.Background(), "u1", "abc123")
	require.NoError(t, err)
	recs, err := Collect(it)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, 0.95, recs[0].Confidence)
	require.NotNil(t, recs[0].Source)
	assert.Equal(t, model.ExtractionExplicit, recs[0].Source.ExtractionMethod)
	require.NotNil(t, recs[0].TotalPages)
	assert.Equal(t, 4, *recs[0].TotalPages)
	assert.Equal(t, []string{"POL-998-A"}, recs[0].AlternativeInterpretations)

	assert.Equal(t, 1.0, recs[1].Confidence)
	assert.Nil(t, recs[1].Source)
	assert.Nil(t, recs[1].TotalPages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QueryByDocument_BadConfidence(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	created := time.Now().UTC()
	rows := mock.NewRows(pgConversationCols).
		AddRow("id-1", "u1", "abc", "abc#x", created, "q", "a", "not-a-number", "r", nil, true, nil, nil, nil)
	mock.ExpectQuery(`FROM conversations`).WillReturnRows(rows)

	it, err := s.QueryByDocument(context.Background(), "u1", "abc")
	require.NoError(t, err)
	_, err = Collect(it)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence")
}

func TestPostgresStore_FindByQuestion_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM conversations WHERE .* AND question = \$4`).
		WithArgs("u1", "abc#", "abc$", "missing?").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.FindByQuestion(context.Background(), "u1", "abc", "missing?")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteOne(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM conversations WHERE user_id = \$1 AND sort_key = \$2`).
		WithArgs("u1", "abc#k1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM conversations WHERE user_id = \$1 AND sort_key = \$2`).
		WithArgs("u1", "abc#k2").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.DeleteOne(context.Background(), "u1", "abc#k1"))
	assert.ErrorIs(t, s.DeleteOne(context.Background(), "u1", "abc#k2"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteAllForDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`DELETE FROM conversations WHERE user_id = \$1 AND sort_key >= \$2 AND sort_key < \$3 RETURNING sort_key`).
		WithArgs("u1", "abc#", "abc$").
		WillReturnRows(mock.NewRows([]string{"sort_key"}).AddRow("abc#1").AddRow("abc#2"))

	n, err := s.DeleteAllForDocument(context.Background(), "u1", "abc")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteAllForUser(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`DELETE FROM conversations WHERE user_id = \$1 RETURNING sort_key`).
		WithArgs("u1").
		WillReturnRows(mock.NewRows([]string{"sort_key"}))

	n, err := s.DeleteAllForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	doc := &model.Document{UserID: "u1", Fingerprint: "abc", StorageKey: "u1/abc/policy.pdf", Filename: "policy.pdf"}

	mock.ExpectExec(`INSERT INTO documents .* ON CONFLICT \(user_id, fingerprint\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO documents`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := s.CreateDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, doc.UploadedAt.IsZero())

	created, err = s.CreateDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	uploaded := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pages := 2
	mock.ExpectQuery(`SELECT .* FROM documents WHERE user_id = \$1 AND fingerprint = \$2`).
		WithArgs("u1", "abc").
		WillReturnRows(mock.NewRows([]string{
			"user_id", "fingerprint", "storage_key", "filename", "content_type", "size", "title", "doc_type",
			"page_count", "created_date", "suggested_questions", "canonical_key", "uploaded_at",
		}).AddRow("u1", "abc", "u1/abc/deck.pptx", "deck.pptx", "", int64(2048), "Deck", "presentation",
			&pages, "2024-01-01", []byte(`["What is covered?"]`), "u1/abc/deck.pptx.converted", uploaded))

	doc, err := s.GetDocument(context.Background(), "u1", "abc")
	require.NoError(t, err)
	assert.Equal(t, "deck.pptx", doc.Filename)
	assert.Equal(t, "u1/abc/deck.pptx.converted", doc.CanonicalKey)
	assert.Equal(t, []string{"What is covered?"}, doc.Metadata.SuggestedQuestions)
	require.NotNil(t, doc.Metadata.PageCount)
	assert.Equal(t, 2, *doc.Metadata.PageCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDocument_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM documents`).WithArgs("u1", "nope").WillReturnError(pgx.ErrNoRows)

	_, err := s.GetDocument(context.Background(), "u1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_SetCanonicalKey_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE documents SET canonical_key = \$1`).
		WithArgs("k.converted", "u1", "abc").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.ErrorIs(t, s.SetCanonicalKey(context.Background(), "u1", "abc", "k.converted"), ErrNotFound)
}

func TestPostgresStore_DeleteDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM conversations`).WithArgs("u1", "abc#", "abc$").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`DELETE FROM documents`).WithArgs("u1", "abc").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteDocument(context.Background(), "u1", "abc"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteDocument_MissingRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM conversations`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM documents`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err := s.DeleteDocument(context.Background(), "u1", "abc")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	assert.NoError(t, s.Ping(context.Background()))
}

func TestMigrateURL(t *testing.T) {
	tests := map[string]struct {
		in      string
		want    string
		wantErr bool
	}{
		"postgres scheme":   {in: "postgres://u:p@h:5432/db?sslmode=disable", want: "pgx5://u:p@h:5432/db?sslmode=disable"},
		"postgresql scheme": {in: "postgresql://h/db", want: "pgx5://h/db"},
		"already pgx5":      {in: "pgx5://h/db", want: "pgx5://h/db"},
		"keyword dsn":       {in: "host=localhost dbname=x", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := migrateURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
