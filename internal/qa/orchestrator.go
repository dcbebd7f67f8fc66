// Package qa answers questions about a user's document: it resolves the
// document, replays a prior answer to a near-duplicate question when one
// exists, and otherwise asks the LLM, validates the reply and records it.
package qa

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/docsage/internal/contract"
	"github.com/sells-group/docsage/internal/llm"
	"github.com/sells-group/docsage/internal/locator"
	"github.com/sells-group/docsage/internal/model"
	"github.com/sells-group/docsage/internal/similarity"
	"github.com/sells-group/docsage/internal/store"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultTimeout             = 180 * time.Second
	DefaultPresignTTL          = time.Hour
	DefaultMaxQuestionChars    = 2000
	DefaultMaxFingerprintChars = 256

	maxLoggedResponse = 2000
)

var hexFingerprint = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// Locator resolves a document to the blob key the LLM should read.
type Locator interface {
	Resolve(ctx context.Context, userID, fingerprint string) (*locator.Resolution, error)
}

// Ledger is the part of the conversation store the pipeline uses.
type Ledger interface {
	QueryByDocument(ctx context.Context, userID, fingerprint string) (store.RecordIterator, error)
	Append(ctx context.Context, userID, fingerprint string, answer model.Answer) (*model.Conversation, error)
}

// Matcher finds a prior question close enough to replay.
type Matcher interface {
	FindNearDuplicate(candidate string, priors []string) (similarity.Match, bool, error)
}

// Presigner issues time-limited read URLs for blob keys.
type Presigner interface {
	PresignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Config tunes the orchestrator.
type Config struct {
	// Timeout bounds the LLM call.
	Timeout time.Duration
	// PresignTTL is the lifetime of the document URL handed to the LLM.
	PresignTTL          time.Duration
	MaxQuestionChars    int
	MaxFingerprintChars int
	// FailOnLedgerError fails the request with LedgerWriteFailed when the
	// answer cannot be recorded. By default the answer is returned anyway.
	FailOnLedgerError bool
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Locator   Locator
	Ledger    Ledger
	Matcher   Matcher
	Presigner Presigner
	LLM       llm.Completer
}

// Result is a successful ask.
type Result struct {
	Answer model.Answer
	// Record is the ledger entry holding Answer. It is nil when the answer
	// could not be recorded.
	Record *model.Conversation
	// Cached is true when Answer was replayed from a prior question.
	Cached bool
	// Score is the similarity of the replayed question.
	Score float64
}

// Orchestrator runs the ask pipeline. It holds no per-request state and is
// safe for concurrent use.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	tracer trace.Tracer
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = DefaultPresignTTL
	}
	if cfg.MaxQuestionChars <= 0 {
		cfg.MaxQuestionChars = DefaultMaxQuestionChars
	}
	if cfg.MaxFingerprintChars <= 0 {
		cfg.MaxFingerprintChars = DefaultMaxFingerprintChars
	}
	return &Orchestrator{deps: deps, cfg: cfg, tracer: otel.Tracer("github.com/sells-group/docsage/internal/qa")}
}

// Ask answers question about the caller's document. userID is an already
// verified principal. Failures are *Error values carrying a Kind.
func (o *Orchestrator) Ask(ctx context.Context, userID, fingerprint, question string) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "qa.Ask", trace.WithAttributes(
		attribute.String("docsage.fingerprint", fingerprint),
	))
	defer span.End()

	log := zap.L().With(zap.String("user_id", userID), zap.String("fingerprint", fingerprint))

	res, err := o.ask(ctx, log, userID, fingerprint, question)
	if err != nil {
		kind := KindOf(err)
		asksTotal.WithLabelValues(string(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		log.Info("ask failed", zap.String("kind", string(kind)), zap.Error(err))
		return nil, err
	}

	outcome := "answered"
	if res.Cached {
		outcome = "replayed"
	}
	asksTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.Bool("docsage.cached", res.Cached))
	return res, nil
}

func (o *Orchestrator) ask(ctx context.Context, log *zap.Logger, userID, fingerprint, question string) (*Result, error) {
	question = strings.TrimSpace(question)

	// ValidatingInput
	if err := o.validateInput(userID, fingerprint, question); err != nil {
		return nil, fail(KindInvalidInput, StageValidatingInput, err)
	}

	// Resolving
	var res *locator.Resolution
	err := o.stage(ctx, StageResolving, func(ctx context.Context) error {
		var err error
		res, err = o.deps.Locator.Resolve(ctx, userID, fingerprint)
		return err
	})
	switch {
	case errors.Is(err, locator.ErrNotFound):
		return nil, fail(KindDocumentNotFound, StageResolving, err)
	case errors.Is(err, locator.ErrConversionFailed):
		return nil, fail(KindDocumentUnprocessable, StageResolving, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, fail(KindUpstreamUnavailable, StageResolving, err)
	case err != nil:
		return nil, fail(KindInternal, StageResolving, err)
	}

	// CheckingCache
	var hit *Result
	_ = o.stage(ctx, StageCheckingCache, func(ctx context.Context) error {
		hit = o.checkCache(ctx, log, userID, fingerprint, question)
		return nil
	})
	if hit != nil {
		log.Info("replayed prior answer",
			zap.String("sort_key", hit.Record.SortKey),
			zap.Float64("score", hit.Score),
		)
		return hit, nil
	}

	// Invoking
	var raw string
	err = o.stage(ctx, StageInvoking, func(ctx context.Context) error {
		var err error
		raw, err = o.invoke(ctx, res, question)
		return err
	})
	if err != nil {
		return nil, fail(KindUpstreamUnavailable, StageInvoking, err)
	}

	// Validating
	var answer *model.Answer
	err = o.stage(ctx, StageValidating, func(context.Context) error {
		var err error
		answer, err = contract.Parse(raw)
		return err
	})
	if err != nil {
		log.Warn("model response rejected",
			zap.Error(err),
			zap.String("raw_response", truncate(raw, maxLoggedResponse)),
		)
		return nil, fail(KindInvalidModelResponse, StageValidating, err)
	}
	// The ledger keys replays on the caller's wording, not the model's echo.
	answer.Question = question

	// Persisting
	var rec *model.Conversation
	err = o.stage(ctx, StagePersisting, func(ctx context.Context) error {
		var err error
		rec, err = o.deps.Ledger.Append(ctx, userID, fingerprint, *answer)
		return err
	})
	if err != nil {
		ledgerWriteFailures.Inc()
		log.Error("failed to record answer", zap.Error(err))
		if o.cfg.FailOnLedgerError {
			return nil, fail(KindLedgerWriteFailed, StagePersisting, err)
		}
		return &Result{Answer: *answer}, nil
	}

	return &Result{Answer: rec.Answer, Record: rec}, nil
}

func (o *Orchestrator) validateInput(userID, fingerprint, question string) error {
	switch {
	case userID == "":
		return eris.New("caller identity is required")
	case fingerprint == "":
		return eris.New("fingerprint is required")
	case len(fingerprint) > o.cfg.MaxFingerprintChars:
		return eris.Errorf("fingerprint exceeds %d characters", o.cfg.MaxFingerprintChars)
	case !hexFingerprint.MatchString(fingerprint):
		return eris.New("fingerprint must be a hex digest")
	case question == "":
		return eris.New("question is required")
	case !utf8.ValidString(question):
		return eris.New("question is not valid UTF-8")
	case utf8.RuneCountInString(question) > o.cfg.MaxQuestionChars:
		return eris.Errorf("question exceeds %d characters", o.cfg.MaxQuestionChars)
	}
	return nil
}

// checkCache returns a replay of the closest prior answer, or nil. Ledger and
// similarity failures degrade to a cache miss.
func (o *Orchestrator) checkCache(ctx context.Context, log *zap.Logger, userID, fingerprint, question string) *Result {
	it, err := o.deps.Ledger.QueryByDocument(ctx, userID, fingerprint)
	if err != nil {
		log.Warn("prior question lookup failed, skipping cache", zap.Error(err))
		return nil
	}
	priors, err := store.Collect(it)
	if err != nil {
		log.Warn("prior question lookup failed, skipping cache", zap.Error(err))
		return nil
	}
	if len(priors) == 0 {
		return nil
	}

	questions := make([]string, len(priors))
	for i, p := range priors {
		questions[i] = p.Question
	}
	match, ok, err := o.deps.Matcher.FindNearDuplicate(question, questions)
	if err != nil {
		log.Warn("similarity search failed, calling llm", zap.Error(err))
		return nil
	}
	if !ok || match.Index < 0 || match.Index >= len(priors) {
		return nil
	}

	rec := priors[match.Index]
	return &Result{Answer: rec.Answer, Record: &rec, Cached: true, Score: match.Score}
}

type completion struct {
	text string
	err  error
}

// invoke presigns the document and calls the LLM, giving up after the
// configured timeout or when ctx ends even if the call has not returned.
func (o *Orchestrator) invoke(ctx context.Context, res *locator.Resolution, question string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	url, err := o.deps.Presigner.PresignedGetURL(ctx, res.Location, o.cfg.PresignTTL)
	if err != nil {
		return "", eris.Wrap(err, "presign document")
	}

	done := make(chan completion, 1)
	go func() {
		text, err := o.deps.LLM.Complete(ctx, llm.QASystemPrompt, llm.QuestionMessage(question), url)
		done <- completion{text: text, err: err}
	}()

	select {
	case c := <-done:
		if c.err != nil {
			return "", eris.Wrapf(c.err, "%s completion", o.deps.LLM.Name())
		}
		return c.text, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", eris.Wrapf(ctx.Err(), "%s completion timed out after %s", o.deps.LLM.Name(), o.cfg.Timeout)
		}
		return "", eris.Wrapf(ctx.Err(), "%s completion abandoned", o.deps.LLM.Name())
	}
}

// stage runs fn as one traced and timed pipeline stage.
func (o *Orchestrator) stage(ctx context.Context, s Stage, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "qa."+s.String())
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	stageDuration.WithLabelValues(s.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}
