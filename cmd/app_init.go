package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docsage/internal/blob"
	"github.com/sells-group/docsage/internal/convert"
	"github.com/sells-group/docsage/internal/document"
	"github.com/sells-group/docsage/internal/llm"
	"github.com/sells-group/docsage/internal/locator"
	"github.com/sells-group/docsage/internal/qa"
	"github.com/sells-group/docsage/internal/similarity"
	"github.com/sells-group/docsage/internal/store"
	"github.com/sells-group/docsage/internal/tracing"
	anthropicpkg "github.com/sells-group/docsage/pkg/anthropic"
	"github.com/sells-group/docsage/pkg/mistral"
)

// appEnv holds every initialized component the serve/ask/upload commands
// need.
type appEnv struct {
	Store     store.Store
	Blobs     blob.Store
	Locator   *locator.Locator
	LLM       llm.Completer
	Documents *document.Service
	QA        *qa.Orchestrator

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initApp validates configuration for mode and wires the ask pipeline.
// Callers should defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &appEnv{}

	shutdown, err := tracing.Init(ctx, tracing.Config{
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		Headers:     cfg.Tracing.Headers,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, func() {
		if err := shutdown(context.Background()); err != nil {
			zap.L().Warn("tracing shutdown failed", zap.Error(err))
		}
	})

	st, err := initStore(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Store = st
	env.closers = append(env.closers, func() { _ = st.Close() })

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	blobs, err := initBlobs(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Blobs = blobs

	completer, err := initLLM()
	if err != nil {
		env.Close()
		return nil, err
	}
	env.LLM = completer

	env.Locator = locator.New(st, blobs, convert.NewLibreOffice(cfg.Convert.SofficePath, cfg.Convert.Timeout), locator.Options{
		CacheSize: cfg.Cache.Size,
		CacheTTL:  cfg.Cache.TTL,
	})

	env.Documents = document.NewService(st, blobs, env.Locator, completer, document.Config{
		PresignTTL:      cfg.Blob.PresignTTL,
		MetadataTimeout: cfg.LLM.Timeout,
	})

	env.QA = qa.New(qa.Deps{
		Locator:   env.Locator,
		Ledger:    st,
		Matcher:   similarity.NewIndex(cfg.QA.SimilarityThreshold),
		Presigner: blobs,
		LLM:       completer,
	}, qa.Config{
		Timeout:             cfg.LLM.Timeout,
		PresignTTL:          cfg.Blob.PresignTTL,
		MaxQuestionChars:    cfg.QA.MaxQuestionChars,
		MaxFingerprintChars: cfg.QA.MaxFingerprintChars,
		FailOnLedgerError:   cfg.QA.FailOnLedgerError,
	})

	zap.L().Info("docsage initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("blob", cfg.Blob.Backend),
		zap.String("llm", completer.Name()),
	)
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// memoryBlobs is shared so an upload and a later ask in the same process see
// the same objects.
var memoryBlobs *blob.MemoryStore

func initBlobs(ctx context.Context) (blob.Store, error) {
	switch cfg.Blob.Backend {
	case "memory":
		if memoryBlobs == nil {
			zap.L().Warn("using in-memory blob store, objects are lost on exit")
			memoryBlobs = blob.NewMemory(cfg.Blob.Bucket)
		}
		return memoryBlobs, nil
	case "gcs":
		return blob.NewGCS(ctx, blob.GCSConfig{
			Bucket:          cfg.Blob.Bucket,
			CredentialsFile: cfg.Blob.CredentialsFile,
			SignerEmail:     cfg.Blob.SignerEmail,
			PrivateKeyFile:  cfg.Blob.PrivateKeyFile,
		})
	default:
		return nil, eris.Errorf("unsupported blob backend: %s", cfg.Blob.Backend)
	}
}

func initLLM() (llm.Completer, error) {
	var provider llm.Completer
	switch cfg.LLM.Provider {
	case "mistral":
		opts := []mistral.Option{mistral.WithDefaultModel(cfg.Mistral.Model)}
		if cfg.Mistral.BaseURL != "" {
			opts = append(opts, mistral.WithBaseURL(cfg.Mistral.BaseURL))
		}
		provider = llm.NewMistral(mistral.NewClient(cfg.Mistral.Key, opts...), llm.MistralConfig{
			Model:              cfg.Mistral.Model,
			DocumentImageLimit: cfg.Mistral.DocumentImageLimit,
			DocumentPageLimit:  cfg.Mistral.DocumentPageLimit,
		})
	case "anthropic":
		provider = llm.NewAnthropic(anthropicpkg.NewClient(cfg.Anthropic.Key), llm.AnthropicConfig{
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
		})
	default:
		return nil, eris.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}

	return llm.NewGuard(provider, llm.GuardConfig{
		RatePerSec:       cfg.LLM.RatePerSec,
		Burst:            cfg.LLM.Burst,
		FailureThreshold: cfg.LLM.BreakerThreshold,
		Cooldown:         cfg.LLM.BreakerCooldown,
	}), nil
}
