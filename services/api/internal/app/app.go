package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"interviewprep/pkg/ai"
	"interviewprep/pkg/ledger"
	"interviewprep/pkg/notify"
	"interviewprep/pkg/queue"
	"interviewprep/pkg/storage"
	"interviewprep/pkg/store"
)

// Enqueuer hands a job to the delivery queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, d queue.Delivery) (queue.Delivery, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store

	Generator         ai.TextGenerator
	Retry             ai.RetryPolicy
	GenerationTimeout time.Duration

	Queue    Enqueuer
	Archive  *storage.RawOutputArchive
	Notifier notify.Notifier

	StaleJobAfter  time.Duration
	QueuedJobAfter time.Duration
}

// App wires the job dispatcher, the generation worker and the report ledger
// over one store.
type App struct {
	store     store.Store
	ledger    *ledger.Ledger
	generator ai.TextGenerator
	queue     Enqueuer
	archive   *storage.RawOutputArchive
	notifier  notify.Notifier

	generationTimeout time.Duration
	staleJobAfter     time.Duration
	queuedJobAfter    time.Duration

	now func() time.Time
}

// New constructs the application. A Store may be injected; otherwise a
// Postgres store is opened from DatabaseURL.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Generator == nil {
		return nil, errors.New("text generator required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("job queue required")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	timeout := cfg.GenerationTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	stale := cfg.StaleJobAfter
	if stale <= 0 {
		stale = 10 * time.Minute
	}
	queued := cfg.QueuedJobAfter
	if queued <= 0 {
		queued = 30 * time.Minute
	}
	return &App{
		store:             dataStore,
		ledger:            ledger.New(dataStore),
		generator:         ai.NewRetryingGenerator(cfg.Generator, cfg.Retry),
		queue:             cfg.Queue,
		archive:           cfg.Archive,
		notifier:          notifier,
		generationTimeout: timeout,
		staleJobAfter:     stale,
		queuedJobAfter:    queued,
		now:               func() time.Time { return time.Now().UTC() },
	}, nil
}

// Ledger exposes the token ledger for balance reads.
func (a *App) Ledger() *ledger.Ledger {
	return a.ledger
}
