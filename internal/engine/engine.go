package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/tg2fibery/internal/telegram"
)

// Source yields pending updates. Implemented by *telegram.Client.
type Source interface {
	FetchUpdates(ctx context.Context, limit int) ([]telegram.Update, error)
}

// Workspace is the destination. Implemented by *fibery.Client.
type Workspace interface {
	FindEntityBySyncKey(ctx context.Context, key string) (string, bool, error)
	CreateEntity(ctx context.Context, newID, key string) (string, error)
	ResolveDocumentSecret(ctx context.Context, entityID string) (string, error)
	PushContent(ctx context.Context, secret, text string) error
}

// SyncKeyPrefix prefixes the update id in every sync key.
const SyncKeyPrefix = "tg:"

// SyncKey returns the idempotency key stored on the entity for u.
func SyncKey(u telegram.Update) string {
	return fmt.Sprintf("%s%d", SyncKeyPrefix, u.ID)
}

// Engine drives updates from a Source into a Workspace.
//
// An Engine holds no state between calls; Run and Sync may be called
// repeatedly. It is not safe for concurrent use.
type Engine struct {
	source    Source
	workspace Workspace
	ids       IDGenerator
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine. source may be nil if only Sync is used.
func New(source Source, workspace Workspace, ids IDGenerator, opts ...Option) *Engine {
	e := &Engine{
		source:    source,
		workspace: workspace,
		ids:       ids,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run fetches up to limit updates and syncs them.
//
// A fetch failure is fatal: it is returned and no update is touched.
// Update-scoped failures are never returned; they are in the Report.
func (e *Engine) Run(ctx context.Context, limit int) (*Report, error) {
	if e.source == nil {
		return nil, fmt.Errorf("engine: no source configured")
	}
	updates, err := e.source.FetchUpdates(ctx, limit)
	if err != nil {
		e.logger.Error("fetch failed", "limit", limit, "error", err)
		return nil, fmt.Errorf("fetch updates: %w", err)
	}
	e.logger.Info("fetched updates", "limit", limit, "count", len(updates))
	return e.Sync(ctx, updates), nil
}

// Sync drives each update to a terminal state, in order.
func (e *Engine) Sync(ctx context.Context, updates []telegram.Update) *Report {
	report := &Report{Outcomes: make([]Outcome, 0, len(updates))}
	for _, u := range updates {
		outcome := e.syncOne(ctx, u)
		e.log(outcome)
		report.Outcomes = append(report.Outcomes, outcome)
	}
	e.logger.Info("sync finished",
		"synced", report.Synced(),
		"skipped", report.Skipped(),
		"failed", report.Failed(),
	)
	return report
}

func (e *Engine) syncOne(ctx context.Context, u telegram.Update) Outcome {
	key := SyncKey(u)
	o := Outcome{UpdateID: u.ID, SyncKey: key, State: StateFetched, Reached: StateFetched}

	existing, found, err := e.workspace.FindEntityBySyncKey(ctx, key)
	if err != nil {
		return o.fail(StageLookup, err)
	}
	o.advance(StateChecked)
	if found {
		o.EntityID = existing
		o.advance(StateSkipped)
		return o
	}

	o.advance(StateCreating)
	id, err := e.workspace.CreateEntity(ctx, e.ids.Generate(), key)
	if err != nil {
		return o.fail(StageCreate, err)
	}
	o.EntityID = id
	o.advance(StateCreated)

	secret, err := e.workspace.ResolveDocumentSecret(ctx, id)
	if err != nil {
		return o.fail(StageResolveSecret, err)
	}
	o.advance(StateSecretResolved)

	if err := e.workspace.PushContent(ctx, secret, u.Content); err != nil {
		return o.fail(StagePush, err)
	}
	o.advance(StatePushed)
	return o
}

func (e *Engine) log(o Outcome) {
	switch o.State {
	case StatePushed:
		e.logger.Info("update synced", "update_id", o.UpdateID, "sync_key", o.SyncKey, "entity_id", o.EntityID)
	case StateSkipped:
		e.logger.Info("update already synced", "update_id", o.UpdateID, "sync_key", o.SyncKey, "entity_id", o.EntityID)
	case StateFailed:
		attrs := []any{
			"update_id", o.UpdateID,
			"sync_key", o.SyncKey,
			"stage", o.Err.Stage,
			"error", o.Err.Err,
		}
		if o.EntityID != "" {
			attrs = append(attrs, "orphan_entity_id", o.EntityID)
		}
		e.logger.Error("update failed", attrs...)
	}
}
