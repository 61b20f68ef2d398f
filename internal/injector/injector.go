// Package injector delivers text payloads into bee panes with bounded
// concurrency, recording every attempt in the durable injection log.
//
// Panes are logically single-writer: concurrent callers targeting the same
// pane serialize on a per-pane mutex while callers targeting different panes
// run in parallel, bounded overall by a semaphore. The injector never
// retries; retry is the caller's policy.
package injector

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/nyasuto/hive/internal/bee"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
	"github.com/nyasuto/hive/internal/common/logger"
	"github.com/nyasuto/hive/internal/store"
	"github.com/nyasuto/hive/internal/tmux"
)

// Options qualify one injection.
type Options struct {
	Type     string
	Sender   string
	Metadata map[string]any
	DryRun   bool
}

// Injector owns pane delivery for the whole process.
type Injector struct {
	client *tmux.Client
	panes  *bee.Panes
	store  *store.Store
	sem    *semaphore.Weighted
	logger *logger.Logger

	mu      sync.Mutex
	paneMus map[string]*sync.Mutex
}

// New creates an injector bounded to concurrency simultaneous sends.
func New(client *tmux.Client, panes *bee.Panes, st *store.Store, concurrency int, log *logger.Logger) *Injector {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Injector{
		client:  client,
		panes:   panes,
		store:   st,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		logger:  log.WithFields(zap.String("component", "injector")),
		paneMus: make(map[string]*sync.Mutex),
	}
}

// Send delivers payload into the pane bound to target and returns the
// injection log ID. The payload is submitted as one logical line; the log
// entry records the outcome the multiplexer reported, not intent.
func (i *Injector) Send(ctx context.Context, target bee.Name, payload string, opts Options) (int64, error) {
	pane, err := i.panes.Resolve(target)
	if err != nil {
		return 0, err
	}

	entry := &store.InjectionLogEntry{
		Session:  i.client.Session(),
		Pane:     pane,
		Payload:  payload,
		Type:     opts.Type,
		Sender:   opts.Sender,
		Metadata: opts.Metadata,
		DryRun:   opts.DryRun,
	}

	if opts.DryRun {
		entry.Outcome = store.OutcomeDryRun
		if err := i.store.AppendInjection(ctx, entry); err != nil {
			return 0, err
		}
		return entry.ID, nil
	}

	if err := i.sem.Acquire(ctx, 1); err != nil {
		return 0, apperrors.Cancelled(err)
	}
	defer i.sem.Release(1)

	mu := i.paneMutex(pane)
	mu.Lock()
	sendErr := i.client.SendText(ctx, pane, payload)
	mu.Unlock()

	entry.Outcome = tmux.Outcome(sendErr)
	if logErr := i.store.AppendInjection(ctx, entry); logErr != nil {
		// The delivery outcome wins; a log failure on top is reported only
		// when the send itself succeeded.
		if sendErr == nil {
			return 0, logErr
		}
		i.logger.Warn("failed to log injection outcome", zap.Error(logErr))
	}

	if sendErr != nil {
		i.logger.Warn("injection failed",
			zap.String("bee", target.String()),
			zap.String("pane", pane),
			zap.String("outcome", entry.Outcome),
			zap.Error(sendErr))
		return 0, sendErr
	}

	i.logger.Debug("payload injected",
		zap.String("bee", target.String()),
		zap.String("pane", pane),
		zap.Int("bytes", len(payload)))
	return entry.ID, nil
}

func (i *Injector) paneMutex(pane string) *sync.Mutex {
	i.mu.Lock()
	defer i.mu.Unlock()
	mu, ok := i.paneMus[pane]
	if !ok {
		mu = &sync.Mutex{}
		i.paneMus[pane] = mu
	}
	return mu
}
