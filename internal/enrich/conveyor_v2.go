package enrich

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/llmc-dev/codeindex/internal/config"
	"github.com/llmc-dev/codeindex/internal/model"
	"github.com/llmc-dev/codeindex/internal/store"
	"github.com/llmc-dev/codeindex/internal/workqueue"
)

// StoreResolver maps a repo path (as recorded on a WorkItem) to the open
// Span Store for that repo. The conveyor belt is repo-agnostic; it only
// knows about the global Work Queue, so it asks the caller to resolve a
// repo-local store on demand.
type StoreResolver func(repoPath string) (*store.Store, error)

type writeRequest struct {
	item       model.WorkItem
	enrichment model.Enrichment
}

type failRequest struct {
	item   model.WorkItem
	reason string
}

// Conveyor runs the V2 concurrency variant: a bounded pool of workers pulls
// claimed items from the global Work Queue and feeds successes through a
// single serialized writer that batches StoreEnrichment calls, trading a
// little latency for far fewer individual transactions against the Span
// Store under concurrent load.
type Conveyor struct {
	Queue         *workqueue.Queue
	Cascade       *Cascade
	Resolver      StoreResolver
	WorkerID      string
	Concurrency   int
	BatchSize     int
	FlushInterval time.Duration
	AttemptsPerTier int
	MaxTier         int
}

// Run pulls up to `total` items in batches of Concurrency, processes them
// concurrently (bounded by a semaphore), and drains through the writer
// until the queue reports no more claimable work or ctx is cancelled.
func (c *Conveyor) Run(ctx context.Context, total int) (processed int, err error) {
	writes := make(chan writeRequest, c.Concurrency*2)
	fails := make(chan failRequest, c.Concurrency*2)

	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		c.runWriter(ctx, writes, fails)
	}()

	sem := semaphore.NewWeighted(int64(c.Concurrency))
	g, gctx := errgroup.WithContext(ctx)

	remaining := total
	for remaining > 0 {
		batchN := c.Concurrency
		if batchN > remaining {
			batchN = remaining
		}

		// PullWork claims an exact escalation_tier, so a single process
		// covering every tier (unlike a V3 pool worker bound to one tier)
		// must pull each tier in turn to see the whole queue.
		var items []model.WorkItem
		for tier := 0; tier <= c.MaxTier && len(items) < batchN; tier++ {
			tierItems, pullErr := c.Queue.PullWork(ctx, c.WorkerID, tier, batchN-len(items))
			if pullErr != nil {
				close(writes)
				close(fails)
				writerWG.Wait()
				return processed, pullErr
			}
			items = append(items, tierItems...)
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			item := item
			if err := sem.Acquire(gctx, 1); err != nil {
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				c.processOne(gctx, item, writes, fails)
				return nil
			})
		}

		remaining -= len(items)
		processed += len(items)
	}

	_ = g.Wait()
	close(writes)
	close(fails)
	writerWG.Wait()
	return processed, nil
}

func (c *Conveyor) processOne(ctx context.Context, item model.WorkItem, writes chan<- writeRequest, fails chan<- failRequest) {
	st, err := c.Resolver(item.RepoPath)
	if err != nil {
		fails <- failRequest{item: item, reason: "resolving store: " + err.Error()}
		return
	}

	span, ok, err := st.GetSpanByHash(item.SpanHash)
	if err != nil || !ok {
		fails <- failRequest{item: item, reason: "span not found"}
		return
	}

	result := c.Cascade.RunTier(ctx, item.EscalationTier, span)
	if !result.Ok {
		reason := "all backends failed"
		if len(result.Attempts) > 0 {
			reason = result.Attempts[len(result.Attempts)-1].Err.Error()
		}
		fails <- failRequest{item: item, reason: reason}
		return
	}

	writes <- writeRequest{item: item, enrichment: result.Enrichment}
}

// runWriter is the single serialized writer: it batches successful
// enrichments up to BatchSize or FlushInterval, whichever comes first, and
// completes/fails the owning work-queue items as it goes. Keeping writes on
// one goroutine avoids the Span Store seeing concurrent writers.
func (c *Conveyor) runWriter(ctx context.Context, writes <-chan writeRequest, fails <-chan failRequest) {
	flush := time.NewTicker(c.FlushInterval)
	defer flush.Stop()

	var batch []writeRequest
	flushBatch := func() {
		for _, w := range batch {
			st, err := c.Resolver(w.item.RepoPath)
			if err != nil {
				slog.Warn("enrich: conveyor writer could not resolve store", "repo", w.item.RepoPath, "error", err)
				continue
			}
			if err := st.StoreEnrichment(w.enrichment); err != nil {
				slog.Warn("enrich: conveyor writer persist failed", "span_hash", w.item.SpanHash, "error", err)
				_ = c.Queue.FailWork(ctx, w.item.ID, c.WorkerID, err.Error(), c.AttemptsPerTier, c.MaxTier)
				continue
			}
			if err := c.Queue.CompleteWork(ctx, w.item.ID, c.WorkerID); err != nil {
				slog.Warn("enrich: conveyor writer complete failed", "span_hash", w.item.SpanHash, "error", err)
			}
		}
		batch = batch[:0]
	}

	writesDone, failsDone := false, false
	handleFail := func(f failRequest) {
		if err := c.Queue.FailWork(ctx, f.item.ID, c.WorkerID, f.reason, c.AttemptsPerTier, c.MaxTier); err != nil {
			slog.Warn("enrich: conveyor writer FailWork failed", "span_hash", f.item.SpanHash, "error", err)
		}
	}

	for !writesDone || !failsDone {
		select {
		case w, ok := <-writes:
			if !ok {
				writesDone = true
				writes = nil
				flushBatch()
				continue
			}
			batch = append(batch, w)
			if len(batch) >= c.BatchSize {
				flushBatch()
			}
		case f, ok := <-fails:
			if !ok {
				failsDone = true
				fails = nil
				continue
			}
			handleFail(f)
		case <-flush.C:
			flushBatch()
		case <-ctx.Done():
			flushBatch()
			return
		}
	}
}

// NewConveyorFromConfig wires a Conveyor from the standard EnrichConfig knobs.
func NewConveyorFromConfig(q *workqueue.Queue, cascade *Cascade, resolver StoreResolver, workerID string, cfg config.EnrichConfig) *Conveyor {
	return &Conveyor{
		Queue:           q,
		Cascade:         cascade,
		Resolver:        resolver,
		WorkerID:        workerID,
		Concurrency:     cfg.ConveyorConcurrency,
		BatchSize:       cfg.WriterBatchSize,
		FlushInterval:   time.Duration(cfg.WriterFlushSeconds) * time.Second,
		AttemptsPerTier: cfg.AttemptsPerTier,
		MaxTier:         cfg.MaxTier,
	}
}
