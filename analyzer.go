package main

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ProgressFunc receives (processed, total) at least once per checkpoint
// interval.
type ProgressFunc func(current, total int)

// JobOptions controls one analysis run.
type JobOptions struct {
	// JobID addresses an existing checkpoint on resume, or pins the id
	// of a fresh job. Empty means mint a new id (fresh) or discover the
	// latest checkpoint (resume).
	JobID  string
	Resume bool

	Progress ProgressFunc

	// CancelRequested is polled before each unit of work. Must be cheap
	// and safe to call frequently. Cancellation is cooperative: an
	// in-flight provider call is never interrupted.
	CancelRequested func() bool
}

// Analyzer drives the batch classification job: it iterates the comment
// set in units of the configured batch size, calls the classifier,
// checkpoints after every unit, reports progress, and honors
// cancellation. A unit that fails with a non-systemic provider error is
// absorbed with fallback classifications; a systemic error halts the
// job with the checkpoint preserved so the operator can resume.
type Analyzer struct {
	cfg        Config
	classifier BatchClassifier
	store      *CheckpointStore
}

func NewAnalyzer(cfg Config, classifier BatchClassifier, store *CheckpointStore) *Analyzer {
	if cfg.LLMBatchSize < 1 {
		cfg.LLMBatchSize = 1
	}
	if cfg.LLMConcurrency < 1 {
		cfg.LLMConcurrency = 1
	}
	return &Analyzer{cfg: cfg, classifier: classifier, store: store}
}

func (a *Analyzer) Run(ctx context.Context, comments []CommentRecord, opts JobOptions) (JobResult, error) {
	if len(comments) == 0 {
		return JobResult{JobID: MintJobID(time.Now()), State: JobCompleted}, nil
	}

	jobID := opts.JobID
	done := make(map[int]ClassifiedRecord, len(comments))
	var usage UsageCounters

	if opts.Resume {
		if jobID == "" {
			discovered, ok := a.store.DiscoverLatest()
			if !ok {
				log.Printf("resume requested but no checkpoint found, starting fresh")
			}
			jobID = discovered
		}
		if jobID != "" {
			cp, err := a.store.Load(jobID)
			if err != nil {
				return JobResult{JobID: jobID, State: JobFailed}, err
			}
			if cp != nil {
				for _, rec := range cp.Records {
					done[rec.Index] = rec
				}
				usage = cp.Usage
				log.Printf("job resumed id=%s classified=%d usage_tokens=%d", jobID, len(done), usage.TotalTokens)
			} else {
				log.Printf("no usable checkpoint for job=%s, starting fresh", jobID)
			}
		}
	}
	if jobID == "" {
		jobID = MintJobID(time.Now())
	}

	// A resume point exists even before the first record is classified.
	if err := a.store.Save(jobID, snapshotRecords(done), usage); err != nil {
		return JobResult{JobID: jobID, State: JobFailed}, err
	}

	var pending []CommentRecord
	for _, rec := range comments {
		if _, ok := done[rec.Index]; !ok {
			pending = append(pending, rec)
		}
	}

	total := len(comments)
	cancelled := func() bool {
		if opts.CancelRequested != nil && opts.CancelRequested() {
			return true
		}
		return ctx.Err() != nil
	}

	var (
		mu     sync.Mutex
		jobErr error
		stop   atomic.Bool
		wg     sync.WaitGroup
	)
	sem := make(chan struct{}, a.cfg.LLMConcurrency)

	for start := 0; start < len(pending); start += a.cfg.LLMBatchSize {
		// Acquire the slot first so the poll sees flags raised while the
		// previous unit was in flight.
		sem <- struct{}{}
		if stop.Load() || cancelled() {
			<-sem
			break
		}
		end := start + a.cfg.LLMBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		wg.Add(1)
		go func(batch []CommentRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			if stop.Load() {
				return
			}

			results, batchUsage, err := a.classifier.ClassifyBatch(ctx, batch)
			if err != nil {
				if ctx.Err() != nil {
					// The call died with the context; this is a
					// cancellation, not a classification outcome.
					stop.Store(true)
					return
				}
				var provErr *ProviderError
				if errors.As(err, &provErr) && provErr.Systemic() {
					log.Printf("job halt id=%s systemic provider error: %v", jobID, err)
					mu.Lock()
					if jobErr == nil {
						jobErr = err
					}
					mu.Unlock()
					stop.Store(true)
					return
				}
				log.Printf("job id=%s unit of %d comments failed, using fallback category: %v", jobID, len(batch), err)
				results = make(map[int]Classification, len(batch))
				batchUsage = UsageCounters{}
			}

			mu.Lock()
			for _, rec := range batch {
				cls, ok := results[rec.Index]
				if !ok {
					cls = Classification{
						Attribute: FallbackAttribute,
						Sentiment: FallbackSentiment,
						Fallback:  true,
						Reason:    "classification unavailable",
					}
				}
				done[rec.Index] = ClassifiedRecord{
					CommentRecord: rec,
					Attribute:     cls.Attribute,
					Sentiment:     cls.Sentiment,
					Fallback:      cls.Fallback,
				}
			}
			usage.Add(batchUsage)
			processed := len(done)
			if err := a.store.Save(jobID, snapshotRecords(done), usage); err != nil {
				log.Printf("checkpoint save error job=%s: %v", jobID, err)
			}
			mu.Unlock()

			if opts.Progress != nil {
				opts.Progress(processed, total)
			}
		}(batch)
	}
	wg.Wait()

	records := snapshotRecords(done)
	result := JobResult{JobID: jobID, Records: records, Usage: usage}

	switch {
	case jobErr != nil:
		result.State = JobFailed
		return result, jobErr
	case len(records) < total:
		result.State = JobCancelled
		log.Printf("job cancelled id=%s classified=%d/%d (checkpoint preserved)", jobID, len(records), total)
		return result, nil
	default:
		if err := a.store.Clear(jobID); err != nil {
			log.Printf("checkpoint clear error job=%s: %v", jobID, err)
		}
		result.State = JobCompleted
		log.Printf("job completed id=%s classified=%d tokens=%d cost=$%.4f",
			jobID, len(records), usage.TotalTokens, usage.EstimatedCostUSD())
		return result, nil
	}
}

// snapshotRecords merges the accumulator back into original row order
// by sequence index.
func snapshotRecords(done map[int]ClassifiedRecord) []ClassifiedRecord {
	records := make([]ClassifiedRecord, 0, len(done))
	for _, rec := range done {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return records
}
