package main

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// fakeClassifier scripts per-batch behavior for orchestrator tests.
type fakeClassifier struct {
	mu    sync.Mutex
	calls int

	// classify is invoked per batch; nil means classify everything as
	// "06 smalltalk"/neutral with 10 prompt + 5 completion tokens.
	classify func(call int, batch []CommentRecord) (map[int]Classification, UsageCounters, error)
}

func (f *fakeClassifier) ClassifyBatch(ctx context.Context, batch []CommentRecord) (map[int]Classification, UsageCounters, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()

	if f.classify != nil {
		return f.classify(call, batch)
	}
	return defaultClassify(batch)
}

func defaultClassify(batch []CommentRecord) (map[int]Classification, UsageCounters, error) {
	results := make(map[int]Classification, len(batch))
	for _, rec := range batch {
		results[rec.Index] = Classification{Attribute: "06 smalltalk", Sentiment: "neutral"}
	}
	return results, UsageCounters{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testComments(n int) []CommentRecord {
	comments := make([]CommentRecord, n)
	for i := range comments {
		comments[i] = CommentRecord{
			Index:       i,
			DisplayTime: FormatDisplayTime(i * 60),
			Username:    fmt.Sprintf("user%d", i),
			Text:        fmt.Sprintf("comment %d", i),
		}
	}
	return comments
}

func newTestAnalyzer(t *testing.T, classifier BatchClassifier, batchSize int) (*Analyzer, *CheckpointStore) {
	t.Helper()
	store := NewCheckpointStore(t.TempDir())
	cfg := Config{LLMBatchSize: batchSize, LLMConcurrency: 1}
	return NewAnalyzer(cfg, classifier, store), store
}

func TestRunClassifiesEveryComment(t *testing.T) {
	fake := &fakeClassifier{}
	analyzer, store := newTestAnalyzer(t, fake, 2)

	result, err := analyzer.Run(context.Background(), testComments(5), JobOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != JobCompleted {
		t.Fatalf("expected completed, got %s", result.State)
	}
	if len(result.Records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(result.Records))
	}
	for i, rec := range result.Records {
		if rec.Index != i {
			t.Fatalf("record %d out of order: index=%d", i, rec.Index)
		}
		if rec.Attribute == "" || rec.Sentiment == "" {
			t.Fatalf("record %d missing classification: %+v", i, rec)
		}
	}
	// 5 comments in batches of 2 = 3 calls of 15 tokens.
	if result.Usage.TotalTokens != 45 {
		t.Fatalf("expected 45 total tokens, got %d", result.Usage.TotalTokens)
	}
	// Completion removes the checkpoint.
	if cp, _ := store.Load(result.JobID); cp != nil {
		t.Fatalf("expected checkpoint to be cleared after completion")
	}
}

func TestRunEmptyInputCompletesImmediately(t *testing.T) {
	fake := &fakeClassifier{}
	analyzer, store := newTestAnalyzer(t, fake, 2)

	result, err := analyzer.Run(context.Background(), nil, JobOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != JobCompleted {
		t.Fatalf("expected completed, got %s", result.State)
	}
	if fake.callCount() != 0 {
		t.Fatalf("expected no classifier calls, got %d", fake.callCount())
	}
	if jobs := store.List(); len(jobs) != 0 {
		t.Fatalf("expected no checkpoint for empty input, got %v", jobs)
	}
}

func TestRunCancelMidwayThenResume(t *testing.T) {
	var requested sync.Once
	cancelFlag := false
	var mu sync.Mutex

	fake := &fakeClassifier{
		classify: func(call int, batch []CommentRecord) (map[int]Classification, UsageCounters, error) {
			// Request cancellation after the first unit finishes.
			defer requested.Do(func() {
				mu.Lock()
				cancelFlag = true
				mu.Unlock()
			})
			return defaultClassify(batch)
		},
	}
	analyzer, store := newTestAnalyzer(t, fake, 1)

	comments := testComments(3)
	opts := JobOptions{
		JobID: "20260831_120000",
		CancelRequested: func() bool {
			mu.Lock()
			defer mu.Unlock()
			return cancelFlag
		},
	}

	result, err := analyzer.Run(context.Background(), comments, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != JobCancelled {
		t.Fatalf("expected cancelled, got %s", result.State)
	}
	if len(result.Records) != 1 {
		t.Fatalf("expected 1 record before cancel, got %d", len(result.Records))
	}

	cp, err := store.Load("20260831_120000")
	if err != nil || cp == nil {
		t.Fatalf("expected checkpoint preserved after cancel, got cp=%v err=%v", cp, err)
	}
	if len(cp.Records) != 1 {
		t.Fatalf("checkpoint should hold 1 record, got %d", len(cp.Records))
	}

	// Resume finishes the remaining comments without repeating the first.
	fake2 := &fakeClassifier{}
	analyzer2 := NewAnalyzer(Config{LLMBatchSize: 1, LLMConcurrency: 1}, fake2, store)
	resumed, err := analyzer2.Run(context.Background(), comments, JobOptions{JobID: "20260831_120000", Resume: true})
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.State != JobCompleted {
		t.Fatalf("expected completed after resume, got %s", resumed.State)
	}
	if len(resumed.Records) != 3 {
		t.Fatalf("expected 3 records after resume, got %d", len(resumed.Records))
	}
	if fake2.callCount() != 2 {
		t.Fatalf("resume should only classify the 2 pending comments, made %d calls", fake2.callCount())
	}
	// 15 tokens before cancel + 30 after.
	if resumed.Usage.TotalTokens != 45 {
		t.Fatalf("expected cumulative 45 tokens, got %d", resumed.Usage.TotalTokens)
	}
}

func TestRunCancelBeforeStart(t *testing.T) {
	fake := &fakeClassifier{}
	analyzer, _ := newTestAnalyzer(t, fake, 1)

	result, err := analyzer.Run(context.Background(), testComments(3), JobOptions{
		CancelRequested: func() bool { return true },
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != JobCancelled {
		t.Fatalf("expected cancelled, got %s", result.State)
	}
	if len(result.Records) != 0 {
		t.Fatalf("expected no records, got %d", len(result.Records))
	}
	if fake.callCount() != 0 {
		t.Fatalf("expected no classifier calls, got %d", fake.callCount())
	}
}

func TestRunSystemicErrorFailsJobKeepsCheckpoint(t *testing.T) {
	fake := &fakeClassifier{
		classify: func(call int, batch []CommentRecord) (map[int]Classification, UsageCounters, error) {
			if call == 0 {
				return defaultClassify(batch)
			}
			return nil, UsageCounters{}, &ProviderError{Provider: "openai", StatusCode: 401, Err: fmt.Errorf("invalid api key")}
		},
	}
	analyzer, store := newTestAnalyzer(t, fake, 1)

	result, err := analyzer.Run(context.Background(), testComments(3), JobOptions{JobID: "20260831_130000"})
	if err == nil {
		t.Fatalf("expected error for systemic provider failure")
	}
	if result.State != JobFailed {
		t.Fatalf("expected failed, got %s", result.State)
	}

	cp, loadErr := store.Load("20260831_130000")
	if loadErr != nil || cp == nil {
		t.Fatalf("expected checkpoint preserved after failure, got cp=%v err=%v", cp, loadErr)
	}
	if len(cp.Records) != 1 {
		t.Fatalf("checkpoint should hold the 1 successful record, got %d", len(cp.Records))
	}
}

func TestRunNonSystemicErrorFallsBack(t *testing.T) {
	fake := &fakeClassifier{
		classify: func(call int, batch []CommentRecord) (map[int]Classification, UsageCounters, error) {
			if call == 1 {
				return nil, UsageCounters{}, &ProviderError{Provider: "openai", StatusCode: 500, Err: fmt.Errorf("server error")}
			}
			return defaultClassify(batch)
		},
	}
	analyzer, _ := newTestAnalyzer(t, fake, 1)

	result, err := analyzer.Run(context.Background(), testComments(5), JobOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != JobCompleted {
		t.Fatalf("expected completed despite one bad unit, got %s", result.State)
	}
	if len(result.Records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(result.Records))
	}

	fallbacks := 0
	for _, rec := range result.Records {
		if rec.Fallback {
			fallbacks++
			if rec.Attribute != FallbackAttribute || rec.Sentiment != FallbackSentiment {
				t.Fatalf("fallback record has wrong labels: %+v", rec)
			}
		}
	}
	if fallbacks != 1 {
		t.Fatalf("expected exactly 1 fallback record, got %d", fallbacks)
	}
	// The failed call contributes no tokens.
	if result.Usage.TotalTokens != 60 {
		t.Fatalf("expected 60 tokens from the 4 successful calls, got %d", result.Usage.TotalTokens)
	}
}

func TestRunResumeWithoutCheckpointStartsFresh(t *testing.T) {
	fake := &fakeClassifier{}
	analyzer, _ := newTestAnalyzer(t, fake, 2)

	result, err := analyzer.Run(context.Background(), testComments(4), JobOptions{Resume: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != JobCompleted {
		t.Fatalf("expected completed, got %s", result.State)
	}
	if len(result.Records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(result.Records))
	}
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeClassifier{
		classify: func(call int, batch []CommentRecord) (map[int]Classification, UsageCounters, error) {
			if call == 0 {
				results, usage, _ := defaultClassify(batch)
				cancel()
				return results, usage, nil
			}
			return nil, UsageCounters{}, ctx.Err()
		},
	}
	analyzer, _ := newTestAnalyzer(t, fake, 1)

	result, err := analyzer.Run(ctx, testComments(3), JobOptions{JobID: "20260831_140000"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != JobCancelled {
		t.Fatalf("expected cancelled, got %s", result.State)
	}
	if len(result.Records) != 1 {
		t.Fatalf("expected 1 record before ctx cancel, got %d", len(result.Records))
	}
}
