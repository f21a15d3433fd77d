package main

import (
	"fmt"
	"testing"
)

func classified(index int, username, attr, sentiment string) ClassifiedRecord {
	return ClassifiedRecord{
		CommentRecord: CommentRecord{Index: index, Username: username, Text: fmt.Sprintf("text %d", index)},
		Attribute:     attr,
		Sentiment:     sentiment,
	}
}

func TestCalcStatistics(t *testing.T) {
	records := []ClassifiedRecord{
		classified(0, "alice", "00 product question", "neutral"),
		classified(1, "alice", "05 reaction", "positive"),
		classified(2, "bob", "05 reaction", "positive"),
		classified(3, "carol", "03 greeting", "positive"),
	}

	stats := CalcStatistics(records)
	if stats.TotalComments != 4 {
		t.Fatalf("expected 4 total, got %d", stats.TotalComments)
	}

	// Full taxonomy in order, zero-filled.
	if len(stats.AttributeCounts) != len(ChatAttributes) {
		t.Fatalf("expected %d attribute rows, got %d", len(ChatAttributes), len(stats.AttributeCounts))
	}
	for i, lc := range stats.AttributeCounts {
		if lc.Label != ChatAttributes[i] {
			t.Fatalf("attribute row %d out of taxonomy order: %s", i, lc.Label)
		}
	}
	counts := make(map[string]int)
	for _, lc := range stats.AttributeCounts {
		counts[lc.Label] = lc.Count
	}
	if counts["05 reaction"] != 2 || counts["00 product question"] != 1 || counts["07 other"] != 0 {
		t.Fatalf("unexpected attribute counts: %v", counts)
	}

	if len(stats.SentimentCounts) != len(ChatSentiments) {
		t.Fatalf("expected %d sentiment rows, got %d", len(ChatSentiments), len(stats.SentimentCounts))
	}

	if len(stats.TopCommenters) != 3 {
		t.Fatalf("expected 3 commenters, got %d", len(stats.TopCommenters))
	}
	if stats.TopCommenters[0].Username != "alice" || stats.TopCommenters[0].Count != 2 {
		t.Fatalf("expected alice on top, got %+v", stats.TopCommenters[0])
	}
	// Ties break alphabetically.
	if stats.TopCommenters[1].Username != "bob" || stats.TopCommenters[2].Username != "carol" {
		t.Fatalf("tie break order wrong: %+v", stats.TopCommenters)
	}
}

func TestCalcStatisticsTopCommenterLimit(t *testing.T) {
	var records []ClassifiedRecord
	for i := 0; i < 15; i++ {
		records = append(records, classified(i, fmt.Sprintf("user%02d", i), "06 smalltalk", "neutral"))
	}
	stats := CalcStatistics(records)
	if len(stats.TopCommenters) != topCommenterLimit {
		t.Fatalf("expected top commenters capped at %d, got %d", topCommenterLimit, len(stats.TopCommenters))
	}
}

func TestCalcStatisticsEmpty(t *testing.T) {
	stats := CalcStatistics(nil)
	if stats.TotalComments != 0 {
		t.Fatalf("expected 0 total, got %d", stats.TotalComments)
	}
	if len(stats.AttributeCounts) != len(ChatAttributes) {
		t.Fatalf("empty input should still list the full taxonomy")
	}
	for _, lc := range stats.AttributeCounts {
		if lc.Count != 0 {
			t.Fatalf("expected zero counts, got %+v", lc)
		}
	}
}

func TestExtractQuestions(t *testing.T) {
	cfg := Config{
		OfficialGuestID: "official-1",
		StaffUsernames:  []string{"Shop Staff"},
	}

	records := []ClassifiedRecord{
		classified(0, "alice", "00 product question", "neutral"),
		classified(1, "bob", "04 cast related", "positive"),
		classified(2, "carol", "05 reaction", "positive"),
		classified(3, "shop staff", "00 product question", "neutral"),
	}
	official := classified(4, "brand", "00 product question", "neutral")
	official.GuestID = "official-1"
	records = append(records, official)

	questions := ExtractQuestions(cfg, records)
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d: %+v", len(questions), questions)
	}
	if questions[0].Username != "alice" || questions[1].Username != "bob" {
		t.Fatalf("unexpected question set: %+v", questions)
	}
}

func TestCalcQuestionStatistics(t *testing.T) {
	questions := []ClassifiedRecord{
		classified(0, "alice", "00 product question", "neutral"),
		classified(1, "bob", "00 product question", "neutral"),
		classified(2, "carol", "04 cast related", "neutral"),
	}

	stats := CalcQuestionStatistics(questions, 1)
	if stats.TotalQuestions != 3 || stats.AnsweredCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.AnswerRate < 33.3 || stats.AnswerRate > 33.4 {
		t.Fatalf("expected ~33.3%% answer rate, got %f", stats.AnswerRate)
	}

	empty := CalcQuestionStatistics(nil, 0)
	if empty.AnswerRate != 0 {
		t.Fatalf("empty question set should have 0 rate, got %f", empty.AnswerRate)
	}
}
