package main

import (
	"math"
	"testing"
	"time"
)

func TestMintJobID(t *testing.T) {
	at := time.Date(2026, 8, 31, 14, 30, 5, 0, time.UTC)
	if got := MintJobID(at); got != "20260831_143005" {
		t.Fatalf("MintJobID = %q", got)
	}
}

func TestFormatDisplayTime(t *testing.T) {
	cases := []struct {
		seconds int
		want    string
	}{
		{0, "00:00"},
		{59, "00:00"},
		{60, "00:01"},
		{3660, "01:01"},
		{-5, "00:00"},
	}
	for _, tc := range cases {
		if got := FormatDisplayTime(tc.seconds); got != tc.want {
			t.Fatalf("FormatDisplayTime(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestUsageCountersAddAndCost(t *testing.T) {
	var usage UsageCounters
	usage.Add(UsageCounters{PromptTokens: 1_000_000, CompletionTokens: 500_000, TotalTokens: 1_500_000})
	usage.Add(UsageCounters{PromptTokens: 1_000_000, CompletionTokens: 500_000, TotalTokens: 1_500_000})

	if usage.TotalTokens != 3_000_000 {
		t.Fatalf("expected 3M total tokens, got %d", usage.TotalTokens)
	}
	// 2M prompt at $0.15/1M + 1M completion at $0.60/1M.
	want := 0.30 + 0.60
	if math.Abs(usage.EstimatedCostUSD()-want) > 1e-9 {
		t.Fatalf("EstimatedCostUSD = %f, want %f", usage.EstimatedCostUSD(), want)
	}
}

func TestTaxonomyValidation(t *testing.T) {
	if !IsValidAttribute("00 product question") || IsValidAttribute("99 invented") {
		t.Fatalf("attribute validation broken")
	}
	if !IsValidSentiment("negative") || IsValidSentiment("ecstatic") {
		t.Fatalf("sentiment validation broken")
	}
	if !IsQuestionAttribute("04 cast related") || IsQuestionAttribute("05 reaction") {
		t.Fatalf("question attribute set broken")
	}
	if !IsValidAttribute(FallbackAttribute) || !IsValidSentiment(FallbackSentiment) {
		t.Fatalf("fallback values must be part of the taxonomy")
	}
}
