package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func reportRecords() []ClassifiedRecord {
	return []ClassifiedRecord{
		{
			CommentRecord: CommentRecord{Index: 1, DisplayTime: "00:05", Username: "bob", Text: "size M, please"},
			Attribute:     "00 product question",
			Sentiment:     "neutral",
		},
		{
			CommentRecord: CommentRecord{Index: 0, DisplayTime: "00:00", Username: "alice", Text: "こんにちは"},
			Attribute:     "03 greeting",
			Sentiment:     "positive",
		},
	}
}

func TestBuildAnalysisCSV(t *testing.T) {
	records := reportRecords()
	stats := CalcStatistics(records)
	out := BuildAnalysisCSV(records, stats)

	if !strings.Contains(out, "total comments,2") {
		t.Fatalf("summary missing total count:\n%s", out)
	}
	if !strings.Contains(out, "comment data") {
		t.Fatalf("data section heading missing:\n%s", out)
	}
	// Every attribute appears in the summary even when zero.
	for _, attr := range ChatAttributes {
		if !strings.Contains(out, attr) {
			t.Fatalf("summary missing attribute %q:\n%s", attr, out)
		}
	}

	// Data rows are sorted by display time.
	aliceRow := strings.Index(out, "00:00,alice")
	bobRow := strings.Index(out, "00:05,bob")
	if aliceRow == -1 || bobRow == -1 {
		t.Fatalf("data rows missing:\n%s", out)
	}
	if aliceRow > bobRow {
		t.Fatalf("data rows not sorted by display time:\n%s", out)
	}

	// The output must stay parseable as CSV despite commas in comments.
	reader := csv.NewReader(strings.NewReader(out))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("report is not valid CSV: %v", err)
	}
	last := rows[len(rows)-1]
	if last[2] != "size M, please" {
		t.Fatalf("comma-bearing comment mangled: %v", last)
	}
}

func TestBuildQuestionCSV(t *testing.T) {
	questions := []ClassifiedRecord{
		{
			CommentRecord: CommentRecord{Index: 0, DisplayTime: "00:03", Username: "bob", Text: "サイズは？"},
			Attribute:     "00 product question",
			Sentiment:     "neutral",
		},
	}
	out := BuildQuestionCSV(questions, CalcQuestionStatistics(questions, 0))

	if !strings.Contains(out, "question comments,1") {
		t.Fatalf("question count missing:\n%s", out)
	}
	if !strings.Contains(out, "answer rate,0.0%") {
		t.Fatalf("answer rate missing:\n%s", out)
	}
	if !strings.Contains(out, "answer_status") {
		t.Fatalf("answer_status column missing:\n%s", out)
	}
	if !strings.Contains(out, "unanswered") {
		t.Fatalf("default answer status missing:\n%s", out)
	}
}

func TestWriteReportFile(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteReportFile("a,b\n1,2\n", dir, "live_20260831_analysis.csv")
	if err != nil {
		t.Fatalf("WriteReportFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.HasPrefix(string(data), "\ufeff") {
		t.Fatalf("report missing UTF-8 BOM")
	}
	if !strings.Contains(string(data), "a,b") {
		t.Fatalf("report content missing: %s", data)
	}
}

func TestWriteReportFileSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteReportFile("x\n", dir, "bad:name?.csv")
	if err != nil {
		t.Fatalf("WriteReportFile failed: %v", err)
	}
	if filepath.Base(path) != "bad_name_.csv" {
		t.Fatalf("filename not sanitized: %s", path)
	}
}
