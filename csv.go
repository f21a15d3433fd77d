package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var requiredColumns = []string{"guest_id", "username", "original_text", "inserted_at"}
var elapsedColumns = []string{"username", "original_text", "elapsed_time"}

const headerScanRows = 10

// timestampLayouts are tried in order when parsing inserted_at values.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04",
}

// ReadCommentsCSV loads a chat export. It auto-detects the header row
// within the first 10 rows and supports two schemas: the standard
// export (guest_id, username, original_text, inserted_at) and the
// elapsed-time export (username, original_text, elapsed_time).
// Timestamps are normalized to relative broadcast time with the first
// comment at 00:00.
func ReadCommentsCSV(path string) ([]CommentRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\uFEFF")
	}

	headerIdx, cols := detectHeaderRow(rows, elapsedColumns)
	if cols != nil {
		return parseElapsedRows(rows[headerIdx+1:], cols)
	}
	headerIdx, cols = detectHeaderRow(rows, requiredColumns)
	if cols == nil {
		return nil, &ValidationError{Msg: fmt.Sprintf(
			"required columns not found: %s (or %s)",
			strings.Join(requiredColumns, ", "), strings.Join(elapsedColumns, ", "))}
	}
	return parseTimestampRows(rows[headerIdx+1:], cols)
}

// detectHeaderRow scans the first rows for one containing every wanted
// column and returns its index plus a column-name -> position map.
func detectHeaderRow(rows [][]string, wanted []string) (int, map[string]int) {
	limit := headerScanRows
	if len(rows) < limit {
		limit = len(rows)
	}
	for i := 0; i < limit; i++ {
		positions := make(map[string]int, len(rows[i]))
		for j, col := range rows[i] {
			positions[strings.TrimSpace(col)] = j
		}
		found := true
		for _, col := range wanted {
			if _, ok := positions[col]; !ok {
				found = false
				break
			}
		}
		if found {
			return i, positions
		}
	}
	return 0, nil
}

func parseTimestampRows(rows [][]string, cols map[string]int) ([]CommentRecord, error) {
	type timedRow struct {
		at     time.Time
		record CommentRecord
	}

	var timed []timedRow
	for _, row := range rows {
		text := fieldAt(row, cols["original_text"])
		raw := fieldAt(row, cols["inserted_at"])
		if strings.TrimSpace(text) == "" || strings.TrimSpace(raw) == "" {
			continue
		}
		at, ok := parseTimestamp(raw)
		if !ok {
			continue
		}
		timed = append(timed, timedRow{at: at, record: CommentRecord{
			GuestID:      fieldAt(row, cols["guest_id"]),
			Username:     fieldAt(row, cols["username"]),
			Text:         text,
			RawTimestamp: raw,
		}})
	}
	if len(timed) == 0 {
		return nil, &ValidationError{Msg: "no rows with valid timestamp data"}
	}

	sort.SliceStable(timed, func(i, j int) bool { return timed[i].at.Before(timed[j].at) })

	first := timed[0].at
	records := make([]CommentRecord, len(timed))
	for i, tr := range timed {
		tr.record.Index = i
		tr.record.DisplayTime = FormatDisplayTime(int(tr.at.Sub(first).Seconds()))
		records[i] = tr.record
	}
	return records, nil
}

func parseElapsedRows(rows [][]string, cols map[string]int) ([]CommentRecord, error) {
	type elapsedRow struct {
		seconds float64
		record  CommentRecord
	}

	var timed []elapsedRow
	for _, row := range rows {
		text := fieldAt(row, cols["original_text"])
		raw := fieldAt(row, cols["elapsed_time"])
		if strings.TrimSpace(text) == "" || strings.TrimSpace(raw) == "" {
			continue
		}
		seconds, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			continue
		}
		rec := CommentRecord{
			Username:     fieldAt(row, cols["username"]),
			Text:         text,
			RawTimestamp: raw,
		}
		if pos, ok := cols["guest_id"]; ok {
			rec.GuestID = fieldAt(row, pos)
		}
		timed = append(timed, elapsedRow{seconds: seconds, record: rec})
	}
	if len(timed) == 0 {
		return nil, &ValidationError{Msg: "no rows with valid elapsed_time data"}
	}

	sort.SliceStable(timed, func(i, j int) bool { return timed[i].seconds < timed[j].seconds })

	min := timed[0].seconds
	records := make([]CommentRecord, len(timed))
	for i, tr := range timed {
		tr.record.Index = i
		tr.record.DisplayTime = FormatDisplayTime(int(tr.seconds - min))
		records[i] = tr.record
	}
	return records, nil
}

func fieldAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Live-stream exports are named "<title>_(stream name).csv" with
// half-width or full-width brackets in any combination.
var liveNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`_\s*\([^)]*\)`),
	regexp.MustCompile(`[_\s　]（[^）]*）`),
	regexp.MustCompile(`[_\s　]\([^）]*）`),
	regexp.MustCompile(`[_\s　]（[^)]*\)`),
}

// CleanSourceFilename strips the "_(stream name)" segment from an
// export filename base.
func CleanSourceFilename(name string) string {
	for _, re := range liveNamePatterns {
		name = re.ReplaceAllString(name, "")
	}
	return strings.TrimSpace(name)
}
