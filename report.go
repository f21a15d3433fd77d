package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// utf8BOM is prepended to report files so spreadsheet tools detect the
// encoding.
const utf8BOM = "\uFEFF"

var dataHeader = []string{"display_time", "username", "original_text", "attribute", "sentiment"}

// BuildAnalysisCSV renders the full analysis report: a summary block
// (total count, then attribute / sentiment / top-commenter counts laid
// out as parallel columns), a blank separator, and the classified data
// table sorted ascending by display time.
func BuildAnalysisCSV(records []ClassifiedRecord, stats Statistics) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	w.Write([]string{"summary", "count"})
	w.Write([]string{"total comments", strconv.Itoa(stats.TotalComments)})
	w.Write([]string{""})

	w.Write([]string{"attribute", "count", "", "sentiment", "count", "", "top commenters", "comments"})
	maxRows := len(stats.AttributeCounts)
	if len(stats.SentimentCounts) > maxRows {
		maxRows = len(stats.SentimentCounts)
	}
	if len(stats.TopCommenters) > maxRows {
		maxRows = len(stats.TopCommenters)
	}
	for i := 0; i < maxRows; i++ {
		row := make([]string, 8)
		if i < len(stats.AttributeCounts) {
			row[0] = stats.AttributeCounts[i].Label
			row[1] = strconv.Itoa(stats.AttributeCounts[i].Count)
		}
		if i < len(stats.SentimentCounts) {
			row[3] = stats.SentimentCounts[i].Label
			row[4] = strconv.Itoa(stats.SentimentCounts[i].Count)
		}
		if i < len(stats.TopCommenters) {
			row[6] = stats.TopCommenters[i].Username
			row[7] = strconv.Itoa(stats.TopCommenters[i].Count)
		}
		w.Write(row)
	}

	w.Write([]string{""})
	w.Write([]string{""})
	w.Write([]string{"comment data"})
	w.Write(dataHeader)
	for _, r := range sortByDisplayTime(records) {
		w.Write([]string{r.DisplayTime, r.Username, r.Text, r.Attribute, r.Sentiment})
	}
	w.Flush()
	return sb.String()
}

// BuildQuestionCSV renders the question report: question stats, then
// the extracted question comments with an answer-status column
// defaulting to "unanswered".
func BuildQuestionCSV(questions []ClassifiedRecord, qstats QuestionStatistics) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	w.Write([]string{"summary"})
	w.Write([]string{"question comments", strconv.Itoa(qstats.TotalQuestions)})
	w.Write([]string{"answer rate", fmt.Sprintf("%.1f%%", qstats.AnswerRate)})
	w.Write([]string{""})
	w.Write([]string{"question comment data"})
	w.Write(append(append([]string{}, dataHeader...), "answer_status"))
	for _, r := range sortByDisplayTime(questions) {
		w.Write([]string{r.DisplayTime, r.Username, r.Text, r.Attribute, r.Sentiment, "unanswered"})
	}
	w.Flush()
	return sb.String()
}

// sortByDisplayTime orders records ascending by display time. Both
// HH:MM and the legacy HH:MM:SS format are accepted.
func sortByDisplayTime(records []ClassifiedRecord) []ClassifiedRecord {
	sorted := make([]ClassifiedRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ParseDisplayTime(sorted[i].DisplayTime) < ParseDisplayTime(sorted[j].DisplayTime)
	})
	return sorted
}

// WriteReportFile writes a report with a UTF-8 byte-order mark into
// outputDir and returns the full path.
func WriteReportFile(content, outputDir, filename string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(outputDir, sanitizeFilename(filename))
	return path, os.WriteFile(path, []byte(utf8BOM+content), 0644)
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	return replacer.Replace(s)
}
