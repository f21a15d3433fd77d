package main

import (
	"sort"
	"strings"
)

type UserCount struct {
	Username string
	Count    int
}

// Statistics are the aggregate counts derived from a classified result
// set. AttributeCounts and SentimentCounts cover the full taxonomy in
// taxonomy order, zero-filled for categories that never occurred.
type Statistics struct {
	TotalComments   int
	AttributeCounts []LabelCount
	SentimentCounts []LabelCount
	TopCommenters   []UserCount
}

type LabelCount struct {
	Label string
	Count int
}

const topCommenterLimit = 10

func CalcStatistics(records []ClassifiedRecord) Statistics {
	attrCounts := make(map[string]int)
	sentCounts := make(map[string]int)
	userCounts := make(map[string]int)
	for _, r := range records {
		attrCounts[r.Attribute]++
		sentCounts[r.Sentiment]++
		if name := strings.TrimSpace(r.Username); name != "" {
			userCounts[name]++
		}
	}

	stats := Statistics{TotalComments: len(records)}
	for _, attr := range ChatAttributes {
		stats.AttributeCounts = append(stats.AttributeCounts, LabelCount{Label: attr, Count: attrCounts[attr]})
	}
	for _, sent := range ChatSentiments {
		stats.SentimentCounts = append(stats.SentimentCounts, LabelCount{Label: sent, Count: sentCounts[sent]})
	}

	for name, count := range userCounts {
		stats.TopCommenters = append(stats.TopCommenters, UserCount{Username: name, Count: count})
	}
	sort.Slice(stats.TopCommenters, func(i, j int) bool {
		if stats.TopCommenters[i].Count != stats.TopCommenters[j].Count {
			return stats.TopCommenters[i].Count > stats.TopCommenters[j].Count
		}
		return stats.TopCommenters[i].Username < stats.TopCommenters[j].Username
	})
	if len(stats.TopCommenters) > topCommenterLimit {
		stats.TopCommenters = stats.TopCommenters[:topCommenterLimit]
	}
	return stats
}

// ExtractQuestions returns the records carrying a question attribute,
// excluding comments from the official account and configured staff
// usernames.
func ExtractQuestions(cfg Config, records []ClassifiedRecord) []ClassifiedRecord {
	var questions []ClassifiedRecord
	for _, r := range records {
		if !IsQuestionAttribute(r.Attribute) {
			continue
		}
		if cfg.OfficialGuestID != "" && strings.TrimSpace(r.GuestID) == cfg.OfficialGuestID {
			continue
		}
		if cfg.IsStaffUsername(r.Username) {
			continue
		}
		questions = append(questions, r)
	}
	return questions
}

type QuestionStatistics struct {
	TotalQuestions int
	AnsweredCount  int
	AnswerRate     float64 // percent
}

func CalcQuestionStatistics(questions []ClassifiedRecord, answered int) QuestionStatistics {
	stats := QuestionStatistics{TotalQuestions: len(questions), AnsweredCount: answered}
	if stats.TotalQuestions > 0 {
		stats.AnswerRate = float64(answered) / float64(stats.TotalQuestions) * 100
	}
	return stats
}
