package main

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// KeywordRules are operator-maintained phrase rules applied on top of
// the model's answer: attribute rules pin a comment containing a phrase
// to a specific attribute, sentiment hints do the same for sentiment.
type KeywordRules struct {
	Attributes []AttributeRule `yaml:"attributes"`
	Sentiments []SentimentHint `yaml:"sentiments"`
}

type AttributeRule struct {
	Phrase    string `yaml:"phrase"`
	Attribute string `yaml:"attribute"`
}

type SentimentHint struct {
	Phrase    string `yaml:"phrase"`
	Sentiment string `yaml:"sentiment"`
}

func LoadKeywordRules(path string) (*KeywordRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword rules: %w", err)
	}
	var rules KeywordRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse keyword rules yaml: %w", err)
	}
	for _, r := range rules.Attributes {
		if !IsValidAttribute(strings.TrimSpace(r.Attribute)) {
			return nil, fmt.Errorf("unknown attribute %q for phrase %q", r.Attribute, r.Phrase)
		}
	}
	for _, h := range rules.Sentiments {
		if !IsValidSentiment(strings.ToLower(strings.TrimSpace(h.Sentiment))) {
			return nil, fmt.Errorf("unknown sentiment %q for phrase %q", h.Sentiment, h.Phrase)
		}
	}
	return &rules, nil
}

// ApplyOverrides returns cls with any matching phrase rules applied. A
// rule match is deterministic, so it also clears the fallback tag.
func (r *KeywordRules) ApplyOverrides(text string, cls Classification) Classification {
	normalized := normalizeTextToken(text)
	for _, rule := range r.Attributes {
		phrase := normalizeTextToken(rule.Phrase)
		if phrase != "" && strings.Contains(normalized, phrase) {
			cls.Attribute = strings.TrimSpace(rule.Attribute)
			cls.Fallback = false
			cls.Reason = ""
			break
		}
	}
	for _, hint := range r.Sentiments {
		phrase := normalizeTextToken(hint.Phrase)
		if phrase != "" && strings.Contains(normalized, phrase) {
			cls.Sentiment = strings.ToLower(strings.TrimSpace(hint.Sentiment))
			break
		}
	}
	return cls
}

func normalizeTextToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

var questionSuffixes = []string{
	"ですか", "ますか", "ですか？", "ますか？", "かな", "のか", "でしょうか",
}

var questionWords = []string{
	"どこ", "いつ", "だれ", "誰", "なぜ", "どう", "どれ", "いくら", "何",
	"what", "how", "why", "when", "where", "who", "which",
	"can i", "do you", "does it", "is there", "are there",
}

// IsProbableQuestion reports whether the text looks like a viewer
// question. Pure pattern matching, callable without network access.
func IsProbableQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if strings.ContainsAny(text, "?？") {
		return true
	}
	lower := strings.ToLower(text)
	for _, suffix := range questionSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	for _, word := range questionWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

var greetingPrefixes = []string{
	"こんにちは", "こんばんは", "おはよう", "初見です", "はじめまして",
	"hello", "hi ", "hey ", "good morning", "good evening",
}

var applauseRe = regexp.MustCompile(`^[8８]{3,}$`)

// classifyLocally settles comments that need no model call: pure
// emoji/symbol reactions, applause runs, and short greetings. Returns
// false for anything with real content so the model stays the default
// path.
func classifyLocally(text string) (Classification, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Classification{}, false
	}

	if applauseRe.MatchString(trimmed) {
		return Classification{Attribute: "05 reaction", Sentiment: "positive"}, true
	}

	if !containsWordCharacter(trimmed) {
		return Classification{Attribute: "05 reaction", Sentiment: "neutral"}, true
	}

	lower := strings.ToLower(trimmed)
	if len([]rune(trimmed)) <= 12 {
		for _, prefix := range greetingPrefixes {
			if strings.HasPrefix(lower, prefix) {
				return Classification{Attribute: "03 greeting", Sentiment: "positive"}, true
			}
		}
	}

	return Classification{}, false
}

func containsWordCharacter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
