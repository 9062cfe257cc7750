// Package analysis scores captured posts for relevance and optionally
// rewrites their text in the target channel's voice.
package analysis

import (
	"sort"
	"strings"
)

// Score is the outcome of keyword analysis over a post's text.
type Score struct {
	Relevance float64
	Sentiment string
	Matched   []string
}

// KeywordScorer performs dictionary-based relevance and sentiment
// scoring. It is deliberately simple: the owner sees the score as a
// hint, the moderation decision stays human.
type KeywordScorer struct {
	weights  map[string]float64
	positive []string
	negative []string
}

// NewKeywordScorer creates a scorer from explicit dictionaries.
func NewKeywordScorer(weights map[string]float64, positive, negative []string) *KeywordScorer {
	return &KeywordScorer{weights: weights, positive: positive, negative: negative}
}

// DefaultScorer returns a scorer with a small built-in dictionary.
func DefaultScorer() *KeywordScorer {
	return NewKeywordScorer(
		map[string]float64{
			"breaking":  0.4,
			"exclusive": 0.3,
			"release":   0.3,
			"update":    0.2,
			"announce":  0.2,
			"launch":    0.2,
		},
		[]string{"great", "win", "success", "improved", "best"},
		[]string{"crash", "outage", "scam", "leak", "fail"},
	)
}

// Score analyzes text. Relevance is the capped sum of matched keyword
// weights; sentiment is a simple positive/negative word count.
func (s *KeywordScorer) Score(text string) Score {
	lowered := strings.ToLower(text)

	var (
		relevance float64
		matched   []string
	)
	for word, weight := range s.weights {
		if strings.Contains(lowered, word) {
			relevance += weight
			matched = append(matched, word)
		}
	}
	if relevance > 1 {
		relevance = 1
	}
	sort.Strings(matched)

	positives, negatives := 0, 0
	for _, word := range s.positive {
		if strings.Contains(lowered, word) {
			positives++
		}
	}
	for _, word := range s.negative {
		if strings.Contains(lowered, word) {
			negatives++
		}
	}

	sentiment := "neutral"
	switch {
	case positives > negatives:
		sentiment = "positive"
	case negatives > positives:
		sentiment = "negative"
	}

	return Score{Relevance: relevance, Sentiment: sentiment, Matched: matched}
}
