package domain

import (
	"math"
	"sort"
	"time"
)

// TopEmotions is how many labels the climate reports.
const TopEmotions = 3

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentUnknown  Sentiment = "unknown"
)

// emotionValence maps known labels onto [0,1]. Unlisted labels count as neutral.
var emotionValence = map[string]float64{
	"happy":      1,
	"excited":    1,
	"grateful":   1,
	"confident":  1,
	"interested": 0.8,
	"calm":       0.7,
	"neutral":    0.5,
	"surprised":  0.5,
	"thinking":   0.5,
	"tired":      0.3,
	"bored":      0.2,
	"confused":   0.2,
	"anxious":    0.1,
	"sad":        0,
	"angry":      0,
}

type EmotionRecord struct {
	Participant string    `json:"participant"`
	Emotion     string    `json:"emotion"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type EmotionCount struct {
	Emotion string `json:"emotion"`
	Count   int    `json:"count"`
}

type EmotionalClimate struct {
	Counts      map[string]int `json:"counts"`
	Total       int            `json:"total"`
	Positivity  int            `json:"positivity"`
	Sentiment   Sentiment      `json:"sentiment"`
	TopEmotions []EmotionCount `json:"top_emotions"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ComputeClimate aggregates the current per-participant emotions.
// Top labels are ordered by count descending, ties by label name ascending,
// so the result does not depend on the order records arrive in.
func ComputeClimate(records []EmotionRecord, now time.Time) EmotionalClimate {
	c := EmotionalClimate{
		Counts:      make(map[string]int),
		Positivity:  50,
		Sentiment:   SentimentUnknown,
		TopEmotions: []EmotionCount{},
		UpdatedAt:   now.UTC(),
	}
	var sum float64
	for _, r := range records {
		if r.Emotion == "" {
			continue
		}
		c.Counts[r.Emotion]++
		c.Total++
		v, ok := emotionValence[r.Emotion]
		if !ok {
			v = 0.5
		}
		sum += v
	}
	if c.Total == 0 {
		return c
	}

	c.Positivity = int(math.Round(100 * sum / float64(c.Total)))
	switch {
	case c.Positivity >= 60:
		c.Sentiment = SentimentPositive
	case c.Positivity <= 40:
		c.Sentiment = SentimentNegative
	default:
		c.Sentiment = SentimentNeutral
	}

	ranked := make([]EmotionCount, 0, len(c.Counts))
	for label, n := range c.Counts {
		ranked = append(ranked, EmotionCount{Emotion: label, Count: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Emotion < ranked[j].Emotion
	})
	if len(ranked) > TopEmotions {
		ranked = ranked[:TopEmotions]
	}
	c.TopEmotions = ranked
	return c
}
