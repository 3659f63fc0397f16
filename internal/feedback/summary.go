package feedback

import "github.com/roompulse/backend/internal/models"

// Suggestion tiers. The wording is a presentation constant; the strict ">"
// thresholds are the contract.
const (
	SuggestionPositive = "Excellent reception. Keep doing what you are doing."
	SuggestionMixed    = "Mostly positive. There is room to tighten things up."
	SuggestionImprove  = "Needs improvement. Consider slowing down and inviting questions."
	SuggestionNoData   = "No feedback yet."
)

// Summarize computes the rating histogram, arithmetic mean and suggestion
// tier for a set of entries. With zero entries the average is nil rather
// than a division by zero.
func Summarize(entries []models.FeedbackEntry) models.Summary {
	var s models.Summary
	sum := 0
	for _, e := range entries {
		if e.Rating < 1 || e.Rating > 5 {
			continue // the store never persists these
		}
		s.Distribution[e.Rating-1]++
		sum += e.Rating
		s.Count++
	}
	if s.Count == 0 {
		s.Suggestion = SuggestionNoData
		return s
	}
	avg := float64(sum) / float64(s.Count)
	s.Average = &avg
	switch {
	case avg > 4:
		s.Suggestion = SuggestionPositive
	case avg > 3:
		s.Suggestion = SuggestionMixed
	default:
		s.Suggestion = SuggestionImprove
	}
	return s
}
