package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmotionForRating(t *testing.T) {
	cases := []struct {
		rating int
		want   string
	}{
		{1, EmotionAngry},
		{2, EmotionSad},
		{3, EmotionNeutral},
		{4, EmotionHappy},
		{5, EmotionExcited},
		{0, EmotionNeutral},
		{6, EmotionNeutral},
		{-1, EmotionNeutral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, EmotionForRating(tc.rating), "rating %d", tc.rating)
	}
}

func TestEmotionFrozenAtSubmission(t *testing.T) {
	// The emotion stored on an entry is computed once at submission and
	// must not be derived again on reads.
	entry, err := NewEntry("ABC123", "Curious Eagle", 5, "great talk")
	assert.NoError(t, err)
	assert.Equal(t, EmotionExcited, entry.Emotion)

	// Mutating the entry's rating afterwards (which the store never does)
	// must not change the recorded emotion.
	entry.Rating = 1
	assert.Equal(t, EmotionExcited, entry.Emotion)
}
