package feedback

// Emotion labels shown next to each rating. The mapping is applied once at
// submission time and stored with the entry; stored entries keep their
// original emotion even if this mapping ever changes.
const (
	EmotionAngry   = "Angry"
	EmotionSad     = "Sad"
	EmotionNeutral = "Neutral"
	EmotionHappy   = "Happy"
	EmotionExcited = "Excited"
)

// EmotionForRating maps a 1-5 rating to its emotion label. Anything outside
// the range maps to Neutral.
func EmotionForRating(rating int) string {
	switch rating {
	case 1:
		return EmotionAngry
	case 2:
		return EmotionSad
	case 3:
		return EmotionNeutral
	case 4:
		return EmotionHappy
	case 5:
		return EmotionExcited
	default:
		return EmotionNeutral
	}
}
