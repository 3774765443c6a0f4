// Package models defines dialogue name constants to avoid circular imports.
package models

// Context and lifespan constants.
const (
	// SessionContextName is the single context record a recommendation dialogue uses.
	SessionContextName = "book_recommendation_session"
	// DefaultSessionLifespan is the turn budget written with every session update.
	DefaultSessionLifespan = 5
	// QuestionsPerSession is how many questions one dialogue asks.
	QuestionsPerSession = 3
)

// Intent name constants, as configured in the dispatcher agent.
const (
	IntentStartRecommendation    = "StartBookRecommendation"
	IntentRecommendByYear        = "RecommendByYear"
	IntentRecommendByGenre       = "RecommendByGenre"
	IntentRecommendByType        = "RecommendByType"
	IntentRecommendByMood        = "RecommendByMood"
	IntentRecommendByCountry     = "RecommendByCountry"
	IntentRecommendByLength      = "RecommendByLength"
	IntentGenerateRecommendation = "GenerateRecommendationIntent"
)

// EventGenerateRecommendation is the follow-up event that triggers completion.
const EventGenerateRecommendation = "GenerateRecommendation"

// CollectIntentForKey returns the collect intent that carries answers for key.
func CollectIntentForKey(k QuestionKey) string {
	switch k {
	case QuestionKeyYear:
		return IntentRecommendByYear
	case QuestionKeyGenre:
		return IntentRecommendByGenre
	case QuestionKeyType:
		return IntentRecommendByType
	case QuestionKeyMood:
		return IntentRecommendByMood
	case QuestionKeyCountry:
		return IntentRecommendByCountry
	case QuestionKeyLength:
		return IntentRecommendByLength
	default:
		return ""
	}
}
