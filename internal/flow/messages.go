package flow

// User-facing reply texts.
const (
	MessageIntro            = "Let's find the perfect book for you! I'll ask you three questions."
	MessageLostSession      = "Sorry, something went wrong. Please restart the book recommendation."
	MessageAcknowledged     = "Thanks! Based on your preferences, let me find a book for you."
	MessageInsufficientInfo = "I don't have enough information. Can you tell me more?"
	MessageBackendApology   = "Sorry, there was an issue fetching recommendations. Please try again."
	MessageRecommendLeadIn  = "Based on your preferences, here is a book recommendation: "
	MessageStoreFailure     = "Sorry, I couldn't save your progress. Please try again in a moment."
	MessageUnknownIntent    = "Sorry, I didn't get that. Say \"recommend a book\" to start."
)
