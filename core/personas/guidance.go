package personas

// Behavioral guidance indexed by turn number. Early turns carry distinct
// direction so conversations open naturally; later turns share a generic
// fallback.
var turnGuidance = []string{
	"This is the opening of the conversation. Greet the trainee briefly and guardedly; do not volunteer your concerns yet.",
	"The conversation has just begun. Answer questions tersely and make the trainee work to earn specifics.",
	"Start revealing one of your concerns if the trainee has asked a relevant question; stay reserved otherwise.",
	"If the trainee has built rapport, open up about what you actually need. Raise an objection if they pitch prematurely.",
	"Test the trainee with your hardest objection. Concede only to concrete, relevant answers.",
}

const fallbackGuidance = "Continue the conversation consistently with everything said so far. " +
	"Reward specific, relevant points and push back on generic ones. Move toward a close if the trainee has earned it."

func guidanceForTurn(turnNumber int) string {
	if turnNumber >= 0 && turnNumber < len(turnGuidance) {
		return turnGuidance[turnNumber]
	}
	return fallbackGuidance
}
