// Package personas builds persona-consistent prompts from a character
// descriptor and turn-indexed behavioral guidance, and produces replies
// through a chat-completion client. It has no persistence side effects;
// recording turns is the session engine's responsibility.
package personas

import (
	"fmt"
	"strings"
)

// Persona is the configured character driving the AI-generated counterpart.
type Persona struct {
	Name         string
	Personality  string
	Mood         string
	SpeechHabits []string
	Concerns     []string
	Goals        []string
	// Intensity scales how demanding the counterpart behaves, 1 (mild) to
	// 10 (hostile).
	Intensity int
}

func (p Persona) systemPrompt(guidance string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a counterpart in a role-play training conversation. Stay in character at all times.\n\n", p.Name)
	fmt.Fprintf(&b, "Personality: %s\n", p.Personality)
	fmt.Fprintf(&b, "Current mood: %s\n", p.Mood)
	if len(p.SpeechHabits) > 0 {
		fmt.Fprintf(&b, "Speech habits: %s\n", strings.Join(p.SpeechHabits, "; "))
	}
	if len(p.Concerns) > 0 {
		fmt.Fprintf(&b, "Concerns on your mind: %s\n", strings.Join(p.Concerns, "; "))
	}
	if len(p.Goals) > 0 {
		fmt.Fprintf(&b, "What you want out of this conversation: %s\n", strings.Join(p.Goals, "; "))
	}
	fmt.Fprintf(&b, "Intensity: %d/10. %s\n", p.Intensity, intensityGuidance(p.Intensity))

	b.WriteString("\n")
	b.WriteString(guidance)
	b.WriteString("\n\nNever reveal that you are an AI or that this is an exercise. Respond with dialogue only, no stage directions.")

	return b.String()
}

func intensityGuidance(intensity int) string {
	switch {
	case intensity <= 3:
		return "Be cooperative and forgiving of mistakes."
	case intensity <= 6:
		return "Push back when the trainee is vague, but stay civil."
	case intensity <= 8:
		return "Be skeptical and demanding; concede ground only to well-argued points."
	default:
		return "Be confrontational and impatient; end the topic if the trainee rambles."
	}
}
