package app

import (
	"fmt"
	"strings"

	"mathtutor-gateway/internal/intent"
	"mathtutor-gateway/internal/model"
)

const nextStepPrompt = "Do you understand this step? Would you like me to explain further?"

const tutorPreamble = "You are a math tutor for high school students."

var intentGuidance = map[intent.Category]struct {
	situation string
	task      string
}{
	intent.Skip: {
		"The student wants to skip the explanation and get the direct answer.",
		"Provide the direct answer clearly.",
	},
	intent.Affirmative: {
		"The student understands the current step. Move to the next step or conclude.",
		"Continue teaching, building on what the student now understands.",
	},
	intent.Negative: {
		"The student does not understand. Provide a simpler explanation.",
		"Break down the concept further in simpler terms.",
	},
	intent.Partial: {
		"The student partially understands. Clarify the confusing parts.",
		"Build on what they know while clarifying confusion.",
	},
	intent.Question: {
		"The student has a follow-up question. Answer it clearly.",
		"Answer their specific question, then guide them back to the problem.",
	},
	intent.OffTopic: {
		"The student's response seems off-topic. Gently redirect them.",
		"Redirect them back to the math problem.",
	},
}

// tutoringInstructions builds the system prompt for one tutoring turn. The
// student's reply itself is sent as the user message.
func tutoringInstructions(category intent.Category, anchor model.Anchor, steps []model.CacheNode) string {
	guide, ok := intentGuidance[category]
	if !ok {
		guide = intentGuidance[intent.OffTopic]
	}

	var b strings.Builder
	b.WriteString(tutorPreamble)
	b.WriteString("\n")
	b.WriteString(guide.situation)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Original Question: %s\n", anchor.Question)
	if category != intent.OffTopic {
		fmt.Fprintf(&b, "Final Answer: %s\n", anchor.Answer)
	}
	if category != intent.Skip && len(steps) > 0 {
		b.WriteString("\nPrevious tutoring steps:\n")
		for i, step := range steps {
			fmt.Fprintf(&b, "Step %d:\n  Student: %s\n  Tutor: %s\n", i+1, step.QueryText, step.AnswerText)
		}
	}
	b.WriteString("\n")
	b.WriteString(guide.task)
	return b.String()
}
