package intent

import "regexp"

type rule struct {
	category Category
	patterns []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+e))
	}
	return out
}

// rules are evaluated in order; on a tie in match count the earlier category wins.
var rules = []rule{
	{Affirmative, compile(
		`\byes\b`, `\byeah\b`, `\byep\b`, `\byup\b`, `\bsure\b`, `\bok\b`, `\bokay\b`,
		`\bcorrect\b`, `\bright\b`, `\bexactly\b`, `\bi know\b`, `\bi understand\b`,
		`\bi got it\b`, `\bunderstood\b`, `\bof course\b`, `\bdefinitely\b`,
		`\babsolutely\b`, `\bfamiliar\b`, `\bi remember\b`, `\blearned\s+(it|that|this)\b`,
	)},
	{Negative, compile(
		`\bno\b`, `\bnope\b`, `\bnah\b`, `\bnot\s+really\b`, `\bi\s+don'?t\s+know\b`,
		`\bi\s+don'?t\s+understand\b`, `\bnever\s+(learned|heard|seen)\b`, `\bunfamiliar\b`,
		`\bconfused\b`, `\bi\s+forgot\b`, `\bcan'?t\s+remember\b`, `\bwhat\s+is\s+that\b`,
		`\bi\s+have\s+no\s+idea\b`, `\bnot\s+at\s+all\b`, `\bdidn'?t\s+learn\b`,
	)},
	{Partial, compile(
		`\bmaybe\b`, `\bsomewhat\b`, `\bkind\s+of\b`, `\bsort\s+of\b`, `\ba\s+little\b`,
		`\bnot\s+sure\b`, `\bi\s+think\s+so\b`, `\bprobably\b`, `\bpartially\b`,
		`\bsomehow\b`, `\bi\s+guess\b`, `\bbit\s+rusty\b`, `\bvaguely\b`,
	)},
	{Question, compile(
		`\bwhat\s+(do\s+you\s+mean|is|are|does)\b`, `\bhow\s+(do|does|is|can)\b`, `\bwhy\b`,
		`\bcan\s+you\s+explain\b`, `\bcould\s+you\s+(explain|clarify)\b`, `\bwhat'?s\s+that\b`,
		`\bi\s+don'?t\s+get\s+it\b`, `\bexplain\s+(that|this|more)\b`, `\?\s*$`,
	)},
	{Skip, compile(
		`\bjust\s+(tell|give|show)\s+me\b`, `\bskip\b`, `\bgive\s+me\s+the\s+answer\b`,
		`\btell\s+me\s+the\s+answer\b`, `\bi\s+just\s+want\s+the\s+answer\b`,
		`\bget\s+to\s+the\s+point\b`, `\bno\s+need\s+to\s+explain\b`, `\bjust\s+answer\b`,
	)},
}

const modelPrompt = `You are an intent classifier for a math tutoring system.
Classify the user's response into ONE of these categories:

- AFFIRMATIVE: User confirms, agrees, or indicates understanding (yes, I know, got it, understood, correct, right)
- NEGATIVE: User denies, disagrees, or indicates lack of understanding (no, I don't know, never learned, unfamiliar, confused)
- PARTIAL: User partially understands or is uncertain (somewhat, a little, not sure, maybe, kind of)
- QUESTION: User asks for clarification or more information (what do you mean, can you explain, how, why)
- SKIP: User wants to skip explanation and get the answer (just tell me, give me the answer, skip)
- OFF_TOPIC: Response is unrelated to the tutoring context

Context: The tutor asked a diagnostic question to gauge the student's understanding.

Reply with ONLY the category name (AFFIRMATIVE, NEGATIVE, PARTIAL, QUESTION, SKIP, or OFF_TOPIC).`
