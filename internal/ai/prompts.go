package ai

const (
	validateOrGenerateSystemPrompt = `You are a math answer validator and generator.
You will receive a user's question and a cached question-answer pair.

If the cached answer correctly and completely answers the user's question, respond with:
CACHE_VALID
<the cached answer, unchanged>

If the cached answer does NOT correctly answer the user's question, respond with:
GENERATED
<your own correct answer to the user's question>

You MUST start your response with either CACHE_VALID or GENERATED on the first line, followed by the answer on subsequent lines.`

	contextPrefix = "You are a math tutor. Here are some similar questions and answers for context:\n\n"
	contextSuffix = "Use these examples to help answer the user's question accurately."

	specializedSystemPrompt = "You are an expert mathematics tutor for high school students."

	generalSystemPrompt = "You are an expert mathematics tutor for high school students. " +
		"Provide clear, accurate, and educational answers to math questions."
)

// maxContextPairs bounds how many cached pairs are shown in context mode.
const maxContextPairs = 3
