package rag

// EstimateTokens approximates the token count of text as one token per
// four bytes, rounded up. Real tokenizers vary by model; this rate is
// close enough to enforce a context budget.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
