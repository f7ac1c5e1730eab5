package prompt

import (
	"fmt"
	"strings"

	"docqa/internal/models"
)

// Assemble builds a grounded prompt from retrieval results and the user
// question under a context budget of maxContextLength characters. Whole
// lowest-ranked results are dropped first when the combined context would
// exceed the budget; a lone over-budget top result has its text cut
// instead. The returned slice holds exactly the results that made it into
// the prompt, so citations reflect the context truly sent to generation.
func Assemble(question string, results []models.RetrievalResult, maxContextLength int) (string, []models.RetrievalResult) {
	used := make([]models.RetrievalResult, len(results))
	copy(used, results)

	for len(used) > 0 {
		context := buildContext(used)
		if len([]rune(context)) <= maxContextLength {
			return fmt.Sprintf(models.GroundedPromptTemplate, context, question), used
		}
		if len(used) == 1 {
			trimmed := trimToBudget(used[0], maxContextLength)
			if trimmed == nil {
				break
			}
			used[0] = *trimmed
			return fmt.Sprintf(models.GroundedPromptTemplate, buildContext(used), question), used
		}
		used = used[:len(used)-1]
	}

	return fmt.Sprintf(models.UngroundedPromptTemplate, question), nil
}

func buildContext(results []models.RetrievalResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = contextBlock(r.Source.Name, r.Chunk.Text)
	}
	return strings.Join(blocks, models.ContextSeparator)
}

func contextBlock(sourceName, text string) string {
	return fmt.Sprintf("Source: %s\n%s", sourceName, text)
}

// trimToBudget cuts a single result's text so its context block fits the
// budget, or reports nil when even the attribution header does not fit.
func trimToBudget(r models.RetrievalResult, maxContextLength int) *models.RetrievalResult {
	header := len([]rune(contextBlock(r.Source.Name, "")))
	room := maxContextLength - header
	if room <= 0 {
		return nil
	}
	runes := []rune(r.Chunk.Text)
	if room < len(runes) {
		r.Chunk.Text = string(runes[:room])
	}
	return &r
}
