// Package summarizer turns an execution outcome into a plain-language answer
// and masks replies that still look like commands.
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"hostel-assistant/internal/assistant/extractor"
	"hostel-assistant/internal/assistant/gateway"
	"hostel-assistant/internal/common/logger"
	"hostel-assistant/internal/common/metrics"
	"hostel-assistant/internal/models"
)

// FallbackMessage replaces summaries that leak command structure.
const FallbackMessage = "I have successfully processed your request. Please check the database for details."

// EmptyResultMessage is the phrasing required for empty results.
const EmptyResultMessage = "I couldn't find any records matching your criteria."

const systemInstruction = `You are the Admin Assistant.
Your job is to read the results of a database query and explain them to the admin in PLAIN NATURAL LANGUAGE.

INPUT CONTEXT:
- Original Question: the question the admin asked.
- Database Result: the raw data returned by the system.

STRICT NEGATIVE CONSTRAINTS:
1. NO JSON: do not output any JSON and do not use code blocks.
2. NO TECHNICAL JARGON: do not mention ObjectId, pipeline, mongoose, SQL, JSONB or internal field names like _id.
3. NO RAW LISTS: do not dump raw arrays. Summarize them.

OUTPUT RULES:
1. Analysis: if the result is a count, give the number.
2. Empty results: if the result is empty or null, say exactly "` + EmptyResultMessage + `"
3. Tone: professional, concise and direct.
4. Formatting: use **bold** for numbers and names. Use bullet points for lists.
5. Updates: report how many records matched and how many were changed.

Example:
Query: "How many students are present?"
Result: 45
Answer: "There are **45** students marked as present today."`

type Summarizer struct {
	gateway gateway.Gateway
	markers []string
	logger  logger.Logger
}

func New(gw gateway.Gateway, markers []string, log logger.Logger) *Summarizer {
	return &Summarizer{
		gateway: gw,
		markers: append([]string(nil), markers...),
		logger:  log.With(map[string]interface{}{"component": "summarizer"}),
	}
}

// Summarize asks the model to describe outcome in answer to prompt. Gateway
// errors are returned; unsafe replies are masked, never reported as errors.
func (s *Summarizer) Summarize(ctx context.Context, prompt string, outcome *models.ExecutionOutcome) (string, error) {
	result, err := json.MarshalIndent(outcome.Result(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Original Question:** %q\n\n", prompt)
	fmt.Fprintf(&b, "**Database Result:**\n%s\n\n", result)
	if outcome.Truncated {
		fmt.Fprintf(&b, "Note: only the first %d matching records are shown.\n\n", len(outcome.Documents))
	}
	b.WriteString("**Task:** Summarize this in natural language.")

	reply, err := s.gateway.Generate(ctx, b.String(), systemInstruction)
	if err != nil {
		return "", err
	}
	return s.Filter(reply), nil
}

// Filter strips fences and masks replies that still look like a command.
func (s *Summarizer) Filter(reply string) string {
	cleaned := extractor.StripFences(reply)
	if s.unsafe(cleaned) {
		metrics.SummariesMasked.Inc()
		s.logger.Warn("summary masked", map[string]interface{}{
			"replyChars": len(reply),
		})
		return FallbackMessage
	}
	return cleaned
}

func (s *Summarizer) unsafe(text string) bool {
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		return true
	}
	for _, marker := range s.markers {
		if marker != "" && strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
