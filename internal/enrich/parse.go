package enrich

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON object out of raw LLM text. Models routinely wrap
// their answer in a ```json fence, or add a sentence before/after it; this
// strips fences first, then falls back to the outermost {...} substring.
func ExtractJSON(text string) (Payload, error) {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = text[len("```json"):]
	} else if strings.HasPrefix(text, "```") {
		text = text[len("```"):]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	var p Payload
	if err := json.Unmarshal([]byte(text), &p); err == nil {
		return p, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &p); err == nil {
			return p, nil
		}
	}

	return Payload{}, fmt.Errorf("enrich: failed to parse JSON response")
}
