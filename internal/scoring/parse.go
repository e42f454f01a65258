package scoring

import (
	"encoding/json"
	"strings"
)

// decodeResult extracts and decodes the first balanced JSON object from a
// model response, tolerating markdown code fences. ok is false when no
// decodable object is present.
func decodeResult(response string) (Result, bool) {
	raw := extractJSON(response)
	if raw == "" {
		return Result{}, false
	}

	var payload struct {
		Score     *float64 `json:"score"`
		Decision  string   `json:"decision"`
		Rationale string   `json:"rationale"`
		Tags      []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Result{}, false
	}

	score := 0.5
	if payload.Score != nil {
		score = clampScore(*payload.Score)
	}
	rationale := payload.Rationale
	if rationale == "" {
		rationale = "No rationale provided"
	}
	return Result{
		Score:     score,
		Decision:  clampDecision(payload.Decision),
		Rationale: rationale,
		Tags:      payload.Tags,
	}, true
}

// extractJSON returns the first balanced JSON object found in s, after
// stripping markdown code fences. Returns "" when none exists.
func extractJSON(s string) string {
	s = stripCodeFences(strings.TrimSpace(s))

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// stripCodeFences removes markdown fence lines, keeping only the content
// inside the first fenced block when one exists.
func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	var inside []string
	inBlock := false
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inBlock = !inBlock
			continue
		}
		if inBlock {
			inside = append(inside, line)
		}
	}
	return strings.Join(inside, "\n")
}
