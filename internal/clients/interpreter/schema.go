package interpreter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/famlink-backend/internal/domain/emotions"
	"github.com/yungbote/famlink-backend/internal/domain/reports"
)

func interpretationSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required": []string{
			"emotional_state", "emotion_category", "hidden_meaning",
			"underlying_needs", "confidence_score", "suggested_responses",
		},
		"properties": map[string]any{
			"emotional_state": map[string]any{
				"type":        "string",
				"description": "The primary emotion behind the message, one or two words.",
			},
			"emotion_category": map[string]any{
				"type":        "string",
				"description": "Broad family of the emotion: joy, sadness, anger, fear, surprise or neutral.",
			},
			"hidden_meaning": map[string]any{
				"type":        "string",
				"description": "What the child is actually trying to communicate.",
			},
			"underlying_needs": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Unmet needs driving the emotion, most important first, at most 3.",
			},
			"confidence_score": map[string]any{
				"type":        "number",
				"description": "Confidence in this interpretation between 0 and 1.",
			},
			"suggested_responses": map[string]any{
				"type":        "array",
				"description": "Ways the parent could respond, each a different approach.",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"type", "text", "rationale"},
					"properties": map[string]any{
						"type":      map[string]any{"type": "string", "description": "validation, teaching or redirection"},
						"text":      map[string]any{"type": "string", "description": "What the parent could say, in the parent's own voice."},
						"rationale": map[string]any{"type": "string", "description": "Why this response works for this child."},
					},
				},
			},
		},
	}
}

func adviceSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"summary", "highlights", "recommendations"},
		"properties": map[string]any{
			"summary": map[string]any{
				"type":        "string",
				"description": "Two or three sentences summarizing the family's emotional week.",
			},
			"highlights": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Positive moments and growth worth celebrating.",
			},
			"recommendations": map[string]any{
				"type":        "array",
				"description": "Specific actions for the coming week, 3 to 5 entries.",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"priority", "category", "title", "action_steps"},
					"properties": map[string]any{
						"priority":     map[string]any{"type": "integer", "description": "1 (do this first) to 3 (nice to have)"},
						"category":     map[string]any{"type": "string", "description": "e.g. connection, routines, emotional coaching"},
						"title":        map[string]any{"type": "string"},
						"action_steps": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
				},
			},
		},
	}
}

// decodeInterpretation parses and validates a structured interpretation.
// Strict schema mode should make the checks unreachable against a compliant
// backend, but OpenAI-compatible servers vary.
func decodeInterpretation(raw string) (*emotions.Interpretation, error) {
	var payload struct {
		EmotionalState     *string  `json:"emotional_state"`
		EmotionCategory    *string  `json:"emotion_category"`
		HiddenMeaning      *string  `json:"hidden_meaning"`
		UnderlyingNeeds    []string `json:"underlying_needs"`
		ConfidenceScore    *float64 `json:"confidence_score"`
		SuggestedResponses []struct {
			Type      string `json:"type"`
			Text      string `json:"text"`
			Rationale string `json:"rationale"`
		} `json:"suggested_responses"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("interpretation does not match schema: %w", err)
	}

	var missing []string
	if payload.EmotionalState == nil || strings.TrimSpace(*payload.EmotionalState) == "" {
		missing = append(missing, "emotional_state")
	}
	if payload.HiddenMeaning == nil || strings.TrimSpace(*payload.HiddenMeaning) == "" {
		missing = append(missing, "hidden_meaning")
	}
	if payload.ConfidenceScore == nil {
		missing = append(missing, "confidence_score")
	}
	if payload.SuggestedResponses == nil {
		missing = append(missing, "suggested_responses")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required missing keys: %v", missing)
	}

	if *payload.ConfidenceScore < 0 || *payload.ConfidenceScore > 1 {
		return nil, fmt.Errorf("confidence_score %.2f out of range [0,1]", *payload.ConfidenceScore)
	}

	needs := make([]string, 0, emotions.MaxUnderlyingNeeds)
	for _, n := range payload.UnderlyingNeeds {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		needs = append(needs, n)
		if len(needs) == emotions.MaxUnderlyingNeeds {
			break
		}
	}

	suggestions := make([]emotions.SuggestedResponse, 0, len(payload.SuggestedResponses))
	for _, s := range payload.SuggestedResponses {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		suggestions = append(suggestions, emotions.SuggestedResponse{
			Type:      strings.TrimSpace(s.Type),
			Text:      text,
			Rationale: strings.TrimSpace(s.Rationale),
		})
	}
	if len(suggestions) == 0 {
		return nil, fmt.Errorf("no suggested responses returned")
	}

	category := ""
	if payload.EmotionCategory != nil {
		category = strings.TrimSpace(*payload.EmotionCategory)
	}

	return &emotions.Interpretation{
		EmotionalState:     strings.TrimSpace(*payload.EmotionalState),
		EmotionCategory:    category,
		HiddenMeaning:      strings.TrimSpace(*payload.HiddenMeaning),
		UnderlyingNeeds:    needs,
		ConfidenceScore:    *payload.ConfidenceScore,
		SuggestedResponses: suggestions,
	}, nil
}

func decodeAdvice(raw string) (*ReportAdvice, error) {
	var payload struct {
		Summary         *string  `json:"summary"`
		Highlights      []string `json:"highlights"`
		Recommendations []struct {
			Priority    int      `json:"priority"`
			Category    string   `json:"category"`
			Title       string   `json:"title"`
			ActionSteps []string `json:"action_steps"`
		} `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("advice does not match schema: %w", err)
	}

	var missing []string
	if payload.Summary == nil || strings.TrimSpace(*payload.Summary) == "" {
		missing = append(missing, "summary")
	}
	if payload.Recommendations == nil {
		missing = append(missing, "recommendations")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required missing keys: %v", missing)
	}

	highlights := make([]string, 0, len(payload.Highlights))
	for _, h := range payload.Highlights {
		if h = strings.TrimSpace(h); h != "" {
			highlights = append(highlights, h)
		}
	}

	recs := make([]reports.Recommendation, 0, len(payload.Recommendations))
	for _, r := range payload.Recommendations {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			continue
		}
		priority := r.Priority
		if priority < 1 || priority > 3 {
			priority = len(recs) + 1
			if priority > 3 {
				priority = 3
			}
		}
		steps := make([]string, 0, len(r.ActionSteps))
		for _, s := range r.ActionSteps {
			if s = strings.TrimSpace(s); s != "" {
				steps = append(steps, s)
			}
		}
		recs = append(recs, reports.Recommendation{
			Priority:    priority,
			Category:    strings.TrimSpace(r.Category),
			Title:       title,
			ActionSteps: steps,
		})
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no recommendations returned")
	}

	return &ReportAdvice{
		Summary:         strings.TrimSpace(*payload.Summary),
		Highlights:      highlights,
		Recommendations: recs,
	}, nil
}
