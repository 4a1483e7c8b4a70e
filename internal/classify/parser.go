package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/triagebot/pkg/models"
)

// classifierResponse is the strict wire schema of the classification service.
// actionable and confidence are required; pointers distinguish absent from
// zero-valued.
type classifierResponse struct {
	Actionable  *bool    `json:"actionable"`
	Confidence  *float64 `json:"confidence"`
	IssueType   string   `json:"issue_type"`
	Priority    string   `json:"priority"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Rationale   string   `json:"rationale"`
}

// parseResponse validates raw model output against the response schema. Any
// schema failure is a non-retryable validation error carrying the raw text
// for diagnosis.
func parseResponse(raw string) (*models.ClassificationResult, error) {
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return nil, validationError("no JSON object found in response", raw)
	}

	var resp classifierResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		// One repair pass before giving up; models truncate and add
		// trailing commas often enough to make this worthwhile.
		repaired, repairErr := jsonrepair.JSONRepair(jsonStr)
		if repairErr != nil {
			return nil, validationError(fmt.Sprintf("invalid JSON: %v", err), raw)
		}
		if err := json.Unmarshal([]byte(repaired), &resp); err != nil {
			return nil, validationError(fmt.Sprintf("invalid JSON after repair: %v", err), raw)
		}
	}

	if resp.Actionable == nil {
		return nil, validationError("missing required field: actionable", raw)
	}
	if resp.Confidence == nil {
		return nil, validationError("missing required field: confidence", raw)
	}
	if *resp.Confidence < 0 || *resp.Confidence > 1 {
		return nil, validationError(fmt.Sprintf("confidence %v outside [0,1]", *resp.Confidence), raw)
	}

	return &models.ClassificationResult{
		Actionable:  *resp.Actionable,
		Confidence:  *resp.Confidence,
		IssueType:   resp.IssueType,
		Priority:    resp.Priority,
		Summary:     resp.Summary,
		Description: resp.Description,
		Rationale:   resp.Rationale,
	}, nil
}

// extractJSON strips markdown code fences and surrounding prose, returning
// the outermost JSON object.
func extractJSON(response string) string {
	trimmed := strings.TrimSpace(response)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return trimmed[start : end+1]
}
