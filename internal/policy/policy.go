// Package policy decides whether a classified message becomes a ticket. The
// decision is a pure function of the classification result and the configured
// threshold, so it can be recomputed freely and tested without any I/O.
package policy

import (
	"fmt"

	"github.com/triagebot/pkg/models"
)

// SkipReason explains why no ticket is created for a message.
type SkipReason string

const (
	SkipNotActionable  SkipReason = "not-actionable"
	SkipBelowThreshold SkipReason = "below-threshold"
)

// Verdict is the outcome of the decision policy for one classified message.
type Verdict struct {
	Create    bool
	IssueType models.IssueType // normalized, only meaningful when Create
	Priority  models.Priority  // normalized, only meaningful when Create
	Reason    SkipReason       // only meaningful when !Create
}

// Decide applies the confidence threshold to a classification result and
// normalizes the classifier's free-form enum values. The threshold comparison
// is inclusive: confidence equal to the threshold creates a ticket.
func Decide(result *models.ClassificationResult, threshold float64) Verdict {
	if !result.Actionable {
		return Verdict{Reason: SkipNotActionable}
	}
	if result.Confidence < threshold {
		return Verdict{Reason: SkipBelowThreshold}
	}

	issueType, ok := models.ParseIssueType(result.IssueType)
	if !ok {
		issueType = models.IssueTypeTask
	}
	priority, ok := models.ParsePriority(result.Priority)
	if !ok {
		priority = models.PriorityMedium
	}

	return Verdict{Create: true, IssueType: issueType, Priority: priority}
}

// String renders the verdict for logs.
func (v Verdict) String() string {
	if v.Create {
		return fmt.Sprintf("create %s/%s", v.IssueType, v.Priority)
	}
	return fmt.Sprintf("skip (%s)", v.Reason)
}
