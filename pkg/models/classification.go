package models

// IssueType is a recognized issue-tracker issue type.
type IssueType string

const (
	IssueTypeBug         IssueType = "Bug"
	IssueTypeTask        IssueType = "Task"
	IssueTypeStory       IssueType = "Story"
	IssueTypeImprovement IssueType = "Improvement"
)

// ParseIssueType maps a free-form classifier string onto a recognized issue
// type. The second return is false when the value is missing or unrecognized.
func ParseIssueType(s string) (IssueType, bool) {
	switch IssueType(s) {
	case IssueTypeBug, IssueTypeTask, IssueTypeStory, IssueTypeImprovement:
		return IssueType(s), true
	}
	return "", false
}

// Priority is a recognized issue-tracker priority.
type Priority string

const (
	PriorityHighest Priority = "Highest"
	PriorityHigh    Priority = "High"
	PriorityMedium  Priority = "Medium"
	PriorityLow     Priority = "Low"
	PriorityLowest  Priority = "Lowest"
)

// ParsePriority maps a free-form classifier string onto a recognized priority.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityHighest, PriorityHigh, PriorityMedium, PriorityLow, PriorityLowest:
		return Priority(s), true
	}
	return "", false
}

// ClassificationResult is the validated output of the AI classification
// service for one fingerprint. It is a pure function of the message text and
// context, so recomputing it on retry is safe.
type ClassificationResult struct {
	Actionable  bool
	IssueType   string // raw classifier value, normalized by the decision policy
	Priority    string // raw classifier value, normalized by the decision policy
	Confidence  float64
	Summary     string
	Description string
	Rationale   string
}

// MessageContext carries the surrounding context the classifier sees alongside
// the message itself.
type MessageContext struct {
	ChannelName   string
	AuthorName    string
	ThreadParent  string // text of the thread root when the message is a reply
	Permalink     string
	DetectionMode string
}
