package models

import "time"

// TicketStatus is the creation state of a ticket for one fingerprint.
type TicketStatus string

const (
	TicketPending TicketStatus = "Pending"
	TicketCreated TicketStatus = "Created"
	TicketFailed  TicketStatus = "Failed"
)

// TicketRecord is the dedupe store entry for one fingerprint. At most one
// record per fingerprint ever transitions to Created, and once Created the
// ticket key is immutable.
type TicketRecord struct {
	Fingerprint     Fingerprint  `json:"fingerprint"`
	TicketKey       string       `json:"ticket_key,omitempty"`
	Status          TicketStatus `json:"status"`
	FailReason      string       `json:"fail_reason,omitempty"`
	NotifiedThread  bool         `json:"notified_thread"`
	NotifiedChannel bool         `json:"notified_channel"`
	CreatedAt       time.Time    `json:"created_at"`
}

// TicketRequest is everything the issue tracker needs to create one ticket.
type TicketRequest struct {
	ProjectKey  string
	IssueType   IssueType
	Priority    Priority
	Summary     string
	Description string
}
