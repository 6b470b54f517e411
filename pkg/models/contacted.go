package models

import "time"

// ContactedRecord is an append-only ledger row: recipient emailed about paper.
type ContactedRecord struct {
	RecipientEmail string    `json:"recipient_email"`
	PaperIdentity  string    `json:"paper_identity"`
	BatchID        string    `json:"batch_id,omitempty"`
	ContactedAt    time.Time `json:"contacted_at"`
}
