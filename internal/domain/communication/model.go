// Package communication implements the asynchronous message channel:
// polling the clearinghouse for payer messages tied to claims and
// authorizations, and tracking each message through its read lifecycle.
package communication

import (
	"time"

	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

// Status is the message handling state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRead      Status = "read"
	StatusProcessed Status = "processed"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusRead},
	StatusRead:    {StatusProcessed},
}

// Communication is one inbound payer message. AboutID names the claim or
// authorization it concerns.
type Communication struct {
	ID         string    `json:"id"`
	AboutID    string    `json:"about_id,omitempty"`
	Category   string    `json:"category,omitempty"`
	Payload    string    `json:"payload,omitempty"`
	Status     Status    `json:"status"`
	ReceivedAt time.Time `json:"received_at"`
}

func (c *Communication) transition(to Status, op string) error {
	for _, s := range transitions[c.Status] {
		if s == to {
			c.Status = to
			return nil
		}
	}
	return &nphies.InvalidStateError{Entity: "communication " + c.ID, From: string(c.Status), Op: op}
}
