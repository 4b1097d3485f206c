package models

import (
	"time"

	"github.com/google/uuid"
)

// Account event types recorded in account_events.
const (
	EventInviteIssued    = "invite_issued"
	EventInviteRedeemed  = "invite_redeemed"
	EventAccountDisabled = "account_disabled"
	EventAccountEnabled  = "account_enabled"
)

type AccountEvent struct {
	ID        uuid.UUID  `json:"id"`
	AccountID uuid.UUID  `json:"account_id"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty"`
	EventType string     `json:"event_type"`
	CreatedAt time.Time  `json:"created_at"`
}
