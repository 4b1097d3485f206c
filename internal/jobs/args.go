package jobs

import (
	"github.com/google/uuid"
)

// AccountActivatedArgs is enqueued in the same transaction that redeems an
// invite. It carries only the account id; invite tokens never enter job args.
type AccountActivatedArgs struct {
	AccountID uuid.UUID `json:"account_id"`
}

func (AccountActivatedArgs) Kind() string { return "account_activated" }

// StatusSweepArgs triggers a rewrite of cached statuses for lapsed invites.
type StatusSweepArgs struct{}

func (StatusSweepArgs) Kind() string { return "account_status_sweep" }
