package ports

import "context"

// ApprovalSource models the change-set approval exchange abstractly
// (spec §9 "Change-set approval flow"): the executor asks a question, the
// source answers, decoupled from any particular TTY. A terminal prompt and
// an automated test responder both implement this.
type ApprovalSource interface {
	Approve(ctx context.Context, summary ChangeSetSummary) (approved bool, err error)
}
