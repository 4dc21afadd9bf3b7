package bulletin

import (
	"github.com/trezcool/masomo-bulletins/core"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusSent      Status = "sent" // terminal
)

var Statuses = []Status{StatusDraft, StatusSubmitted, StatusApproved, StatusSent}

func ParseStatus(s string) (Status, bool) {
	for _, st := range Statuses {
		if string(st) == core.CleanString(s, true /* lower */) {
			return st, true
		}
	}
	return "", false
}

func (s Status) IsTerminal() bool { return s == StatusSent }

type Action string

const (
	ActionDraft   Action = "draft"
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionDecide  Action = "decide"
	ActionSign    Action = "sign"
	ActionSend    Action = "send"
)

// Next returns the status reached by applying action to a bulletin in status from.
// It is the only place where lifecycle moves are decided: statuses only advance one step
// at a time and never move backward. Draft, decide, approve and sign may leave the status unchanged.
func Next(from Status, action Action) (Status, error) {
	switch {
	case from == StatusDraft && action == ActionDraft:
		return StatusDraft, nil
	case from == StatusDraft && action == ActionSubmit:
		return StatusSubmitted, nil
	case (from == StatusDraft || from == StatusSubmitted) && action == ActionDecide:
		return from, nil
	case from == StatusSubmitted && action == ActionApprove:
		return StatusApproved, nil
	case from == StatusApproved && action == ActionApprove:
		return StatusApproved, nil
	case from == StatusApproved && action == ActionSign:
		return StatusApproved, nil
	case from == StatusApproved && action == ActionSend:
		return StatusSent, nil
	}
	return from, core.NewTransitionError(string(from), string(action))
}
