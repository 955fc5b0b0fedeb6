package accred

// Action is a lifecycle trigger on a credential.
type Action string

const (
	ActionSubmit        Action = "submit"
	ActionResubmit      Action = "resubmit"
	ActionReturnToDraft Action = "return_to_draft"
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionRevoke        Action = "revoke"
)

// transition is one legal edge in the lifecycle.
type transition struct {
	from   Status
	action Action
}

// transitions is the complete legality table. Rejected and revoked loop back
// to pending via resubmission; there is no separate resubmission sub-state.
var transitions = map[transition]Status{
	{StatusDraft, ActionSubmit}:            StatusPending,
	{StatusRejected, ActionResubmit}:       StatusPending,
	{StatusRevoked, ActionResubmit}:        StatusPending,
	{StatusPending, ActionReturnToDraft}:   StatusDraft,
	{StatusPending, ActionApprove}:         StatusApproved,
	{StatusPending, ActionReject}:          StatusRejected,
	{StatusApproved, ActionRevoke}:         StatusRevoked,
}

// NextStatus returns the status a credential in current moves to under
// action. Returns an InvalidTransitionError when the edge is not in the
// table; the state machine knows nothing about roles.
func NextStatus(current Status, action Action) (Status, error) {
	next, ok := transitions[transition{current, action}]
	if !ok {
		return "", &InvalidTransitionError{Current: current, Attempted: action}
	}
	return next, nil
}

// CanTransition reports whether action is legal from current.
func CanTransition(current Status, action Action) bool {
	_, ok := transitions[transition{current, action}]
	return ok
}
