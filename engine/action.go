package engine

// Action names every command the engine accepts. The authorizer and the
// audit log both key off these.
type Action string

const (
	ActionReport               Action = "report"
	ActionVerify               Action = "verify"
	ActionAdvanceQuorum        Action = "quorum_advance"
	ActionSubmitMinistryAction Action = "submit_ministry_action"
	ActionOpenConfirmation     Action = "open_confirmation"
	ActionConfirmSolution      Action = "confirm_solution"
	ActionAutoArchive          Action = "auto_archive"
	ActionReopen               Action = "reopen"
	ActionClaimForAid          Action = "claim_for_aid"
	ActionToggleCrisisMode     Action = "toggle_crisis_mode"
	ActionOverrideSLA          Action = "override_sla"
)
