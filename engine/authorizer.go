package engine

import "civicflow-be/models"

// Authorize applies the role/action matrix. issue may be nil for actions
// that are not scoped to one issue (report, crisis toggle). A nil return
// means the action is permitted; otherwise the error is a *ForbiddenError
// carrying the specific reason.
//
// The matrix:
//   - report: citizen or admin
//   - verify: citizen (the account-class check happens at the operation,
//     where the richer error lives)
//   - confirm_solution: citizen, or the issue's original reporter whatever
//     their role — an admin-reported issue must stay confirmable
//   - submit_ministry_action: government actor whose authority matches the
//     issue's tagged authority
//   - claim_for_aid: ngo
//   - toggle_crisis_mode, reopen, override_sla: admin
func Authorize(actor Actor, action Action, issue *models.Issue) error {
	if actor.Suspended {
		return Forbidden(action, ReasonSuspendedAccount)
	}

	switch action {
	case ActionReport:
		if actor.Role == models.RoleCitizen || actor.Role == models.RoleAdmin {
			return nil
		}
		return Forbidden(action, ReasonWrongRole)

	case ActionVerify:
		if actor.Role == models.RoleCitizen {
			return nil
		}
		return Forbidden(action, ReasonWrongRole)

	case ActionConfirmSolution:
		if actor.Role == models.RoleCitizen {
			return nil
		}
		if issue != nil && actor.ID == issue.ReportedBy {
			return nil
		}
		return Forbidden(action, ReasonWrongRole)

	case ActionSubmitMinistryAction:
		// Authority mismatch is reported before role: acting on an issue
		// tagged to someone else's authority is NotAssigned no matter who
		// asks.
		if issue != nil && (actor.Authority == "" || actor.Authority != issue.TaggedAuthority) {
			return Forbidden(action, ReasonNotAssigned)
		}
		if actor.Role != models.RoleGovernment {
			return Forbidden(action, ReasonWrongRole)
		}
		return nil

	case ActionClaimForAid:
		if actor.Role == models.RoleNGO {
			return nil
		}
		return Forbidden(action, ReasonWrongRole)

	case ActionToggleCrisisMode, ActionReopen, ActionOverrideSLA:
		if actor.Role == models.RoleAdmin {
			return nil
		}
		return Forbidden(action, ReasonNotAdmin)
	}

	return Forbidden(action, ReasonWrongRole)
}
