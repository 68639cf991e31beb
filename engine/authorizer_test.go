package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"civicflow-be/models"
)

func TestAuthorizeMatrix(t *testing.T) {
	issue := &models.Issue{TaggedAuthority: "water-board"}
	reporter := Actor{ID: primitive.NewObjectID(), Role: models.RoleAdmin, Verified: true}
	ownIssue := &models.Issue{ReportedBy: reporter.ID, TaggedAuthority: "water-board"}

	tests := []struct {
		name   string
		actor  Actor
		action Action
		issue  *models.Issue
		reason ForbiddenReason // empty means allowed
	}{
		{name: "citizen reports", actor: citizen(), action: ActionReport},
		{name: "admin reports", actor: admin(), action: ActionReport},
		{name: "government cannot report", actor: government("water-board"), action: ActionReport, reason: ReasonWrongRole},
		{name: "ngo cannot report", actor: ngo(), action: ActionReport, reason: ReasonWrongRole},

		{name: "citizen verifies", actor: citizen(), action: ActionVerify, issue: issue},
		{name: "admin cannot verify", actor: admin(), action: ActionVerify, issue: issue, reason: ReasonWrongRole},
		{name: "government cannot verify", actor: government("water-board"), action: ActionVerify, issue: issue, reason: ReasonWrongRole},

		{name: "citizen confirms", actor: citizen(), action: ActionConfirmSolution, issue: issue},
		{name: "ngo cannot confirm", actor: ngo(), action: ActionConfirmSolution, issue: issue, reason: ReasonWrongRole},
		{name: "non-citizen reporter confirms own issue", actor: reporter, action: ActionConfirmSolution, issue: ownIssue},
		{name: "other admin cannot confirm", actor: admin(), action: ActionConfirmSolution, issue: ownIssue, reason: ReasonWrongRole},

		{name: "assigned government submits", actor: government("water-board"), action: ActionSubmitMinistryAction, issue: issue},
		{name: "other authority is not assigned", actor: government("roads-dept"), action: ActionSubmitMinistryAction, issue: issue, reason: ReasonNotAssigned},
		{name: "citizen is not assigned", actor: citizen(), action: ActionSubmitMinistryAction, issue: issue, reason: ReasonNotAssigned},

		{name: "ngo claims", actor: ngo(), action: ActionClaimForAid, issue: issue},
		{name: "citizen cannot claim", actor: citizen(), action: ActionClaimForAid, issue: issue, reason: ReasonWrongRole},

		{name: "admin toggles crisis", actor: admin(), action: ActionToggleCrisisMode},
		{name: "government cannot toggle crisis", actor: government("water-board"), action: ActionToggleCrisisMode, reason: ReasonNotAdmin},
		{name: "admin reopens", actor: admin(), action: ActionReopen},
		{name: "citizen cannot reopen", actor: citizen(), action: ActionReopen, reason: ReasonNotAdmin},
		{name: "admin overrides sla", actor: admin(), action: ActionOverrideSLA},
		{name: "ngo cannot override sla", actor: ngo(), action: ActionOverrideSLA, reason: ReasonNotAdmin},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(tc.actor, tc.action, tc.issue)
			if tc.reason == "" {
				assert.NoError(t, err)
				return
			}
			fe, ok := IsForbidden(err)
			require.True(t, ok)
			assert.Equal(t, tc.reason, fe.Reason)
			assert.Equal(t, tc.action, fe.Action)
		})
	}
}

func TestAuthorizeSuspendedBeatsRole(t *testing.T) {
	root := admin()
	root.Suspended = true

	err := Authorize(root, ActionToggleCrisisMode, nil)
	fe, ok := IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonSuspendedAccount, fe.Reason)
}

func TestAuthorizeUnknownAction(t *testing.T) {
	err := Authorize(citizen(), Action("launch"), nil)
	_, ok := IsForbidden(err)
	assert.True(t, ok)
}
