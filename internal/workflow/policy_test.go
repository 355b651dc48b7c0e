package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gatepass-api/internal/models"
	appErrors "github.com/noah-isme/gatepass-api/pkg/errors"
)

func TestCanUserActOnStageAliases(t *testing.T) {
	assert.True(t, CanUserActOnStage(models.Role("teacher"), models.StageClassIncharge))
	assert.True(t, CanUserActOnStage(models.Role("classincharge"), models.StageClassIncharge))
	assert.True(t, CanUserActOnStage(models.Role("class_incharge"), models.StageClassIncharge))
	assert.True(t, CanUserActOnStage(models.Role("ClassIncharge"), models.StageClassIncharge))
	assert.False(t, CanUserActOnStage(models.Role("teacher"), models.StageHOD))
}

func TestCanUserActOnStageWhitelist(t *testing.T) {
	allRoles := []models.Role{
		models.RoleStudent, models.RoleTeacher, models.RoleClassIncharge, models.RoleHOD,
		models.RoleDean, models.RoleVC, models.RoleWarden, models.RoleSecurity,
	}
	allowed := map[models.Stage][]models.Role{
		models.StageClassIncharge: {models.RoleTeacher, models.RoleClassIncharge},
		models.StageHOD:           {models.RoleHOD},
		models.StageDean:          {models.RoleDean},
		models.StageVC:            {models.RoleVC},
		models.StageWarden:        {models.RoleWarden},
		models.StageCompleted:     {},
	}
	for stage, roles := range allowed {
		for _, role := range allRoles {
			want := false
			for _, r := range roles {
				if r == role {
					want = true
				}
			}
			assert.Equal(t, want, CanUserActOnStage(role, stage), "role=%s stage=%s", role, stage)
		}
	}
}

func TestAssignedStage(t *testing.T) {
	stage, ok := AssignedStage(models.Role("classincharge"))
	require.True(t, ok)
	assert.Equal(t, models.StageClassIncharge, stage)

	stage, ok = AssignedStage(models.RoleWarden)
	require.True(t, ok)
	assert.Equal(t, models.StageWarden, stage)

	_, ok = AssignedStage(models.RoleStudent)
	assert.False(t, ok)
	_, ok = AssignedStage(models.RoleSecurity)
	assert.False(t, ok)
}

func TestAuthorizeStageActionCourseScoping(t *testing.T) {
	req := &models.GatePassRequest{CurrentStage: models.StageClassIncharge, StudentCourse: " cse "}

	err := AuthorizeStageAction(Actor{ID: "t1", Role: models.RoleTeacher, Course: "CSE"}, req)
	require.NoError(t, err)

	err = AuthorizeStageAction(Actor{ID: "t1", Role: models.RoleClassIncharge}, req)
	require.ErrorIs(t, err, appErrors.ErrCourseRequired)

	err = AuthorizeStageAction(Actor{ID: "t1", Role: models.RoleClassIncharge, Course: "ECE"}, req)
	require.ErrorIs(t, err, appErrors.ErrCourseMismatch)

	err = AuthorizeStageAction(Actor{ID: "h1", Role: models.RoleHOD, Course: "CSE"}, req)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestAuthorizeStageActionFallsBackToLiveProfile(t *testing.T) {
	req := &models.GatePassRequest{
		CurrentStage: models.StageClassIncharge,
		Student:      &models.StudentSummary{ID: "s1", Course: "mech"},
	}
	require.NoError(t, AuthorizeStageAction(Actor{Role: models.RoleTeacher, Course: "MECH"}, req))
	assert.True(t, CanActOn(Actor{Role: models.RoleTeacher, Course: "MECH"}, req))
}

func TestAuthorizeStageActionSkipsCourseOutsideClassIncharge(t *testing.T) {
	req := &models.GatePassRequest{CurrentStage: models.StageHOD, StudentCourse: "CSE"}
	require.NoError(t, AuthorizeStageAction(Actor{Role: models.RoleHOD}, req))

	completed := &models.GatePassRequest{CurrentStage: models.StageCompleted}
	require.Error(t, AuthorizeStageAction(Actor{Role: models.RoleWarden}, completed))
}

func TestActorFromClaimsCanonicalizesRole(t *testing.T) {
	actor := ActorFromClaims(&models.JWTClaims{UserID: "u1", Role: models.Role("ClassInCharge"), Course: "CSE"})
	assert.Equal(t, models.RoleClassIncharge, actor.Role)
	assert.Equal(t, "u1", actor.ID)
}
