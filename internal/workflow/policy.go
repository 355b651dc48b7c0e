package workflow

import (
	"strings"

	"github.com/noah-isme/gatepass-api/internal/models"
	appErrors "github.com/noah-isme/gatepass-api/pkg/errors"
)

// Actor is the authenticated principal acting on a request.
type Actor struct {
	ID         string
	Role       models.Role
	Course     string
	RoomNumber string
}

// ActorFromClaims builds an Actor with a canonical role.
func ActorFromClaims(claims *models.JWTClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{
		ID:         claims.UserID,
		Role:       claims.Role.Canonical(),
		Course:     claims.Course,
		RoomNumber: claims.RoomNumber,
	}
}

var stageRoles = map[models.Stage][]models.Role{
	models.StageClassIncharge: {models.RoleTeacher, models.RoleClassIncharge},
	models.StageHOD:           {models.RoleHOD},
	models.StageDean:          {models.RoleDean},
	models.StageVC:            {models.RoleVC},
	models.StageWarden:        {models.RoleWarden},
	models.StageCompleted:     nil,
}

var assignedStages = map[models.Role]models.Stage{
	models.RoleTeacher:       models.StageClassIncharge,
	models.RoleClassIncharge: models.StageClassIncharge,
	models.RoleHOD:           models.StageHOD,
	models.RoleDean:          models.StageDean,
	models.RoleVC:            models.StageVC,
	models.RoleWarden:        models.StageWarden,
}

// stagePredicate adds a check beyond the role whitelist for a stage.
type stagePredicate func(actor Actor, req *models.GatePassRequest) error

var stagePredicates = map[models.Stage]stagePredicate{
	models.StageClassIncharge: requireMatchingCourse,
}

// CanUserActOnStage reports whether role is whitelisted for stage.
func CanUserActOnStage(role models.Role, stage models.Stage) bool {
	role = role.Canonical()
	for _, allowed := range stageRoles[stage] {
		if allowed == role {
			return true
		}
	}
	return false
}

// AssignedStage returns the stage an approver role monitors by default.
// Students and security have none.
func AssignedStage(role models.Role) (models.Stage, bool) {
	stage, ok := assignedStages[role.Canonical()]
	return stage, ok
}

// WardenOnlyActions reports whether the stage skips forwarding entirely.
func WardenOnlyActions(stage models.Stage) bool {
	return stage == models.StageWarden
}

// AuthorizeStageAction checks the role whitelist for the request's current
// stage followed by any extra predicate registered for that stage.
func AuthorizeStageAction(actor Actor, req *models.GatePassRequest) error {
	if req == nil {
		return appErrors.ErrNotFound
	}
	if !CanUserActOnStage(actor.Role, req.CurrentStage) {
		return appErrors.Clone(appErrors.ErrForbidden, "you are not authorized to act on this stage")
	}
	if predicate, ok := stagePredicates[req.CurrentStage]; ok {
		return predicate(actor, req)
	}
	return nil
}

// CanActOn reports whether actor may act on the request's current stage,
// including the per-stage predicate.
func CanActOn(actor Actor, req *models.GatePassRequest) bool {
	return AuthorizeStageAction(actor, req) == nil
}

func requireMatchingCourse(actor Actor, req *models.GatePassRequest) error {
	actorCourse := NormalizeCourse(actor.Course)
	if actorCourse == "" {
		return appErrors.ErrCourseRequired
	}
	if actorCourse != NormalizeCourse(StudentCourse(req)) {
		return appErrors.ErrCourseMismatch
	}
	return nil
}

// StudentCourse prefers the snapshot captured on the request and falls back
// to the live student profile.
func StudentCourse(req *models.GatePassRequest) string {
	if req == nil {
		return ""
	}
	if strings.TrimSpace(req.StudentCourse) != "" {
		return req.StudentCourse
	}
	if req.Student != nil {
		return req.Student.Course
	}
	return ""
}

// NormalizeCourse trims and upper-cases a course code for comparison.
func NormalizeCourse(course string) string {
	return strings.ToUpper(strings.TrimSpace(course))
}
