// Package workflow holds the pure rules of the gate pass approval chain: where a
// request enters, where it goes next, and who may act on it.
package workflow

import (
	"errors"
	"time"

	"github.com/noah-isme/gatepass-api/internal/models"
)

// ErrInvalidOutTime is returned when the departure time is unset.
var ErrInvalidOutTime = errors.New("workflow: out time is required")

const (
	workdayStartHour = 9
	workdayEndHour   = 16
)

// academicChain is the ordered forwarding sequence for daytime requests.
var academicChain = []models.Stage{
	models.StageClassIncharge,
	models.StageHOD,
	models.StageDean,
	models.StageVC,
}

var nextStage = buildNextStage(academicChain)

func buildNextStage(chain []models.Stage) map[models.Stage]models.Stage {
	next := make(map[models.Stage]models.Stage, len(chain))
	for i := 0; i+1 < len(chain); i++ {
		next[chain[i]] = chain[i+1]
	}
	return next
}

// DetermineInitialStage routes working-hour requests (Mon-Fri, 09:00 through
// 16:00:00) to the class incharge and everything else to the warden. outTime
// is evaluated in its own location; callers convert to campus time first.
func DetermineInitialStage(outTime time.Time) (models.Stage, error) {
	if outTime.IsZero() {
		return "", ErrInvalidOutTime
	}
	if withinWorkingHours(outTime) {
		return models.StageClassIncharge, nil
	}
	return models.StageWarden, nil
}

func withinWorkingHours(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	hour := t.Hour()
	if hour < workdayStartHour || hour > workdayEndHour {
		return false
	}
	if hour == workdayEndHour {
		return t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
	}
	return true
}

// DetermineNextStage returns the stage following current in the academic
// chain. The last chain stage, warden, and completed have no successor.
func DetermineNextStage(current models.Stage) (models.Stage, bool) {
	next, ok := nextStage[current]
	return next, ok
}

// AcademicChain returns a copy of the forwarding sequence.
func AcademicChain() []models.Stage {
	return append([]models.Stage(nil), academicChain...)
}
