package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gatepass-api/internal/models"
)

// 2025-03-03 is a Monday.
func at(day, hour, min, sec int) time.Time {
	return time.Date(2025, 3, day, hour, min, sec, 0, time.UTC)
}

func TestDetermineInitialStage(t *testing.T) {
	cases := []struct {
		name string
		out  time.Time
		want models.Stage
	}{
		{"monday morning", at(3, 10, 0, 0), models.StageClassIncharge},
		{"opening bell", at(3, 9, 0, 0), models.StageClassIncharge},
		{"before opening", at(3, 8, 59, 59), models.StageWarden},
		{"friday afternoon", at(7, 15, 59, 59), models.StageClassIncharge},
		{"closing exactly", at(5, 16, 0, 0), models.StageClassIncharge},
		{"one second past closing", at(5, 16, 0, 1), models.StageWarden},
		{"one minute past closing", at(5, 16, 1, 0), models.StageWarden},
		{"evening", at(4, 20, 0, 0), models.StageWarden},
		{"saturday morning", at(8, 10, 0, 0), models.StageWarden},
		{"sunday noon", at(9, 12, 0, 0), models.StageWarden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stage, err := DetermineInitialStage(tc.out)
			require.NoError(t, err)
			assert.Equal(t, tc.want, stage)
		})
	}
}

func TestDetermineInitialStageUsesTimeLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	// 05:00 UTC Monday is 10:30 IST.
	out := time.Date(2025, 3, 3, 5, 0, 0, 0, time.UTC)

	stage, err := DetermineInitialStage(out)
	require.NoError(t, err)
	assert.Equal(t, models.StageWarden, stage)

	stage, err = DetermineInitialStage(out.In(loc))
	require.NoError(t, err)
	assert.Equal(t, models.StageClassIncharge, stage)
}

func TestDetermineInitialStageRejectsZeroTime(t *testing.T) {
	_, err := DetermineInitialStage(time.Time{})
	require.ErrorIs(t, err, ErrInvalidOutTime)
}

func TestDetermineNextStageWalksAcademicChain(t *testing.T) {
	stage := models.StageClassIncharge
	var visited []models.Stage
	for {
		next, ok := DetermineNextStage(stage)
		if !ok {
			break
		}
		visited = append(visited, next)
		stage = next
	}
	assert.Equal(t, []models.Stage{models.StageHOD, models.StageDean, models.StageVC}, visited)

	for _, terminal := range []models.Stage{models.StageVC, models.StageWarden, models.StageCompleted, models.Stage("unknown")} {
		_, ok := DetermineNextStage(terminal)
		assert.False(t, ok, "stage %s should not forward", terminal)
	}
}

func TestAcademicChainIsACopy(t *testing.T) {
	chain := AcademicChain()
	chain[0] = models.StageWarden
	assert.Equal(t, models.StageClassIncharge, AcademicChain()[0])
}
