package engine

import "civicflow-be/models"

// stageOrder is the fixed lifecycle sequence. An issue's visited stages are
// always a prefix of this list, restarted at Community Verification on an
// admin reopen.
var stageOrder = []models.Stage{
	models.StagePosted,
	models.StageCommunityVerification,
	models.StageMinistryAction,
	models.StageSolutionSubmitted,
	models.StageSolutionConfirmation,
	models.StageArchived,
}

// StageIndex returns the position of a stage in the lifecycle, or -1 for an
// unknown stage.
func StageIndex(s models.Stage) int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// NextStage returns the single legal forward stage. The second return is
// false for Archived (terminal) and unknown stages.
func NextStage(s models.Stage) (models.Stage, bool) {
	i := StageIndex(s)
	if i < 0 || i == len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[i+1], true
}

// Terminal reports whether s is the terminal stage.
func Terminal(s models.Stage) bool {
	return s == models.StageArchived
}

// Stages returns the lifecycle sequence in order, for progress rendering.
func Stages() []models.Stage {
	out := make([]models.Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}
