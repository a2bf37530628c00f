package domain

import "errors"

// Stage identifies one of the three sequential registration forms.
type Stage string

const (
	Stage1 Stage = "stage1"
	Stage2 Stage = "stage2"
	Stage3 Stage = "stage3"
)

var ErrUnknownStage = errors.New("unknown stage")

// StageRule describes how the workflow treats a stage submission.
type StageRule struct {
	// RequiresIdentity is true when the caller must supply the identity
	// generated at stage 1. Stage 1 itself never carries one.
	RequiresIdentity bool

	// Completes is true for the final stage. Its successful submission
	// triggers the notification pipeline.
	Completes bool
}

var stageRules = map[Stage]StageRule{
	Stage1: {RequiresIdentity: false, Completes: false},
	Stage2: {RequiresIdentity: true, Completes: false},
	Stage3: {RequiresIdentity: true, Completes: true},
}

// ParseStage validates a stage name from the wire.
func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if _, ok := stageRules[stage]; !ok {
		return "", ErrUnknownStage
	}
	return stage, nil
}

// Rule returns the workflow rule for the stage. Unknown stages get the
// zero rule; callers are expected to have gone through ParseStage.
func (s Stage) Rule() StageRule {
	return stageRules[s]
}

// Stages lists all stages in workflow order.
func Stages() []Stage {
	return []Stage{Stage1, Stage2, Stage3}
}
