package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseStage_Valid(t *testing.T) {
	for _, name := range []string{"stage1", "stage2", "stage3"} {
		stage, err := ParseStage(name)
		if err != nil {
			t.Fatalf("ParseStage(%q) error: %v", name, err)
		}
		if string(stage) != name {
			t.Errorf("ParseStage(%q) = %q", name, stage)
		}
	}
}

func TestParseStage_Unknown(t *testing.T) {
	for _, name := range []string{"", "stage4", "Stage1", "stage 1"} {
		if _, err := ParseStage(name); err != ErrUnknownStage {
			t.Errorf("ParseStage(%q) err = %v, want ErrUnknownStage", name, err)
		}
	}
}

func TestStageRules(t *testing.T) {
	if Stage1.Rule().RequiresIdentity {
		t.Error("stage 1 must not require an identity")
	}
	if !Stage2.Rule().RequiresIdentity || !Stage3.Rule().RequiresIdentity {
		t.Error("stages 2 and 3 must require an identity")
	}
	if Stage1.Rule().Completes || Stage2.Rule().Completes {
		t.Error("only stage 3 completes a registration")
	}
	if !Stage3.Rule().Completes {
		t.Error("stage 3 must complete the registration")
	}
}

func TestRecord_Complete(t *testing.T) {
	rec := Record{Stages: map[Stage]json.RawMessage{
		Stage1: json.RawMessage(`{}`),
	}}
	if rec.Complete() {
		t.Error("record with one stage must not be complete")
	}

	rec.Stages[Stage2] = json.RawMessage(`{}`)
	rec.Stages[Stage3] = json.RawMessage(`{}`)
	if !rec.Complete() {
		t.Error("record with all stages must be complete")
	}
}

func TestRecord_LastActivity(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := Record{CreatedAt: created}
	if got := rec.LastActivity(); !got.Equal(created) {
		t.Errorf("LastActivity = %v, want created_at", got)
	}

	updated := created.Add(time.Hour)
	rec.LastUpdatedAt = &updated
	if got := rec.LastActivity(); !got.Equal(updated) {
		t.Errorf("LastActivity = %v, want last_updated_at", got)
	}
}

func TestRecord_CloneIsDeep(t *testing.T) {
	updated := time.Now().UTC()
	rec := Record{
		Identity:      uuid.New(),
		CreatedAt:     updated.Add(-time.Hour),
		LastUpdatedAt: &updated,
		Stages: map[Stage]json.RawMessage{
			Stage1: json.RawMessage(`{"email":"a@x.com"}`),
		},
	}

	clone := rec.Clone()
	clone.Stages[Stage2] = json.RawMessage(`{}`)
	clone.Stages[Stage1][2] = 'X'

	if rec.Has(Stage2) {
		t.Error("mutating clone stages leaked into original")
	}
	if string(rec.Stages[Stage1]) != `{"email":"a@x.com"}` {
		t.Error("mutating clone payload leaked into original")
	}
}
