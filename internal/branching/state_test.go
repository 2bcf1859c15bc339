package branching

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveyflow/internal/model"
)

func stateSnapshot() Snapshot {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	showPets := rule(1, 1, 1, "Equals", "Yes", "ShowQuestion")
	showPets.TargetQuestionID = id(2)
	hideIncome := rule(2, 1, 2, "Equals", "Yes", "HideQuestion")
	hideIncome.TargetQuestionID = id(4)
	showIncome := rule(3, 3, 1, "GreaterThan", "17", "ShowQuestion")
	showIncome.TargetQuestionID = id(4)

	return Snapshot{
		Participation: model.Participation{
			ID:                42,
			SurveyID:          7,
			CurrentSectionID:  id(1),
			CurrentQuestionID: id(3),
			UpdatedAt:         base.Add(time.Hour),
		},
		Answers: []model.SavedAnswer{
			{QuestionID: 1, AnswerValue: "Yes", AnsweredAt: base},
			{QuestionID: 3, AnswerValue: "30", AnsweredAt: base.Add(time.Minute)},
		},
		Rules: []model.LogicRule{showPets, hideIncome, showIncome},
		Questions: []model.Question{
			{ID: 1, SectionID: 1, Position: 1},
			{ID: 2, SectionID: 1, Position: 2, HiddenByDefault: true},
			{ID: 3, SectionID: 1, Position: 3},
			{ID: 4, SectionID: 1, Position: 4},
			{ID: 5, SectionID: 1, Position: 5, HiddenByDefault: true},
			{ID: 6, SectionID: 2, Position: 1},
		},
	}
}

func TestReconstructor_ReplaysVisibility(t *testing.T) {
	state := NewReconstructor(nil).Reconstruct(stateSnapshot())

	assert.Equal(t, int64(42), state.ParticipationID)
	assert.Equal(t, int64(7), state.SurveyID)
	assert.Equal(t, []int64{1, 3}, state.CompletedQuestions)
	// 2 shown by Q1, 4 hidden by Q1 then shown again by Q3, 5 hidden by default.
	assert.Equal(t, []int64{1, 2, 3, 4}, state.AvailableQuestions)
	assert.False(t, state.IsComplete)
}

func TestReconstructor_RecordsPathInAnswerOrder(t *testing.T) {
	snap := stateSnapshot()
	state := NewReconstructor(nil).Reconstruct(snap)

	require.Len(t, state.ConditionalPath, 3)
	assert.Equal(t, int64(1), state.ConditionalPath[0].QuestionID)
	assert.Equal(t, model.ActionShowQuestion, state.ConditionalPath[0].ActionTaken)
	assert.Equal(t, "2", state.ConditionalPath[0].Metadata["targetQuestionId"])
	assert.Equal(t, model.ActionHideQuestion, state.ConditionalPath[1].ActionTaken)
	assert.Equal(t, int64(3), state.ConditionalPath[2].QuestionID)
	assert.Equal(t, "30", state.ConditionalPath[2].Response)
	assert.Equal(t, snap.Answers[1].AnsweredAt, state.ConditionalPath[2].Timestamp)
}

func TestReconstructor_IsIdempotent(t *testing.T) {
	rc := NewReconstructor(nil)
	snap := stateSnapshot()

	first := rc.Reconstruct(snap)
	second := rc.Reconstruct(snap)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("reconstruction not idempotent (-first +second):\n%s", diff)
	}
	assert.Equal(t, snap.Participation.UpdatedAt, first.LastUpdated)
}

func TestReconstructor_LaterEffectOverridesEarlier(t *testing.T) {
	snap := stateSnapshot()
	// Answer Q3 first so the hide from Q1 lands last.
	snap.Answers[0], snap.Answers[1] = snap.Answers[1], snap.Answers[0]

	state := NewReconstructor(nil).Reconstruct(snap)

	assert.Equal(t, []int64{3, 1}, state.CompletedQuestions)
	assert.Equal(t, []int64{1, 2, 3}, state.AvailableQuestions)
}

func TestReconstructor_DuplicateAnswersCountOnce(t *testing.T) {
	snap := stateSnapshot()
	snap.Answers = append(snap.Answers, model.SavedAnswer{QuestionID: 1, AnswerValue: "No", AnsweredAt: time.Now()})

	state := NewReconstructor(nil).Reconstruct(snap)

	assert.Equal(t, []int64{1, 3}, state.CompletedQuestions)
}

func TestReconstructor_NoCurrentSection(t *testing.T) {
	snap := stateSnapshot()
	snap.Participation.CurrentSectionID = nil
	snap.Participation.IsComplete = true

	state := NewReconstructor(nil).Reconstruct(snap)

	assert.Empty(t, state.AvailableQuestions)
	assert.NotNil(t, state.AvailableQuestions)
	assert.True(t, state.IsComplete)
}

func TestReconstructor_SkipsErroredEvaluations(t *testing.T) {
	snap := stateSnapshot()
	snap.Rules = append(snap.Rules, rule(9, 3, 0, "Equals", "30", "Teleport"))

	state := NewReconstructor(nil).Reconstruct(snap)

	// Q3's rules now fail as a whole, so 4 stays hidden from Q1.
	assert.Equal(t, []int64{1, 2, 3}, state.AvailableQuestions)
	require.Len(t, state.ConditionalPath, 2)
}
