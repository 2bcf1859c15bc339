package branching

import (
	"sort"
	"strconv"

	"surveyflow/internal/model"
)

// Snapshot is everything needed to rebuild a participation's flow state.
// It must not change while a reconstruction runs.
type Snapshot struct {
	Participation model.Participation
	Answers       []model.SavedAnswer
	Rules         []model.LogicRule
	Questions     []model.Question
}

// Reconstructor rebuilds flow state by replaying saved answers through the
// rule set. Nothing is cached between calls.
type Reconstructor struct {
	resolver *Resolver
}

func NewReconstructor(resolver *Resolver) *Reconstructor {
	if resolver == nil {
		resolver = NewResolver(nil)
	}
	return &Reconstructor{resolver: resolver}
}

// Reconstruct derives the flow state for s. The result depends only on s.
func (rc *Reconstructor) Reconstruct(s Snapshot) model.SurveyFlowState {
	p := s.Participation
	rules := ActiveRules(s.Rules)

	saved := make(map[int64]string, len(s.Answers))
	completed := make([]int64, 0, len(s.Answers))
	seen := make(map[int64]bool, len(s.Answers))
	for _, a := range s.Answers {
		saved[a.QuestionID] = a.AnswerValue
		if !seen[a.QuestionID] {
			seen[a.QuestionID] = true
			completed = append(completed, a.QuestionID)
		}
	}

	visibility := map[int64]bool{}
	path := []model.ConditionalPathStep{}

	for _, a := range s.Answers {
		res := rc.resolver.Evaluate(a.QuestionID, a.AnswerValue, rules, saved)
		if res.IsError {
			continue
		}
		for _, action := range res.Actions {
			applyVisibility(visibility, action)
			path = append(path, model.ConditionalPathStep{
				QuestionID:  a.QuestionID,
				Response:    a.AnswerValue,
				ActionTaken: action.Type,
				Timestamp:   a.AnsweredAt,
				Metadata:    stepMetadata(action),
			})
		}
	}

	return model.SurveyFlowState{
		ParticipationID:    p.ID,
		SurveyID:           p.SurveyID,
		CurrentSectionID:   p.CurrentSectionID,
		CurrentQuestionID:  p.CurrentQuestionID,
		CompletedQuestions: completed,
		AvailableQuestions: availableIn(p.CurrentSectionID, s.Questions, visibility),
		ConditionalPath:    path,
		IsComplete:         p.IsComplete,
		LastUpdated:        p.UpdatedAt,
	}
}

func applyVisibility(visibility map[int64]bool, action model.BranchingAction) {
	switch action.Type {
	case model.ActionShowQuestion:
		if t, ok := action.Target.(model.QuestionTarget); ok {
			visibility[t.QuestionID] = true
		}
	case model.ActionHideQuestion:
		if t, ok := action.Target.(model.QuestionTarget); ok {
			visibility[t.QuestionID] = false
		}
	case model.ActionShowQuestions:
		if t, ok := action.Target.(model.QuestionsTarget); ok {
			for _, id := range t.QuestionIDs {
				visibility[id] = true
			}
		}
	}
}

func stepMetadata(action model.BranchingAction) map[string]string {
	md := map[string]string{}
	if id, ok := action.Metadata["ruleId"]; ok {
		md["ruleId"] = id
	}
	switch t := action.Target.(type) {
	case model.QuestionTarget:
		md["targetQuestionId"] = strconv.FormatInt(t.QuestionID, 10)
	case model.SectionTarget:
		md["targetSectionId"] = strconv.FormatInt(t.SectionID, 10)
	case model.QuestionsTarget:
		md["targetQuestionIds"] = joinIDs(t.QuestionIDs)
	}
	if action.Message != "" {
		md["message"] = action.Message
	}
	return md
}

func availableIn(sectionID *int64, questions []model.Question, visibility map[int64]bool) []int64 {
	out := []int64{}
	if sectionID == nil {
		return out
	}

	inSection := make([]model.Question, 0)
	for _, q := range questions {
		if q.SectionID == *sectionID {
			inSection = append(inSection, q)
		}
	}
	sortQuestions(inSection)

	for _, q := range inSection {
		visible, overridden := visibility[q.ID]
		if !overridden {
			visible = !q.HiddenByDefault
		}
		if visible {
			out = append(out, q.ID)
		}
	}
	return out
}

func sortQuestions(qs []model.Question) {
	sort.SliceStable(qs, func(i, j int) bool {
		if qs[i].Position != qs[j].Position {
			return qs[i].Position < qs[j].Position
		}
		return qs[i].ID < qs[j].ID
	})
}

func joinIDs(ids []int64) string {
	b := make([]byte, 0, len(ids)*4)
	for i, id := range ids {
		if i > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendInt(b, id, 10)
	}
	return string(b)
}
