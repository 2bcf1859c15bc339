package model

import "encoding/json"

// Target is the destination of a branching action. Exactly one concrete
// variant exists per action type.
type Target interface {
	isTarget()
}

// NoTarget is used by EndSurvey and Disqualify
type NoTarget struct{}

// QuestionTarget is used by ShowQuestion, HideQuestion and SkipToQuestion
type QuestionTarget struct {
	QuestionID int64
}

// QuestionsTarget is used by ShowQuestions
type QuestionsTarget struct {
	QuestionIDs []int64
}

// SectionTarget is used by JumpToSection
type SectionTarget struct {
	SectionID int64
}

func (NoTarget) isTarget()        {}
func (QuestionTarget) isTarget()  {}
func (QuestionsTarget) isTarget() {}
func (SectionTarget) isTarget()   {}

// BranchingAction is the resolved effect of a matched rule
type BranchingAction struct {
	Type     ActionType
	Target   Target
	Message  string
	Metadata map[string]string
}

// NoAction is returned alongside an error when a rule yields no action.
var NoAction = BranchingAction{Target: NoTarget{}}

type branchingActionJSON struct {
	ActionType        ActionType        `json:"actionType"`
	TargetQuestionID  *int64            `json:"targetQuestionId,omitempty"`
	TargetQuestionIDs []int64           `json:"targetQuestionIds"`
	TargetSectionID   *int64            `json:"targetSectionId,omitempty"`
	Message           string            `json:"message,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON flattens the target variant into the wire fields
func (a BranchingAction) MarshalJSON() ([]byte, error) {
	out := branchingActionJSON{
		ActionType:        a.Type,
		TargetQuestionIDs: []int64{},
		Message:           a.Message,
		Metadata:          a.Metadata,
	}
	switch t := a.Target.(type) {
	case QuestionTarget:
		id := t.QuestionID
		out.TargetQuestionID = &id
	case QuestionsTarget:
		out.TargetQuestionIDs = append(out.TargetQuestionIDs, t.QuestionIDs...)
	case SectionTarget:
		id := t.SectionID
		out.TargetSectionID = &id
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the target variant from the action type
func (a *BranchingAction) UnmarshalJSON(b []byte) error {
	var in branchingActionJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	a.Type = in.ActionType
	a.Message = in.Message
	a.Metadata = in.Metadata
	switch {
	case in.TargetQuestionID != nil:
		a.Target = QuestionTarget{QuestionID: *in.TargetQuestionID}
	case in.TargetSectionID != nil:
		a.Target = SectionTarget{SectionID: *in.TargetSectionID}
	case len(in.TargetQuestionIDs) > 0:
		a.Target = QuestionsTarget{QuestionIDs: in.TargetQuestionIDs}
	default:
		a.Target = NoTarget{}
	}
	return nil
}
