package branching

import (
	"sort"
	"strconv"
	"strings"

	"surveyflow/internal/model"
)

// Condition is a parsed rule condition
type Condition struct {
	Type   model.ConditionType
	Value  string
	Value2 string
}

// ParseConditionType maps free text onto the closed set of condition types.
// Matching ignores case and surrounding whitespace.
func ParseConditionType(s string) (model.ConditionType, bool) {
	s = strings.TrimSpace(s)
	for _, ct := range model.ConditionTypes {
		if strings.EqualFold(s, string(ct)) {
			return ct, true
		}
	}
	return "", false
}

// ParseActionType maps free text onto the closed set of action types.
func ParseActionType(s string) (model.ActionType, bool) {
	s = strings.TrimSpace(s)
	for _, at := range model.ActionTypes {
		if strings.EqualFold(s, string(at)) {
			return at, true
		}
	}
	return "", false
}

// ConditionOf parses the condition part of a rule.
func ConditionOf(r model.LogicRule) (Condition, error) {
	ct, ok := ParseConditionType(r.ConditionType)
	if !ok {
		return Condition{}, configErr(r.ID, "unknown condition type %q", r.ConditionType)
	}
	return Condition{Type: ct, Value: r.ConditionValue, Value2: r.ConditionValue2}, nil
}

// ActionOf builds the action a rule produces when it matches. The target
// variant is chosen by the action type; the other target fields are ignored.
func ActionOf(r model.LogicRule) (model.BranchingAction, error) {
	at, ok := ParseActionType(r.ActionType)
	if !ok {
		return model.NoAction, configErr(r.ID, "unknown action type %q", r.ActionType)
	}

	target, err := targetOf(r, at)
	if err != nil {
		return model.NoAction, err
	}

	return model.BranchingAction{
		Type:    at,
		Target:  target,
		Message: r.Message,
		Metadata: map[string]string{
			"ruleId":        strconv.FormatInt(r.ID, 10),
			"logicType":     r.LogicType,
			"conditionType": r.ConditionType,
		},
	}, nil
}

func targetOf(r model.LogicRule, at model.ActionType) (model.Target, error) {
	switch at {
	case model.ActionShowQuestion, model.ActionHideQuestion, model.ActionSkipToQuestion:
		if r.TargetQuestionID == nil {
			return nil, configErr(r.ID, "%s requires targetQuestionId", at)
		}
		return model.QuestionTarget{QuestionID: *r.TargetQuestionID}, nil
	case model.ActionShowQuestions:
		if len(r.TargetQuestionIDs) == 0 {
			return nil, configErr(r.ID, "%s requires targetQuestionIds", at)
		}
		ids := make([]int64, len(r.TargetQuestionIDs))
		copy(ids, r.TargetQuestionIDs)
		return model.QuestionsTarget{QuestionIDs: ids}, nil
	case model.ActionJumpToSection:
		if r.TargetSectionID == nil {
			return nil, configErr(r.ID, "%s requires targetSectionId", at)
		}
		return model.SectionTarget{SectionID: *r.TargetSectionID}, nil
	default:
		return model.NoTarget{}, nil
	}
}

// checkTargets reports target fields that do not belong to the action type.
func checkTargets(r model.LogicRule, at model.ActionType) error {
	var extra []string
	switch at {
	case model.ActionShowQuestion, model.ActionHideQuestion, model.ActionSkipToQuestion:
		if len(r.TargetQuestionIDs) > 0 {
			extra = append(extra, "targetQuestionIds")
		}
		if r.TargetSectionID != nil {
			extra = append(extra, "targetSectionId")
		}
	case model.ActionShowQuestions:
		if r.TargetQuestionID != nil {
			extra = append(extra, "targetQuestionId")
		}
		if r.TargetSectionID != nil {
			extra = append(extra, "targetSectionId")
		}
	case model.ActionJumpToSection:
		if r.TargetQuestionID != nil {
			extra = append(extra, "targetQuestionId")
		}
		if len(r.TargetQuestionIDs) > 0 {
			extra = append(extra, "targetQuestionIds")
		}
	}
	if len(extra) > 0 {
		return configErr(r.ID, "%s does not take %s", at, strings.Join(extra, ", "))
	}
	return nil
}

// ActiveRulesFor returns the active rules attached to questionID in
// ascending order. Rules with equal order keep their input order.
func ActiveRulesFor(questionID int64, rules []model.LogicRule) []model.LogicRule {
	out := make([]model.LogicRule, 0, len(rules))
	for _, r := range rules {
		if r.QuestionID == questionID && r.IsActive {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

// ActiveRules drops inactive rules, keeping input order.
func ActiveRules(rules []model.LogicRule) []model.LogicRule {
	out := make([]model.LogicRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out
}
