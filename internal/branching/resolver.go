package branching

import (
	"errors"
	"strconv"
	"strings"

	"surveyflow/internal/model"
)

// Resolver turns a question's rule set and an answer into branching actions.
type Resolver struct {
	eval *Evaluator
}

// NewResolver creates a resolver. A nil evaluator uses the package default.
func NewResolver(eval *Evaluator) *Resolver {
	if eval == nil {
		eval = defaultEvaluator
	}
	return &Resolver{eval: eval}
}

// Evaluate runs the active rules of questionID in ascending order against
// response. A matching EndSurvey or Disqualify stops evaluation; other
// matches accumulate in rule order. A configuration error anywhere aborts
// the whole evaluation and no actions are returned.
//
// saved holds previously saved answers keyed by question id and is only
// consulted by CrossQuestion conditions.
func (r *Resolver) Evaluate(questionID int64, response string, rules []model.LogicRule, saved map[int64]string) model.BranchingEvaluationResult {
	candidates := ActiveRulesFor(questionID, rules)

	result := model.BranchingEvaluationResult{
		Actions: []model.BranchingAction{},
		Metadata: map[string]string{
			"questionId": strconv.FormatInt(questionID, 10),
		},
	}

	evaluated := 0
	for _, rule := range candidates {
		evaluated++

		matched, err := r.ruleMatches(rule, response, saved)
		if err != nil {
			return failed(result, evaluated, err)
		}
		if !matched {
			continue
		}

		action, err := ActionOf(rule)
		if err != nil {
			return failed(result, evaluated, err)
		}
		result.Actions = append(result.Actions, action)

		if action.Type.IsTerminal() {
			break
		}
	}

	result.Metadata["rulesEvaluated"] = strconv.Itoa(evaluated)
	result.HasActions = len(result.Actions) > 0
	return result
}

func (r *Resolver) ruleMatches(rule model.LogicRule, response string, saved map[int64]string) (bool, error) {
	cond, err := ConditionOf(rule)
	if err != nil {
		return false, err
	}

	if cond.Type == model.ConditionCrossQuestion {
		refID, err := strconv.ParseInt(strings.TrimSpace(cond.Value), 10, 64)
		if err != nil {
			return false, configErr(rule.ID, "CrossQuestion conditionValue must be a question id, got %q", cond.Value)
		}
		ref, ok := saved[refID]
		if !ok {
			return false, nil
		}
		cond.Value = ref
	}

	matched, err := r.eval.Matches(cond, response)
	if err != nil {
		return false, withRule(err, rule.ID)
	}
	return matched, nil
}

func failed(result model.BranchingEvaluationResult, evaluated int, err error) model.BranchingEvaluationResult {
	result.IsError = true
	result.ErrorMessage = err.Error()
	result.Actions = []model.BranchingAction{}
	result.HasActions = false
	result.Metadata["rulesEvaluated"] = strconv.Itoa(evaluated)
	return result
}

func withRule(err error, ruleID int64) error {
	var ce *ConfigurationError
	if errors.As(err, &ce) && ce.RuleID == 0 {
		return &ConfigurationError{RuleID: ruleID, Reason: ce.Reason}
	}
	return err
}
