package branching

import (
	"sort"
	"strconv"
	"strings"

	"surveyflow/internal/model"
)

// Validator checks a survey's rule set for malformed rules, self-references
// and question-to-question cycles. JumpToSection edges are not part of the
// question graph.
type Validator struct {
	eval *Evaluator
}

func NewValidator(eval *Evaluator) *Validator {
	if eval == nil {
		eval = defaultEvaluator
	}
	return &Validator{eval: eval}
}

// IsValid reports whether rules form a well-formed, acyclic flow.
func IsValid(rules []model.LogicRule) bool {
	return NewValidator(nil).IsValid(rules)
}

func (v *Validator) IsValid(rules []model.LogicRule) bool {
	return v.Analyze(rules).Valid
}

// Analyze inspects an immutable snapshot of rules. It never fails; problems
// are listed in the report and make it invalid.
func (v *Validator) Analyze(rules []model.LogicRule) model.IntegrityReport {
	report := model.IntegrityReport{Valid: true}
	active := ActiveRules(rules)

	for _, r := range active {
		if err := v.checkRule(r); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
	}

	graph := questionGraph(active)

	selfRefs := map[int64]bool{}
	for from, targets := range graph {
		for _, to := range targets {
			if from == to {
				selfRefs[from] = true
			}
		}
	}
	for id := range selfRefs {
		report.SelfReferences = append(report.SelfReferences, id)
	}
	sort.Slice(report.SelfReferences, func(i, j int) bool {
		return report.SelfReferences[i] < report.SelfReferences[j]
	})

	report.Cycles = findCycles(graph)

	if len(report.Errors) > 0 || len(report.SelfReferences) > 0 || len(report.Cycles) > 0 {
		report.Valid = false
	}
	return report
}

func (v *Validator) checkRule(r model.LogicRule) error {
	cond, err := ConditionOf(r)
	if err != nil {
		return err
	}

	switch cond.Type {
	case model.ConditionContains:
		if strings.TrimSpace(cond.Value) == "" {
			return configErr(r.ID, "Contains requires conditionValue")
		}
	case model.ConditionBetween:
		if strings.TrimSpace(cond.Value) == "" || strings.TrimSpace(cond.Value2) == "" {
			return configErr(r.ID, "Between requires both conditionValue and conditionValue2")
		}
	case model.ConditionRegexMatch:
		if _, err := v.eval.pattern(cond.Value); err != nil {
			return withRule(err, r.ID)
		}
	case model.ConditionCrossQuestion:
		if _, err := strconv.ParseInt(strings.TrimSpace(cond.Value), 10, 64); err != nil {
			return configErr(r.ID, "CrossQuestion conditionValue must be a question id, got %q", cond.Value)
		}
		if _, err := crossOperator(cond.Value2); err != nil {
			return withRule(err, r.ID)
		}
	}

	action, err := ActionOf(r)
	if err != nil {
		return err
	}
	return checkTargets(r, action.Type)
}

// questionGraph builds adjacency lists from single-question-target rules.
func questionGraph(rules []model.LogicRule) map[int64][]int64 {
	graph := map[int64][]int64{}
	for _, r := range rules {
		at, ok := ParseActionType(r.ActionType)
		if !ok || r.TargetQuestionID == nil {
			continue
		}
		switch at {
		case model.ActionShowQuestion, model.ActionHideQuestion, model.ActionSkipToQuestion:
			graph[r.QuestionID] = append(graph[r.QuestionID], *r.TargetQuestionID)
		}
	}
	return graph
}

// findCycles runs a depth-first search with a recursion stack and returns
// one cycle per back-edge, each listed from its entry node. Self-loops are
// reported separately and skipped here.
func findCycles(graph map[int64][]int64) [][]int64 {
	nodes := make([]int64, 0, len(graph))
	for id, targets := range graph {
		nodes = append(nodes, id)
		sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	visited := map[int64]bool{}
	onStack := map[int64]bool{}
	var stack []int64
	var cycles [][]int64

	var visit func(n int64)
	visit = func(n int64) {
		visited[n] = true
		onStack[n] = true
		stack = append(stack, n)

		for _, next := range graph[n] {
			if next == n {
				continue
			}
			if onStack[next] {
				cycles = append(cycles, cycleFrom(stack, next))
				continue
			}
			if !visited[next] {
				visit(next)
			}
		}

		stack = stack[:len(stack)-1]
		onStack[n] = false
	}

	for _, n := range nodes {
		if !visited[n] {
			visit(n)
		}
	}
	return cycles
}

func cycleFrom(stack []int64, entry int64) []int64 {
	for i, id := range stack {
		if id == entry {
			out := make([]int64, len(stack)-i)
			copy(out, stack[i:])
			return out
		}
	}
	return nil
}
