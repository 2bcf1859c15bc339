package branching

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"surveyflow/internal/model"
)

// SectionNodeID returns the flow map node id of a section
func SectionNodeID(id int64) string { return "section-" + strconv.FormatInt(id, 10) }

// QuestionNodeID returns the flow map node id of a question
func QuestionNodeID(id int64) string { return "question-" + strconv.FormatInt(id, 10) }

// GenerateFlowMap builds the static presentation graph of a survey. It is a
// view of configured logic and does not replay any responses.
func GenerateFlowMap(survey model.Survey, rules []model.LogicRule) model.FlowMap {
	fm := model.FlowMap{
		SurveyID:          survey.ID,
		Nodes:             []model.FlowNode{},
		Edges:             []model.FlowEdge{},
		DecisionPoints:    []model.DecisionPoint{},
		EndPoints:         []string{},
		OrphanedQuestions: []int64{},
	}

	sections := make([]model.Section, len(survey.Sections))
	copy(sections, survey.Sections)
	sort.SliceStable(sections, func(i, j int) bool {
		if sections[i].Position != sections[j].Position {
			return sections[i].Position < sections[j].Position
		}
		return sections[i].ID < sections[j].ID
	})

	known := make(map[int64]bool, len(sections))
	for _, s := range sections {
		known[s.ID] = true
	}

	// Questions pointing at a missing section have no place in the natural
	// order; they are drawn on their own and always reported as orphans.
	bySection := map[int64][]model.Question{}
	var stray []model.Question
	for _, q := range survey.Questions {
		if !known[q.SectionID] {
			stray = append(stray, q)
			continue
		}
		bySection[q.SectionID] = append(bySection[q.SectionID], q)
	}
	for id := range bySection {
		sortQuestions(bySection[id])
	}
	sortQuestions(stray)

	active := ActiveRules(rules)
	disqualifies := false
	for _, r := range active {
		if at, ok := ParseActionType(r.ActionType); ok && at == model.ActionDisqualify {
			disqualifies = true
		}
	}

	// Nodes
	for _, s := range sections {
		fm.Nodes = append(fm.Nodes, model.FlowNode{ID: SectionNodeID(s.ID), Type: model.FlowNodeSection, Label: sectionLabel(s)})
		for _, q := range bySection[s.ID] {
			fm.Nodes = append(fm.Nodes, model.FlowNode{ID: QuestionNodeID(q.ID), Type: model.FlowNodeQuestion, Label: questionLabel(q)})
		}
	}
	for _, q := range stray {
		fm.Nodes = append(fm.Nodes, model.FlowNode{ID: QuestionNodeID(q.ID), Type: model.FlowNodeQuestion, Label: questionLabel(q)})
	}
	fm.Nodes = append(fm.Nodes, model.FlowNode{ID: model.CompletionNodeID, Type: model.FlowNodeEnd, Label: "Survey complete"})
	if disqualifies {
		fm.Nodes = append(fm.Nodes, model.FlowNode{ID: model.DisqualificationNodeID, Type: model.FlowNodeEnd, Label: "Disqualified"})
	}

	// Natural order
	var lastQuestions []string
	for i, s := range sections {
		after := model.CompletionNodeID
		if i+1 < len(sections) {
			after = SectionNodeID(sections[i+1].ID)
		}
		qs := bySection[s.ID]

		entry := after
		if first := nextShown(qs, -1); first >= 0 {
			entry = QuestionNodeID(qs[first].ID)
		}
		fm.Edges = append(fm.Edges, model.FlowEdge{From: SectionNodeID(s.ID), To: entry, Kind: model.FlowEdgeNatural})

		for j, q := range qs {
			to := after
			if n := nextShown(qs, j); n >= 0 {
				to = QuestionNodeID(qs[n].ID)
			}
			fm.Edges = append(fm.Edges, model.FlowEdge{From: QuestionNodeID(q.ID), To: to, Kind: model.FlowEdgeNatural})
			if to == model.CompletionNodeID {
				lastQuestions = append(lastQuestions, QuestionNodeID(q.ID))
			}
		}
	}

	// Rule edges and decision points
	byQuestion := map[int64][]model.LogicRule{}
	var questionOrder []int64
	for _, r := range active {
		if _, ok := byQuestion[r.QuestionID]; !ok {
			questionOrder = append(questionOrder, r.QuestionID)
		}
		byQuestion[r.QuestionID] = append(byQuestion[r.QuestionID], r)
	}
	rank := questionRank(sections, bySection)
	sort.SliceStable(questionOrder, func(i, j int) bool {
		ri, okI := rank[questionOrder[i]]
		rj, okJ := rank[questionOrder[j]]
		if okI != okJ {
			return okI
		}
		if okI && ri != rj {
			return ri < rj
		}
		return questionOrder[i] < questionOrder[j]
	})

	for _, qid := range questionOrder {
		qRules := ActiveRulesFor(qid, byQuestion[qid])
		dp := model.DecisionPoint{QuestionID: qid, Conditions: []string{}, Actions: []model.BranchingAction{}}
		for _, r := range qRules {
			label := ConditionLabel(r)
			dp.Conditions = append(dp.Conditions, label)

			action, err := ActionOf(r)
			if err != nil {
				continue
			}
			dp.Actions = append(dp.Actions, action)
			for _, to := range actionTargets(action) {
				fm.Edges = append(fm.Edges, model.FlowEdge{
					From:       QuestionNodeID(qid),
					To:         to,
					Kind:       model.FlowEdgeRule,
					ActionType: action.Type,
					Condition:  label,
					RuleID:     r.ID,
				})
			}
		}
		fm.DecisionPoints = append(fm.DecisionPoints, dp)
	}

	// End points
	fm.EndPoints = append(fm.EndPoints, model.CompletionNodeID)
	if disqualifies {
		fm.EndPoints = append(fm.EndPoints, model.DisqualificationNodeID)
	}
	fm.EndPoints = append(fm.EndPoints, lastQuestions...)

	fm.OrphanedQuestions = orphans(sections, bySection, fm.Edges)
	for _, q := range stray {
		fm.OrphanedQuestions = append(fm.OrphanedQuestions, q.ID)
	}
	return fm
}

// nextShown returns the index of the first question after i that is not
// hidden by default, or -1.
func nextShown(qs []model.Question, i int) int {
	for j := i + 1; j < len(qs); j++ {
		if !qs[j].HiddenByDefault {
			return j
		}
	}
	return -1
}

func questionRank(sections []model.Section, bySection map[int64][]model.Question) map[int64]int {
	rank := map[int64]int{}
	n := 0
	for _, s := range sections {
		for _, q := range bySection[s.ID] {
			rank[q.ID] = n
			n++
		}
	}
	return rank
}

func actionTargets(a model.BranchingAction) []string {
	switch a.Type {
	case model.ActionEndSurvey:
		return []string{model.CompletionNodeID}
	case model.ActionDisqualify:
		return []string{model.DisqualificationNodeID}
	}
	switch t := a.Target.(type) {
	case model.QuestionTarget:
		return []string{QuestionNodeID(t.QuestionID)}
	case model.QuestionsTarget:
		out := make([]string, 0, len(t.QuestionIDs))
		for _, id := range t.QuestionIDs {
			out = append(out, QuestionNodeID(id))
		}
		return out
	case model.SectionTarget:
		return []string{SectionNodeID(t.SectionID)}
	}
	return nil
}

// orphans lists questions unreachable from the survey start that are not
// the first question of their section. Hide edges do not make a question
// reachable.
func orphans(sections []model.Section, bySection map[int64][]model.Question, edges []model.FlowEdge) []int64 {
	out := []int64{}
	if len(sections) == 0 {
		return out
	}

	adj := map[string][]string{}
	for _, e := range edges {
		if e.Kind == model.FlowEdgeRule && e.ActionType == model.ActionHideQuestion {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
	}

	start := SectionNodeID(sections[0].ID)
	reached := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range adj[n] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, s := range sections {
		for i, q := range bySection[s.ID] {
			if i == 0 {
				continue
			}
			if !reached[QuestionNodeID(q.ID)] {
				out = append(out, q.ID)
			}
		}
	}
	return out
}

// ConditionLabel renders a short human-readable summary of a rule's condition.
func ConditionLabel(r model.LogicRule) string {
	ct, ok := ParseConditionType(r.ConditionType)
	if !ok {
		return strings.TrimSpace(r.ConditionType + " " + r.ConditionValue)
	}
	v := strings.TrimSpace(r.ConditionValue)
	switch ct {
	case model.ConditionEquals:
		return "= " + v
	case model.ConditionNotEquals:
		return "!= " + v
	case model.ConditionContains:
		return "contains " + v
	case model.ConditionGreaterThan:
		return "> " + v
	case model.ConditionLessThan:
		return "< " + v
	case model.ConditionBetween:
		return fmt.Sprintf("between %s and %s", v, strings.TrimSpace(r.ConditionValue2))
	case model.ConditionInList:
		items := []string{}
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return "in [" + strings.Join(items, ", ") + "]"
	case model.ConditionRegexMatch:
		return "matches /" + v + "/"
	case model.ConditionCrossQuestion:
		op := "="
		if parsed, err := crossOperator(r.ConditionValue2); err == nil {
			op = operatorSymbol(parsed)
		}
		return fmt.Sprintf("%s answer to question %s", op, v)
	}
	return string(ct)
}

func operatorSymbol(ct model.ConditionType) string {
	switch ct {
	case model.ConditionNotEquals:
		return "!="
	case model.ConditionContains:
		return "contains"
	case model.ConditionGreaterThan:
		return ">"
	case model.ConditionLessThan:
		return "<"
	}
	return "="
}

func sectionLabel(s model.Section) string {
	if s.Title != "" {
		return s.Title
	}
	return fmt.Sprintf("Section %d", s.ID)
}

func questionLabel(q model.Question) string {
	if q.Text != "" {
		return q.Text
	}
	return fmt.Sprintf("Question %d", q.ID)
}
