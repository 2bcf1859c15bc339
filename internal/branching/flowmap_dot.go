package branching

import (
	"fmt"
	"strconv"

	"github.com/awalterschulze/gographviz"

	"surveyflow/internal/model"
)

const dotGraphName = "SurveyFlow"

// RenderDOT renders a flow map as a Graphviz digraph for authoring tools.
// Natural edges are dashed, rule edges carry their condition as label.
func RenderDOT(fm model.FlowMap) (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(dotGraphName); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}

	orphaned := map[string]bool{}
	for _, id := range fm.OrphanedQuestions {
		orphaned[QuestionNodeID(id)] = true
	}

	for _, n := range fm.Nodes {
		attrs := map[string]string{
			"label": strconv.Quote(n.Label),
			"shape": nodeShape(n.Type),
		}
		if orphaned[n.ID] {
			attrs["style"] = "dotted"
		}
		if err := g.AddNode(dotGraphName, strconv.Quote(n.ID), attrs); err != nil {
			return "", fmt.Errorf("failed to add node %q: %w", n.ID, err)
		}
	}

	for _, e := range fm.Edges {
		attrs := map[string]string{}
		if e.Kind == model.FlowEdgeNatural {
			attrs["style"] = "dashed"
		} else {
			label := string(e.ActionType)
			if e.Condition != "" {
				label = label + ": " + e.Condition
			}
			attrs["label"] = strconv.Quote(label)
		}
		if err := g.AddEdge(strconv.Quote(e.From), strconv.Quote(e.To), true, attrs); err != nil {
			return "", fmt.Errorf("failed to add edge %s->%s: %w", e.From, e.To, err)
		}
	}

	return g.String(), nil
}

func nodeShape(t model.FlowNodeType) string {
	switch t {
	case model.FlowNodeSection:
		return "box"
	case model.FlowNodeEnd:
		return "doublecircle"
	default:
		return "ellipse"
	}
}
