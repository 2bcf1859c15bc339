package model

// FlowNodeType represents the kind of node in a flow map
type FlowNodeType string

const (
	FlowNodeSection  FlowNodeType = "Section"
	FlowNodeQuestion FlowNodeType = "Question"
	FlowNodeEnd      FlowNodeType = "End"
)

// FlowEdgeKind distinguishes natural ordering from configured branching
type FlowEdgeKind string

const (
	FlowEdgeNatural FlowEdgeKind = "natural"
	FlowEdgeRule    FlowEdgeKind = "rule"
)

// Terminal node ids
const (
	CompletionNodeID       = "completion"
	DisqualificationNodeID = "disqualification"
)

// FlowMap is the presentation graph of all possible paths through a survey
type FlowMap struct {
	SurveyID          int64           `json:"surveyId,omitempty"`
	Nodes             []FlowNode      `json:"nodes"`
	Edges             []FlowEdge      `json:"edges"`
	DecisionPoints    []DecisionPoint `json:"decisionPoints"`
	EndPoints         []string        `json:"endPoints"`
	OrphanedQuestions []int64         `json:"orphanedQuestions"`
}

// FlowNode is a section, question or terminal node
type FlowNode struct {
	ID    string       `json:"id"`
	Type  FlowNodeType `json:"type"`
	Label string       `json:"label"`
}

// FlowEdge connects two nodes, optionally labelled with a condition
type FlowEdge struct {
	From       string       `json:"from"`
	To         string       `json:"to"`
	Kind       FlowEdgeKind `json:"kind"`
	ActionType ActionType   `json:"actionType,omitempty"`
	Condition  string       `json:"condition,omitempty"`
	RuleID     int64        `json:"ruleId,omitempty"`
}

// DecisionPoint groups a question with its configured conditions and actions
type DecisionPoint struct {
	QuestionID int64             `json:"questionId"`
	Conditions []string          `json:"conditions"`
	Actions    []BranchingAction `json:"actions"`
}
