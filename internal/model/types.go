package model

import "time"

// LogicType classifies a rule for authoring tools. Behavior is driven by ActionType.
type LogicType string

const (
	LogicTypeSkip      LogicType = "Skip"
	LogicTypeShow      LogicType = "Show"
	LogicTypeHide      LogicType = "Hide"
	LogicTypeEndSurvey LogicType = "EndSurvey"
)

// ConditionType represents how a rule compares an answer
type ConditionType string

const (
	ConditionEquals        ConditionType = "Equals"
	ConditionNotEquals     ConditionType = "NotEquals"
	ConditionContains      ConditionType = "Contains"
	ConditionGreaterThan   ConditionType = "GreaterThan"
	ConditionLessThan      ConditionType = "LessThan"
	ConditionBetween       ConditionType = "Between"
	ConditionInList        ConditionType = "InList"
	ConditionRegexMatch    ConditionType = "RegexMatch"
	ConditionCrossQuestion ConditionType = "CrossQuestion"
)

// ConditionTypes lists every supported condition type in declaration order.
var ConditionTypes = []ConditionType{
	ConditionEquals,
	ConditionNotEquals,
	ConditionContains,
	ConditionGreaterThan,
	ConditionLessThan,
	ConditionBetween,
	ConditionInList,
	ConditionRegexMatch,
	ConditionCrossQuestion,
}

// ActionType represents the effect of a matched rule
type ActionType string

const (
	ActionShowQuestion   ActionType = "ShowQuestion"
	ActionHideQuestion   ActionType = "HideQuestion"
	ActionShowQuestions  ActionType = "ShowQuestions"
	ActionJumpToSection  ActionType = "JumpToSection"
	ActionSkipToQuestion ActionType = "SkipToQuestion"
	ActionEndSurvey      ActionType = "EndSurvey"
	ActionDisqualify     ActionType = "Disqualify"
)

// ActionTypes lists every supported action type in declaration order.
var ActionTypes = []ActionType{
	ActionShowQuestion,
	ActionHideQuestion,
	ActionShowQuestions,
	ActionJumpToSection,
	ActionSkipToQuestion,
	ActionEndSurvey,
	ActionDisqualify,
}

// IsTerminal reports whether the action stops rule evaluation for a question.
func (a ActionType) IsTerminal() bool {
	return a == ActionEndSurvey || a == ActionDisqualify
}

// LogicRule is one configured condition/action pair as persisted.
// ConditionType and ActionType stay free text here; they are parsed into
// closed enumerations by the branching package.
type LogicRule struct {
	ID                int64   `json:"id" yaml:"id"`
	SurveyID          int64   `json:"surveyId,omitempty" yaml:"surveyId,omitempty"`
	QuestionID        int64   `json:"questionId" yaml:"questionId"`
	LogicType         string  `json:"logicType,omitempty" yaml:"logicType,omitempty"`
	ConditionType     string  `json:"conditionType" yaml:"conditionType"`
	ConditionValue    string  `json:"conditionValue,omitempty" yaml:"conditionValue,omitempty"`
	ConditionValue2   string  `json:"conditionValue2,omitempty" yaml:"conditionValue2,omitempty"`
	ActionType        string  `json:"actionType" yaml:"actionType"`
	TargetQuestionID  *int64  `json:"targetQuestionId,omitempty" yaml:"targetQuestionId,omitempty"`
	TargetQuestionIDs []int64 `json:"targetQuestionIds,omitempty" yaml:"targetQuestionIds,omitempty"`
	TargetSectionID   *int64  `json:"targetSectionId,omitempty" yaml:"targetSectionId,omitempty"`
	Order             int     `json:"order" yaml:"order"`
	IsActive          bool    `json:"isActive" yaml:"isActive"`
	Message           string  `json:"message,omitempty" yaml:"message,omitempty"`
}

// Section is an ordered group of questions
type Section struct {
	ID       int64  `json:"id" yaml:"id"`
	SurveyID int64  `json:"surveyId,omitempty" yaml:"surveyId,omitempty"`
	Title    string `json:"title,omitempty" yaml:"title,omitempty"`
	Position int    `json:"position" yaml:"position"`
}

// Question is a single survey question
type Question struct {
	ID              int64  `json:"id" yaml:"id"`
	SurveyID        int64  `json:"surveyId,omitempty" yaml:"surveyId,omitempty"`
	SectionID       int64  `json:"sectionId" yaml:"sectionId"`
	Text            string `json:"text,omitempty" yaml:"text,omitempty"`
	Position        int    `json:"position" yaml:"position"`
	HiddenByDefault bool   `json:"hiddenByDefault,omitempty" yaml:"hiddenByDefault,omitempty"`
}

// Survey is the structural view of a questionnaire used by the flow map
type Survey struct {
	ID        int64      `json:"id" yaml:"id"`
	Title     string     `json:"title,omitempty" yaml:"title,omitempty"`
	Sections  []Section  `json:"sections" yaml:"sections"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Participation is one respondent's run through a survey
type Participation struct {
	ID                int64     `json:"id"`
	SurveyID          int64     `json:"surveyId"`
	CurrentSectionID  *int64    `json:"currentSectionId,omitempty"`
	CurrentQuestionID *int64    `json:"currentQuestionId,omitempty"`
	IsComplete        bool      `json:"isComplete"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// SavedAnswer is a persisted answer to a question
type SavedAnswer struct {
	QuestionID  int64     `json:"questionId"`
	AnswerValue string    `json:"answerValue"`
	AnsweredAt  time.Time `json:"answeredAt"`
}

// BranchingEvaluationResult is the engine output for one question evaluation
type BranchingEvaluationResult struct {
	HasActions   bool              `json:"hasActions"`
	IsError      bool              `json:"isError"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Actions      []BranchingAction `json:"actions"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SurveyFlowState is a reconstructed snapshot of a respondent's progress
type SurveyFlowState struct {
	ParticipationID    int64                 `json:"participationId"`
	SurveyID           int64                 `json:"surveyId"`
	CurrentSectionID   *int64                `json:"currentSectionId,omitempty"`
	CurrentQuestionID  *int64                `json:"currentQuestionId,omitempty"`
	CompletedQuestions []int64               `json:"completedQuestions"`
	AvailableQuestions []int64               `json:"availableQuestions"`
	ConditionalPath    []ConditionalPathStep `json:"conditionalPath"`
	IsComplete         bool                  `json:"isComplete"`
	LastUpdated        time.Time             `json:"lastUpdated"`
}

// ConditionalPathStep records one branching event
type ConditionalPathStep struct {
	QuestionID  int64             `json:"questionId"`
	Response    string            `json:"response"`
	ActionTaken ActionType        `json:"actionTaken"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IntegrityReport explains the outcome of a flow integrity check
type IntegrityReport struct {
	SurveyID       int64     `json:"surveyId,omitempty"`
	Valid          bool      `json:"valid"`
	SelfReferences []int64   `json:"selfReferences,omitempty"`
	Cycles         [][]int64 `json:"cycles,omitempty"`
	Errors         []string  `json:"errors,omitempty"`
}

// Navigation is the position a participation moves to after a response
type Navigation struct {
	SectionID  *int64 `json:"sectionId,omitempty"`
	QuestionID *int64 `json:"questionId,omitempty"`
	Complete   bool   `json:"complete"`
}
