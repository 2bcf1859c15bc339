package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"surveyflow/internal/branching"
	"surveyflow/internal/model"
	"surveyflow/internal/pubsub"
)

// ErrTooManyRules rejects rule imports above the configured limit.
var ErrTooManyRules = errors.New("too many rules")

// RuleStore loads and replaces a survey's logic rules
type RuleStore interface {
	RulesForQuestion(ctx context.Context, questionID int64) ([]model.LogicRule, error)
	RulesForSurvey(ctx context.Context, surveyID int64) ([]model.LogicRule, error)
	ReplaceSurveyRules(ctx context.Context, surveyID int64, rules []model.LogicRule) error
}

// ParticipationStore loads participations and records their responses
type ParticipationStore interface {
	GetParticipation(ctx context.Context, participationID int64) (model.Participation, error)
	RecordResponse(ctx context.Context, participationID int64, answer model.SavedAnswer, nav model.Navigation) (model.Participation, error)
}

type AnswerStore interface {
	SavedAnswers(ctx context.Context, participationID int64) ([]model.SavedAnswer, error)
}

type SurveyStore interface {
	GetSurvey(ctx context.Context, surveyID int64) (model.Survey, error)
}

// Store is the full data access surface of the branching service
type Store interface {
	RuleStore
	ParticipationStore
	AnswerStore
	SurveyStore
}

type EventBus interface {
	PublishParticipation(ctx context.Context, participationID int64, eventType string, data map[string]any) error
	PublishSurvey(ctx context.Context, surveyID int64, eventType string, data map[string]any) error
}

// EventLog replays events recorded on a channel
type EventLog interface {
	Replay(ctx context.Context, channel, sinceID string, limit int64) ([]pubsub.StreamEvent, error)
}

type BranchingService struct {
	store         Store
	resolver      *branching.Resolver
	reconstructor *branching.Reconstructor
	validator     *branching.Validator
	bus           EventBus
	events        EventLog
	jobClient     JobClient
	log           *zap.Logger
	maxImport     int
	now           func() time.Time
}

func NewBranchingService(store Store, eval *branching.Evaluator, bus EventBus, log *zap.Logger) *BranchingService {
	if log == nil {
		log = zap.NewNop()
	}
	resolver := branching.NewResolver(eval)
	return &BranchingService{
		store:         store,
		resolver:      resolver,
		reconstructor: branching.NewReconstructor(resolver),
		validator:     branching.NewValidator(eval),
		bus:           bus,
		log:           log,
		now:           time.Now,
	}
}

// SetJobClient sets the job client for scheduling background jobs
func (s *BranchingService) SetJobClient(client JobClient) {
	s.jobClient = client
}

// SetEventLog enables participation event replay
func (s *BranchingService) SetEventLog(events EventLog) {
	s.events = events
}

// SetRuleImportLimit caps the number of rules accepted by ImportRules.
// Zero disables the check.
func (s *BranchingService) SetRuleImportLimit(max int) {
	s.maxImport = max
}

// EvaluateLogic runs a question's rules against a response. When
// participationID is non-zero its saved answers feed CrossQuestion rules.
// Rule configuration problems are reported in the result, not as an error.
func (s *BranchingService) EvaluateLogic(ctx context.Context, questionID int64, response string, participationID int64) (model.BranchingEvaluationResult, error) {
	rules, err := s.store.RulesForQuestion(ctx, questionID)
	if err != nil {
		return model.BranchingEvaluationResult{}, fmt.Errorf("failed to load rules: %w", err)
	}

	var saved map[int64]string
	if participationID != 0 {
		p, err := s.store.GetParticipation(ctx, participationID)
		if err != nil {
			return model.BranchingEvaluationResult{}, err
		}
		if err := s.requireQuestion(ctx, p.SurveyID, questionID); err != nil {
			return model.BranchingEvaluationResult{}, err
		}
		saved, err = s.savedAnswers(ctx, participationID)
		if err != nil {
			return model.BranchingEvaluationResult{}, err
		}
	}

	result := s.resolver.Evaluate(questionID, response, rules, saved)
	if result.IsError {
		s.log.Warn("Rule evaluation failed",
			zap.Int64("question_id", questionID),
			zap.String("error", result.ErrorMessage),
		)
	}
	return result, nil
}

// ResponseOutcome is the result of processing one respondent answer
type ResponseOutcome struct {
	Result        model.BranchingEvaluationResult `json:"result"`
	Navigation    model.Navigation                `json:"navigation"`
	Participation *model.Participation            `json:"participation,omitempty"`
}

// ProcessResponseBranching evaluates a participation's response, records the
// answer with the resulting navigation and publishes the branching events.
// A configuration error leaves the participation untouched.
func (s *BranchingService) ProcessResponseBranching(ctx context.Context, participationID, questionID int64, response string) (ResponseOutcome, error) {
	p, err := s.store.GetParticipation(ctx, participationID)
	if err != nil {
		return ResponseOutcome{}, err
	}
	if p.IsComplete {
		return ResponseOutcome{}, fmt.Errorf("participation %d: %w", participationID, branching.ErrParticipationComplete)
	}
	if err := s.requireQuestion(ctx, p.SurveyID, questionID); err != nil {
		return ResponseOutcome{}, err
	}

	rules, err := s.store.RulesForQuestion(ctx, questionID)
	if err != nil {
		return ResponseOutcome{}, fmt.Errorf("failed to load rules: %w", err)
	}
	saved, err := s.savedAnswers(ctx, participationID)
	if err != nil {
		return ResponseOutcome{}, err
	}
	saved[questionID] = response

	result := s.resolver.Evaluate(questionID, response, rules, saved)
	if result.IsError {
		s.log.Warn("Branching aborted by rule configuration",
			zap.Int64("participation_id", participationID),
			zap.Int64("question_id", questionID),
			zap.String("error", result.ErrorMessage),
		)
		return ResponseOutcome{Result: result}, nil
	}

	nav := NavigationFor(result.Actions)
	answer := model.SavedAnswer{QuestionID: questionID, AnswerValue: response, AnsweredAt: s.now().UTC()}
	updated, err := s.store.RecordResponse(ctx, participationID, answer, nav)
	if err != nil {
		return ResponseOutcome{}, err
	}

	s.publishBranching(ctx, updated, questionID, response, result)

	s.log.Info("Response processed",
		zap.Int64("participation_id", participationID),
		zap.Int64("question_id", questionID),
		zap.Int("actions", len(result.Actions)),
		zap.Bool("complete", updated.IsComplete),
	)

	return ResponseOutcome{Result: result, Navigation: nav, Participation: &updated}, nil
}

// requireQuestion fails with ErrNotFound unless questionID belongs to surveyID.
func (s *BranchingService) requireQuestion(ctx context.Context, surveyID, questionID int64) error {
	survey, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return err
	}
	if newSurveyIndex(survey).questions[questionID] {
		return nil
	}
	return fmt.Errorf("question %d in survey %d: %w", questionID, surveyID, branching.ErrNotFound)
}

func (s *BranchingService) publishBranching(ctx context.Context, p model.Participation, questionID int64, response string, result model.BranchingEvaluationResult) {
	actions := make([]string, 0, len(result.Actions))
	for _, a := range result.Actions {
		actions = append(actions, string(a.Type))
	}
	_ = s.bus.PublishParticipation(ctx, p.ID, pubsub.EventBranching, map[string]any{
		"surveyId":   p.SurveyID,
		"questionId": questionID,
		"response":   response,
		"actions":    actions,
	})

	for _, a := range result.Actions {
		var eventType string
		switch a.Type {
		case model.ActionEndSurvey:
			eventType = pubsub.EventEnded
		case model.ActionDisqualify:
			eventType = pubsub.EventDisqualified
		default:
			continue
		}
		_ = s.bus.PublishParticipation(ctx, p.ID, eventType, map[string]any{
			"surveyId":   p.SurveyID,
			"questionId": questionID,
			"message":    a.Message,
		})
	}
}

// NavigationFor folds resolved actions into the position a participation
// moves to. Later jumps win; a terminal action completes the participation.
func NavigationFor(actions []model.BranchingAction) model.Navigation {
	var nav model.Navigation
	for _, a := range actions {
		switch t := a.Target.(type) {
		case model.SectionTarget:
			if a.Type == model.ActionJumpToSection {
				id := t.SectionID
				nav.SectionID = &id
				nav.QuestionID = nil
			}
		case model.QuestionTarget:
			if a.Type == model.ActionSkipToQuestion {
				id := t.QuestionID
				nav.QuestionID = &id
				nav.SectionID = nil
			}
		}
		if a.Type.IsTerminal() {
			nav.Complete = true
		}
	}
	return nav
}

// GetFlowState rebuilds a participation's flow state from stored data.
func (s *BranchingService) GetFlowState(ctx context.Context, participationID int64) (model.SurveyFlowState, error) {
	snap, err := s.snapshot(ctx, participationID)
	if err != nil {
		return model.SurveyFlowState{}, err
	}
	return s.reconstructor.Reconstruct(snap), nil
}

// GetAvailableQuestions lists the visible questions of the participation's
// current section.
func (s *BranchingService) GetAvailableQuestions(ctx context.Context, participationID int64) ([]int64, error) {
	state, err := s.GetFlowState(ctx, participationID)
	if err != nil {
		return nil, err
	}
	return state.AvailableQuestions, nil
}

func (s *BranchingService) snapshot(ctx context.Context, participationID int64) (branching.Snapshot, error) {
	p, err := s.store.GetParticipation(ctx, participationID)
	if err != nil {
		return branching.Snapshot{}, err
	}
	answers, err := s.store.SavedAnswers(ctx, participationID)
	if err != nil {
		return branching.Snapshot{}, fmt.Errorf("failed to load answers: %w", err)
	}
	rules, err := s.store.RulesForSurvey(ctx, p.SurveyID)
	if err != nil {
		return branching.Snapshot{}, fmt.Errorf("failed to load rules: %w", err)
	}
	survey, err := s.store.GetSurvey(ctx, p.SurveyID)
	if err != nil {
		return branching.Snapshot{}, err
	}

	return branching.Snapshot{
		Participation: p,
		Answers:       answers,
		Rules:         rules,
		Questions:     survey.Questions,
	}, nil
}

// ValidateFlowIntegrity checks a survey's rule graph for self references,
// cycles and malformed rules.
func (s *BranchingService) ValidateFlowIntegrity(ctx context.Context, surveyID int64) (model.IntegrityReport, error) {
	if _, err := s.store.GetSurvey(ctx, surveyID); err != nil {
		return model.IntegrityReport{}, err
	}
	rules, err := s.store.RulesForSurvey(ctx, surveyID)
	if err != nil {
		return model.IntegrityReport{}, fmt.Errorf("failed to load rules: %w", err)
	}

	report := s.validator.Analyze(rules)
	report.SurveyID = surveyID
	return report, nil
}

// GenerateFlowMap builds the authoring graph for a survey
func (s *BranchingService) GenerateFlowMap(ctx context.Context, surveyID int64) (model.FlowMap, error) {
	survey, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return model.FlowMap{}, err
	}
	rules, err := s.store.RulesForSurvey(ctx, surveyID)
	if err != nil {
		return model.FlowMap{}, fmt.Errorf("failed to load rules: %w", err)
	}
	return branching.GenerateFlowMap(survey, rules), nil
}

// ImportResult describes an accepted rule import
type ImportResult struct {
	SurveyID         int64  `json:"surveyId"`
	Rules            int    `json:"rules"`
	ValidationTaskID string `json:"validationTaskId,omitempty"`
}

// ImportRules replaces a survey's rule set and schedules an asynchronous
// integrity check. Every rule must belong to a question of the survey.
func (s *BranchingService) ImportRules(ctx context.Context, surveyID int64, rules []model.LogicRule) (ImportResult, error) {
	if s.maxImport > 0 && len(rules) > s.maxImport {
		return ImportResult{}, fmt.Errorf("%w: %d exceeds limit of %d", ErrTooManyRules, len(rules), s.maxImport)
	}

	survey, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return ImportResult{}, err
	}

	idx := newSurveyIndex(survey)
	for i := range rules {
		if err := idx.check(rules[i]); err != nil {
			return ImportResult{}, err
		}
		rules[i].SurveyID = surveyID
	}

	if err := s.store.ReplaceSurveyRules(ctx, surveyID, rules); err != nil {
		return ImportResult{}, fmt.Errorf("failed to store rules: %w", err)
	}

	result := ImportResult{SurveyID: surveyID, Rules: len(rules)}
	if s.jobClient != nil {
		taskID, err := s.jobClient.ScheduleFlowValidation(ctx, surveyID)
		if err != nil {
			s.log.Warn("Failed to schedule flow validation", zap.Int64("survey_id", surveyID), zap.Error(err))
		} else {
			result.ValidationTaskID = taskID
		}
	}

	_ = s.bus.PublishSurvey(ctx, surveyID, pubsub.EventRulesImported, map[string]any{
		"rules":            len(rules),
		"validationTaskId": result.ValidationTaskID,
	})

	s.log.Info("Rules imported", zap.Int64("survey_id", surveyID), zap.Int("rules", len(rules)))
	return result, nil
}

// surveyIndex answers membership questions about one survey's structure
type surveyIndex struct {
	surveyID  int64
	questions map[int64]bool
	sections  map[int64]bool
}

func newSurveyIndex(survey model.Survey) surveyIndex {
	idx := surveyIndex{
		surveyID:  survey.ID,
		questions: make(map[int64]bool, len(survey.Questions)),
		sections:  make(map[int64]bool, len(survey.Sections)),
	}
	for _, q := range survey.Questions {
		idx.questions[q.ID] = true
	}
	for _, sec := range survey.Sections {
		idx.sections[sec.ID] = true
	}
	return idx
}

// check verifies that the rule's question and every target it names
// exist in the survey.
func (idx surveyIndex) check(r model.LogicRule) error {
	notInSurvey := func(kind string, id int64) error {
		return &branching.ConfigurationError{
			RuleID: r.ID,
			Reason: fmt.Sprintf("%s %d is not part of survey %d", kind, id, idx.surveyID),
		}
	}

	if !idx.questions[r.QuestionID] {
		return notInSurvey("question", r.QuestionID)
	}
	if r.TargetQuestionID != nil && !idx.questions[*r.TargetQuestionID] {
		return notInSurvey("target question", *r.TargetQuestionID)
	}
	for _, qid := range r.TargetQuestionIDs {
		if !idx.questions[qid] {
			return notInSurvey("target question", qid)
		}
	}
	if r.TargetSectionID != nil && !idx.sections[*r.TargetSectionID] {
		return notInSurvey("target section", *r.TargetSectionID)
	}
	return nil
}

// ParticipationEvents replays the events published for a participation.
func (s *BranchingService) ParticipationEvents(ctx context.Context, participationID int64, sinceID string, limit int64) ([]pubsub.StreamEvent, error) {
	if s.events == nil {
		return nil, errors.New("event replay not configured")
	}
	if _, err := s.store.GetParticipation(ctx, participationID); err != nil {
		return nil, err
	}
	return s.events.Replay(ctx, pubsub.ParticipationChannel(participationID), sinceID, limit)
}

func (s *BranchingService) savedAnswers(ctx context.Context, participationID int64) (map[int64]string, error) {
	answers, err := s.store.SavedAnswers(ctx, participationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers: %w", err)
	}
	saved := make(map[int64]string, len(answers)+1)
	for _, a := range answers {
		saved[a.QuestionID] = a.AnswerValue
	}
	return saved, nil
}
