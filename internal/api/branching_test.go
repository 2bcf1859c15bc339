package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"surveyflow/internal/auth"
	"surveyflow/internal/branching"
	"surveyflow/internal/model"
	"surveyflow/internal/pubsub"
	"surveyflow/internal/schema"
	"surveyflow/internal/service"
)

type fakeBranching struct {
	evaluate     model.BranchingEvaluationResult
	outcome      service.ResponseOutcome
	state        model.SurveyFlowState
	report       model.IntegrityReport
	flowMap      model.FlowMap
	imported     []model.LogicRule
	importErr    error
	err          error
	eventsSince  string
	eventsLimit  int64
	lastQuestion int64
}

func (f *fakeBranching) EvaluateLogic(ctx context.Context, questionID int64, response string, participationID int64) (model.BranchingEvaluationResult, error) {
	f.lastQuestion = questionID
	return f.evaluate, f.err
}

func (f *fakeBranching) ProcessResponseBranching(ctx context.Context, participationID, questionID int64, response string) (service.ResponseOutcome, error) {
	f.lastQuestion = questionID
	return f.outcome, f.err
}

func (f *fakeBranching) GetFlowState(ctx context.Context, participationID int64) (model.SurveyFlowState, error) {
	return f.state, f.err
}

func (f *fakeBranching) GetAvailableQuestions(ctx context.Context, participationID int64) ([]int64, error) {
	return f.state.AvailableQuestions, f.err
}

func (f *fakeBranching) ValidateFlowIntegrity(ctx context.Context, surveyID int64) (model.IntegrityReport, error) {
	return f.report, f.err
}

func (f *fakeBranching) GenerateFlowMap(ctx context.Context, surveyID int64) (model.FlowMap, error) {
	return f.flowMap, f.err
}

func (f *fakeBranching) ImportRules(ctx context.Context, surveyID int64, rules []model.LogicRule) (service.ImportResult, error) {
	if f.importErr != nil {
		return service.ImportResult{}, f.importErr
	}
	f.imported = rules
	return service.ImportResult{SurveyID: surveyID, Rules: len(rules), ValidationTaskID: "01TASK"}, nil
}

func (f *fakeBranching) ParticipationEvents(ctx context.Context, participationID int64, sinceID string, limit int64) ([]pubsub.StreamEvent, error) {
	f.eventsSince = sinceID
	f.eventsLimit = limit
	return []pubsub.StreamEvent{}, f.err
}

const testSecret = "test-secret"

func newTestRouter(t *testing.T, b Branching) http.Handler {
	t.Helper()
	compiler, err := schema.NewCompilerWithCache(4)
	require.NoError(t, err)
	return Routes(Dependencies{
		Branching: b,
		Schema:    compiler,
		JWT:       auth.NewJWTConfig(testSecret),
		Log:       zap.NewNop(),
	})
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func authorToken(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.NewJWTConfig(testSecret).Sign(auth.Claims{
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "author-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestEvaluateLogic(t *testing.T) {
	fb := &fakeBranching{evaluate: model.BranchingEvaluationResult{
		HasActions: true,
		Actions:    []model.BranchingAction{{Type: model.ActionShowQuestion, Target: model.QuestionTarget{QuestionID: 2}}},
	}}
	h := newTestRouter(t, fb)

	rec := do(h, http.MethodPost, "/logic/evaluate", `{"questionId":1,"response":"Yes"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), fb.lastQuestion)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["hasActions"])
	actions := body["actions"].([]any)
	require.Len(t, actions, 1)
	assert.Equal(t, "ShowQuestion", actions[0].(map[string]any)["actionType"])
	assert.Equal(t, float64(2), actions[0].(map[string]any)["targetQuestionId"])
}

func TestEvaluateLogic_BadInput(t *testing.T) {
	h := newTestRouter(t, &fakeBranching{})

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/logic/evaluate", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/logic/evaluate", `{"response":"x"}`).Code)
}

func TestEvaluateLogic_ConfigurationError(t *testing.T) {
	fb := &fakeBranching{evaluate: model.BranchingEvaluationResult{
		IsError:      true,
		ErrorMessage: "configuration error in rule 3: unknown actionType \"Teleport\"",
		Actions:      []model.BranchingAction{},
	}}
	rec := do(newTestRouter(t, fb), http.MethodPost, "/logic/evaluate", `{"questionId":1,"response":"x"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isError":true`)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		tag  string
	}{
		{"not found", fmt.Errorf("participation 9: %w", branching.ErrNotFound), http.StatusNotFound, "not_found"},
		{"configuration", &branching.ConfigurationError{RuleID: 4, Reason: "bad"}, http.StatusBadRequest, "configuration_error"},
		{"complete", fmt.Errorf("participation 9: %w", branching.ErrParticipationComplete), http.StatusConflict, "participation_complete"},
		{"store failure", fmt.Errorf("failed to load rules: connection refused"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestRouter(t, &fakeBranching{err: tc.err})
			rec := do(h, http.MethodPost, "/participations/9/responses/branching", `{"questionId":1,"response":"x"}`)
			assert.Equal(t, tc.code, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.tag, resp.Code)
		})
	}
}

func TestProcessResponse(t *testing.T) {
	fb := &fakeBranching{outcome: service.ResponseOutcome{
		Result:     model.BranchingEvaluationResult{HasActions: true, Actions: []model.BranchingAction{{Type: model.ActionEndSurvey, Target: model.NoTarget{}, Message: "Thanks"}}},
		Navigation: model.Navigation{Complete: true},
	}}
	h := newTestRouter(t, fb)

	rec := do(h, http.MethodPost, "/participations/5/responses/branching", `{"questionId":3,"response":"No"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), fb.lastQuestion)
	assert.Contains(t, rec.Body.String(), `"complete":true`)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/participations/abc/responses/branching", `{"questionId":3}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/participations/5/responses/branching", `{}`).Code)
}

func TestFlowStateAndAvailableQuestions(t *testing.T) {
	fb := &fakeBranching{state: model.SurveyFlowState{
		ParticipationID:    5,
		SurveyID:           1,
		CompletedQuestions: []int64{1},
		AvailableQuestions: []int64{1, 2},
		ConditionalPath:    []model.ConditionalPathStep{},
	}}
	h := newTestRouter(t, fb)

	rec := do(h, http.MethodGet, "/participations/5/flow-state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state model.SurveyFlowState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, []int64{1, 2}, state.AvailableQuestions)

	rec = do(h, http.MethodGet, "/participations/5/available-questions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"participationId":5,"availableQuestions":[1,2]}`, rec.Body.String())
}

func TestParticipationEvents(t *testing.T) {
	fb := &fakeBranching{}
	h := newTestRouter(t, fb)

	rec := do(h, http.MethodGet, "/participations/5/events?since=1700000000000-0&limit=5000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1700000000000-0", fb.eventsSince)
	assert.Equal(t, int64(maxEventLimit), fb.eventsLimit)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/participations/5/events?limit=-1", "").Code)

	fb.eventsSince = "unchanged"
	rec = do(h, http.MethodGet, "/participations/5/events?since=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
	assert.Equal(t, "unchanged", fb.eventsSince, "malformed ids never reach the stream")
}

func TestFlowIntegrity(t *testing.T) {
	fb := &fakeBranching{report: model.IntegrityReport{SurveyID: 1, Valid: false, Cycles: [][]int64{{1, 2, 1}}}}
	rec := do(newTestRouter(t, fb), http.MethodGet, "/surveys/1/flow-integrity", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"surveyId":1,"valid":false,"cycles":[[1,2,1]]}`, rec.Body.String())
}

func TestFlowMap(t *testing.T) {
	fb := &fakeBranching{flowMap: model.FlowMap{
		SurveyID: 1,
		Nodes: []model.FlowNode{
			{ID: "section-1", Type: model.FlowNodeSection, Label: "Intro"},
			{ID: "question-1", Type: model.FlowNodeQuestion, Label: "Q1"},
			{ID: model.CompletionNodeID, Type: model.FlowNodeEnd, Label: "Survey complete"},
		},
		Edges: []model.FlowEdge{
			{From: "section-1", To: "question-1", Kind: model.FlowEdgeNatural},
			{From: "question-1", To: model.CompletionNodeID, Kind: model.FlowEdgeNatural},
		},
		EndPoints: []string{model.CompletionNodeID},
	}}
	h := newTestRouter(t, fb)

	rec := do(h, http.MethodGet, "/surveys/1/flow-map", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = do(h, http.MethodGet, "/surveys/1/flow-map?format=dot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/vnd.graphviz")
	assert.Contains(t, rec.Body.String(), "digraph SurveyFlow")

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/surveys/1/flow-map?format=svg", "").Code)
}

func TestImportRules(t *testing.T) {
	fb := &fakeBranching{}
	h := newTestRouter(t, fb)
	doc := `{"rules":[{"questionId":1,"conditionType":"Equals","conditionValue":"No","actionType":"EndSurvey","order":1}]}`

	rec := do(h, http.MethodPut, "/surveys/1/rules", doc, "Authorization", authorToken(t, auth.RoleAuthor))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"surveyId":1,"rules":1,"validationTaskId":"01TASK"}`, rec.Body.String())
	require.Len(t, fb.imported, 1)
	assert.True(t, fb.imported[0].IsActive, "missing isActive means active")
}

func TestImportRules_Rejected(t *testing.T) {
	fb := &fakeBranching{}
	h := newTestRouter(t, fb)
	author := authorToken(t, auth.RoleAuthor)

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPut, "/surveys/1/rules", `{"rules":[]}`).Code)
	assert.Equal(t, http.StatusForbidden, do(h, http.MethodPut, "/surveys/1/rules", `{"rules":[]}`,
		"Authorization", authorToken(t, auth.RoleRespondent)).Code)

	rec := do(h, http.MethodPut, "/surveys/1/rules", `{"rules":[{"questionId":1}]}`, "Authorization", author)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_document")
	assert.Nil(t, fb.imported)

	fb.importErr = &branching.ConfigurationError{RuleID: 2, Reason: "question 42 is not part of survey 1"}
	doc := `{"rules":[{"questionId":42,"conditionType":"Equals","actionType":"EndSurvey"}]}`
	rec = do(h, http.MethodPut, "/surveys/1/rules", doc, "Authorization", author)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "configuration_error")

	fb.importErr = fmt.Errorf("%w: 2 exceeds limit of 1", service.ErrTooManyRules)
	rec = do(h, http.MethodPut, "/surveys/1/rules", doc, "Authorization", author)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "too_many_rules")
}
