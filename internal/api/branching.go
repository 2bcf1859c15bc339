package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"surveyflow/internal/branching"
	"surveyflow/internal/model"
	"surveyflow/internal/pubsub"
	"surveyflow/internal/schema"
)

const (
	maxRuleDocumentBytes = 4 << 20
	defaultEventLimit    = 100
	maxEventLimit        = 1000
)

type EvaluateLogicRequest struct {
	QuestionID      int64  `json:"questionId"`
	Response        string `json:"response"`
	ParticipationID int64  `json:"participationId,omitempty"`
}

type BranchingResponseRequest struct {
	QuestionID int64  `json:"questionId"`
	Response   string `json:"response"`
}

type ruleSetDocument struct {
	Rules []model.LogicRule `json:"rules"`
}

func (d Dependencies) evaluateLogic(w http.ResponseWriter, r *http.Request) {
	var req EvaluateLogicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if req.QuestionID <= 0 {
		WriteError(w, http.StatusBadRequest, "invalid_request", "questionId is required", d.Log)
		return
	}

	result, err := d.Branching.EvaluateLogic(r.Context(), req.QuestionID, req.Response, req.ParticipationID)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}

	status := http.StatusOK
	if result.IsError {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

func (d Dependencies) processResponse(w http.ResponseWriter, r *http.Request) {
	participationID, ok := d.pathID(w, r)
	if !ok {
		return
	}

	var req BranchingResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if req.QuestionID <= 0 {
		WriteError(w, http.StatusBadRequest, "invalid_request", "questionId is required", d.Log)
		return
	}

	outcome, err := d.Branching.ProcessResponseBranching(r.Context(), participationID, req.QuestionID, req.Response)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}

	status := http.StatusOK
	if outcome.Result.IsError {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, outcome)
}

func (d Dependencies) flowState(w http.ResponseWriter, r *http.Request) {
	participationID, ok := d.pathID(w, r)
	if !ok {
		return
	}

	state, err := d.Branching.GetFlowState(r.Context(), participationID)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (d Dependencies) availableQuestions(w http.ResponseWriter, r *http.Request) {
	participationID, ok := d.pathID(w, r)
	if !ok {
		return
	}

	ids, err := d.Branching.GetAvailableQuestions(r.Context(), participationID)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"participationId":    participationID,
		"availableQuestions": ids,
	})
}

func (d Dependencies) participationEvents(w http.ResponseWriter, r *http.Request) {
	participationID, ok := d.pathID(w, r)
	if !ok {
		return
	}

	limit := int64(defaultEventLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer", d.Log)
			return
		}
		limit = min(v, maxEventLimit)
	}

	since := r.URL.Query().Get("since")
	if since != "" && !pubsub.ValidStreamID(since) {
		WriteError(w, http.StatusBadRequest, "invalid_request", "since must be a stream id", d.Log)
		return
	}

	events, err := d.Branching.ParticipationEvents(r.Context(), participationID, since, limit)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"participationId": participationID,
		"events":          events,
	})
}

func (d Dependencies) flowIntegrity(w http.ResponseWriter, r *http.Request) {
	surveyID, ok := d.pathID(w, r)
	if !ok {
		return
	}

	report, err := d.Branching.ValidateFlowIntegrity(r.Context(), surveyID)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (d Dependencies) flowMap(w http.ResponseWriter, r *http.Request) {
	surveyID, ok := d.pathID(w, r)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "dot" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "format must be json or dot", d.Log)
		return
	}

	fm, err := d.Branching.GenerateFlowMap(r.Context(), surveyID)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}

	if format != "dot" {
		writeJSON(w, http.StatusOK, fm)
		return
	}

	dot, err := branching.RenderDOT(fm)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, dot)
}

func (d Dependencies) importRules(w http.ResponseWriter, r *http.Request) {
	surveyID, ok := d.pathID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRuleDocumentBytes))
	if err != nil {
		WriteError(w, http.StatusRequestEntityTooLarge, "invalid_request", "Rule document too large", d.Log)
		return
	}
	if err := d.Schema.ValidateJSON(r.Context(), schema.RuleSet, body); err != nil {
		writeServiceError(w, err, d.Log)
		return
	}

	var doc ruleSetDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	result, err := d.Branching.ImportRules(r.Context(), surveyID, doc.Rules)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}

	d.Log.Info("Rule set replaced",
		zap.Int64("survey_id", surveyID),
		zap.Int("rules", result.Rules),
		zap.String("validation_task_id", result.ValidationTaskID),
	)
	writeJSON(w, http.StatusAccepted, result)
}

func (d Dependencies) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid id", d.Log)
		return 0, false
	}
	return id, true
}
