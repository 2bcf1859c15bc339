package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"surveyflow/internal/auth"
	"surveyflow/internal/model"
	"surveyflow/internal/pubsub"
	"surveyflow/internal/schema"
	"surveyflow/internal/service"
	"surveyflow/internal/ws"
)

// Branching is the service surface the handlers call
type Branching interface {
	EvaluateLogic(ctx context.Context, questionID int64, response string, participationID int64) (model.BranchingEvaluationResult, error)
	ProcessResponseBranching(ctx context.Context, participationID, questionID int64, response string) (service.ResponseOutcome, error)
	GetFlowState(ctx context.Context, participationID int64) (model.SurveyFlowState, error)
	GetAvailableQuestions(ctx context.Context, participationID int64) ([]int64, error)
	ValidateFlowIntegrity(ctx context.Context, surveyID int64) (model.IntegrityReport, error)
	GenerateFlowMap(ctx context.Context, surveyID int64) (model.FlowMap, error)
	ImportRules(ctx context.Context, surveyID int64, rules []model.LogicRule) (service.ImportResult, error)
	ParticipationEvents(ctx context.Context, participationID int64, sinceID string, limit int64) ([]pubsub.StreamEvent, error)
}

type Dependencies struct {
	Branching      Branching
	Schema         *schema.Compiler
	JWT            *auth.JWTConfig
	Hub            *ws.Hub
	AllowedOrigins []string
	Log            *zap.Logger
}

func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()

	// Add request logging middleware
	r.Use(RequestLogger(d.Log))

	// Respondent endpoints accept anonymous callers; rule imports need an author token
	r.Use(d.JWT.Middleware)

	r.Post("/logic/evaluate", d.evaluateLogic)

	r.Route("/participations/{id}", func(r chi.Router) {
		r.Post("/responses/branching", d.processResponse)
		r.Get("/flow-state", d.flowState)
		r.Get("/available-questions", d.availableQuestions)
		r.Get("/events", d.participationEvents)
	})

	r.Route("/surveys/{id}", func(r chi.Router) {
		r.Get("/flow-integrity", d.flowIntegrity)
		r.Get("/flow-map", d.flowMap)
		r.With(auth.RequireRole(auth.RoleAuthor)).Put("/rules", d.importRules)
	})

	// Live participation and survey events
	r.Get("/ws", d.wsHandler)

	return r
}
