package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"surveyflow/internal/branching"
	"surveyflow/internal/model"
	"surveyflow/internal/pubsub"
)

// TypeFlowValidate re-checks a survey's rule graph after its rules change.
const TypeFlowValidate = "flow:validate"

// FlowValidator runs the integrity check for one survey
type FlowValidator interface {
	ValidateFlowIntegrity(ctx context.Context, surveyID int64) (model.IntegrityReport, error)
}

// Publisher receives the integrity outcome
type Publisher interface {
	PublishSurvey(ctx context.Context, surveyID int64, eventType string, data map[string]any) error
}

type FlowValidationPayload struct {
	SurveyID int64 `json:"surveyId"`
}

type JobServer struct {
	server    *asynq.Server
	client    *asynq.Client
	validator FlowValidator
	bus       Publisher
	log       *zap.Logger
}

func NewJobServer(redisAddr string, concurrency int, bus Publisher, log *zap.Logger) (*JobServer, *asynq.Client) {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	client := asynq.NewClient(redisOpt)

	return &JobServer{
		server: server,
		client: client,
		bus:    bus,
		log:    log,
	}, client
}

// SetValidator wires the service that performs integrity checks. The service
// itself needs the job client, so it is attached after construction.
func (js *JobServer) SetValidator(v FlowValidator) {
	js.validator = v
}

func (js *JobServer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeFlowValidate, js.handleFlowValidation)
	return js.server.Start(mux)
}

func (js *JobServer) Stop() {
	js.server.Shutdown()
	js.client.Close()
}

func (js *JobServer) handleFlowValidation(ctx context.Context, t *asynq.Task) error {
	payload, err := ParseFlowValidationPayload(t.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if js.validator == nil {
		return errors.New("flow validator not configured")
	}

	report, err := js.validator.ValidateFlowIntegrity(ctx, payload.SurveyID)
	if errors.Is(err, branching.ErrNotFound) {
		js.log.Warn("Survey vanished before validation", zap.Int64("survey_id", payload.SurveyID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to validate survey %d: %w", payload.SurveyID, err)
	}

	eventType := pubsub.EventIntegrityChecked
	if !report.Valid {
		eventType = pubsub.EventIntegrityViolated
	}
	_ = js.bus.PublishSurvey(ctx, payload.SurveyID, eventType, map[string]any{
		"valid":          report.Valid,
		"selfReferences": report.SelfReferences,
		"cycles":         report.Cycles,
		"errors":         report.Errors,
	})

	js.log.Info("Flow validated",
		zap.Int64("survey_id", payload.SurveyID),
		zap.Bool("valid", report.Valid),
		zap.Int("cycles", len(report.Cycles)),
	)
	return nil
}

// Schedule jobs

func NewFlowValidationTask(surveyID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(FlowValidationPayload{SurveyID: surveyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeFlowValidate, payload), nil
}

func ParseFlowValidationPayload(raw []byte) (FlowValidationPayload, error) {
	var p FlowValidationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("invalid %s payload: %w", TypeFlowValidate, err)
	}
	if p.SurveyID <= 0 {
		return p, fmt.Errorf("invalid %s payload: missing surveyId", TypeFlowValidate)
	}
	return p, nil
}

// ScheduleFlowValidation enqueues an integrity check and returns its task id.
func ScheduleFlowValidation(ctx context.Context, client *asynq.Client, surveyID int64, delay time.Duration) (string, error) {
	task, err := NewFlowValidationTask(surveyID)
	if err != nil {
		return "", err
	}

	taskID := ulid.Make().String()
	info, err := client.EnqueueContext(ctx, task,
		asynq.TaskID(taskID),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", TypeFlowValidate, err)
	}
	return info.ID, nil
}
