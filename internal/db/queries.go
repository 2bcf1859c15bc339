package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"surveyflow/internal/branching"
	"surveyflow/internal/model"
)

// Queries wraps database queries
type Queries struct {
	*pgxpool.Pool
}

// NewQueries creates a new Queries instance
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{Pool: pool}
}

const ruleColumns = `id, survey_id, question_id, logic_type, condition_type, condition_value,
	condition_value2, action_type, target_question_id, target_question_ids,
	target_section_id, rule_order, is_active, message`

// Rule queries
func (q *Queries) RulesForQuestion(ctx context.Context, questionID int64) ([]model.LogicRule, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT `+ruleColumns+`
		FROM logic_rules
		WHERE question_id = $1
		ORDER BY rule_order, id`,
		questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules for question %d: %w", questionID, err)
	}
	return scanRules(rows)
}

func (q *Queries) RulesForSurvey(ctx context.Context, surveyID int64) ([]model.LogicRule, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT `+ruleColumns+`
		FROM logic_rules
		WHERE survey_id = $1
		ORDER BY question_id, rule_order, id`,
		surveyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules for survey %d: %w", surveyID, err)
	}
	return scanRules(rows)
}

func scanRules(rows pgx.Rows) ([]model.LogicRule, error) {
	defer rows.Close()

	rules := []model.LogicRule{}
	for rows.Next() {
		var r model.LogicRule
		var logicType, value, value2, message *string
		err := rows.Scan(
			&r.ID, &r.SurveyID, &r.QuestionID, &logicType, &r.ConditionType, &value,
			&value2, &r.ActionType, &r.TargetQuestionID, &r.TargetQuestionIDs,
			&r.TargetSectionID, &r.Order, &r.IsActive, &message,
		)
		if err != nil {
			return nil, err
		}
		r.LogicType = deref(logicType)
		r.ConditionValue = deref(value)
		r.ConditionValue2 = deref(value2)
		r.Message = deref(message)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ReplaceSurveyRules swaps a survey's whole rule set in one transaction.
func (q *Queries) ReplaceSurveyRules(ctx context.Context, surveyID int64, rules []model.LogicRule) error {
	tx, err := q.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM logic_rules WHERE survey_id = $1", surveyID); err != nil {
		return fmt.Errorf("failed to clear rules: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range rules {
		batch.Queue(
			`INSERT INTO logic_rules (
				survey_id, question_id, logic_type, condition_type, condition_value,
				condition_value2, action_type, target_question_id, target_question_ids,
				target_section_id, rule_order, is_active, message
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			surveyID, r.QuestionID, r.LogicType, r.ConditionType, r.ConditionValue,
			r.ConditionValue2, r.ActionType, r.TargetQuestionID, r.TargetQuestionIDs,
			r.TargetSectionID, r.Order, r.IsActive, r.Message,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert rules: %w", err)
	}

	return tx.Commit(ctx)
}

// Survey queries
func (q *Queries) GetSurvey(ctx context.Context, surveyID int64) (model.Survey, error) {
	var s model.Survey
	err := q.Pool.QueryRow(ctx,
		"SELECT id, title FROM surveys WHERE id = $1",
		surveyID,
	).Scan(&s.ID, &s.Title)
	if err != nil {
		return s, notFound(err, "survey %d", surveyID)
	}

	sections, err := q.Pool.Query(ctx,
		"SELECT id, survey_id, title, position FROM sections WHERE survey_id = $1 ORDER BY position, id",
		surveyID,
	)
	if err != nil {
		return s, fmt.Errorf("failed to query sections: %w", err)
	}
	s.Sections, err = pgx.CollectRows(sections, func(row pgx.CollectableRow) (model.Section, error) {
		var sec model.Section
		err := row.Scan(&sec.ID, &sec.SurveyID, &sec.Title, &sec.Position)
		return sec, err
	})
	if err != nil {
		return s, fmt.Errorf("failed to scan sections: %w", err)
	}

	questions, err := q.Pool.Query(ctx,
		`SELECT id, survey_id, section_id, text, position, hidden_by_default
		FROM questions WHERE survey_id = $1 ORDER BY section_id, position, id`,
		surveyID,
	)
	if err != nil {
		return s, fmt.Errorf("failed to query questions: %w", err)
	}
	s.Questions, err = pgx.CollectRows(questions, func(row pgx.CollectableRow) (model.Question, error) {
		var qu model.Question
		err := row.Scan(&qu.ID, &qu.SurveyID, &qu.SectionID, &qu.Text, &qu.Position, &qu.HiddenByDefault)
		return qu, err
	})
	if err != nil {
		return s, fmt.Errorf("failed to scan questions: %w", err)
	}

	return s, nil
}

// Participation queries
func (q *Queries) GetParticipation(ctx context.Context, participationID int64) (model.Participation, error) {
	var p model.Participation
	err := q.Pool.QueryRow(ctx,
		`SELECT id, survey_id, current_section_id, current_question_id, is_complete, updated_at
		FROM participations WHERE id = $1`,
		participationID,
	).Scan(&p.ID, &p.SurveyID, &p.CurrentSectionID, &p.CurrentQuestionID, &p.IsComplete, &p.UpdatedAt)
	if err != nil {
		return p, notFound(err, "participation %d", participationID)
	}
	return p, nil
}

// RecordResponse saves an answer and moves the participation in one
// transaction. The participation row is locked for the duration so
// concurrent submissions for the same participation apply in turn.
func (q *Queries) RecordResponse(ctx context.Context, participationID int64, answer model.SavedAnswer, nav model.Navigation) (model.Participation, error) {
	var p model.Participation

	tx, err := q.Pool.Begin(ctx)
	if err != nil {
		return p, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var complete bool
	err = tx.QueryRow(ctx,
		"SELECT is_complete FROM participations WHERE id = $1 FOR UPDATE",
		participationID,
	).Scan(&complete)
	if err != nil {
		return p, notFound(err, "participation %d", participationID)
	}
	if complete {
		return p, fmt.Errorf("participation %d: %w", participationID, branching.ErrParticipationComplete)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO answers (participation_id, question_id, answer_value, answered_at)
		VALUES ($1, $2, $3, $4)`,
		participationID, answer.QuestionID, answer.AnswerValue, answer.AnsweredAt,
	)
	if err != nil {
		return p, fmt.Errorf("failed to insert answer: %w", err)
	}

	// A question jump also moves the participation into that question's section.
	err = tx.QueryRow(ctx,
		`UPDATE participations SET
			current_section_id = COALESCE(
				(SELECT section_id FROM questions WHERE id = $3),
				$2,
				current_section_id
			),
			current_question_id = CASE
				WHEN $3::BIGINT IS NOT NULL THEN $3
				WHEN $2::BIGINT IS NOT NULL THEN NULL
				ELSE current_question_id
			END,
			is_complete = is_complete OR $4,
			updated_at = NOW()
		WHERE id = $1
		RETURNING id, survey_id, current_section_id, current_question_id, is_complete, updated_at`,
		participationID, nav.SectionID, nav.QuestionID, nav.Complete,
	).Scan(&p.ID, &p.SurveyID, &p.CurrentSectionID, &p.CurrentQuestionID, &p.IsComplete, &p.UpdatedAt)
	if err != nil {
		return p, fmt.Errorf("failed to update participation: %w", err)
	}

	return p, tx.Commit(ctx)
}

// Answer queries
func (q *Queries) SavedAnswers(ctx context.Context, participationID int64) ([]model.SavedAnswer, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT question_id, answer_value, answered_at
		FROM answers
		WHERE participation_id = $1
		ORDER BY answered_at, id`,
		participationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query answers: %w", err)
	}
	answers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SavedAnswer, error) {
		var a model.SavedAnswer
		err := row.Scan(&a.QuestionID, &a.AnswerValue, &a.AnsweredAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan answers: %w", err)
	}
	return answers, nil
}

func notFound(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, branching.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
