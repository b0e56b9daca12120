package agents

import (
	"context"
	"strings"

	"agentmesh/internal/domain"
	"agentmesh/internal/usecase"
)

// SkillScoreSubmission and SkillSummarizeAssessment are the assessment
// agent's skill names.
const (
	SkillScoreSubmission     = "score_submission"
	SkillSummarizeAssessment = "summarize_assessment"
)

// NewAssessment builds an assessment agent: submission scoring against
// rubric knowledge, with a generated rationale.
func NewAssessment(agent *domain.Agent, deps usecase.RuntimeDeps) *usecase.BaseRuntime {
	rt := usecase.NewBaseRuntime(agent, deps)

	rt.RegisterSkill(SkillScoreSubmission, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		submission, ok := stringInput(input, "submission")
		if !ok {
			return nil, domain.NewDomainError("assessment.score_submission", domain.ErrInvalidInput, "submission is required")
		}
		rubric, _ := stringInput(input, "rubric")

		knowledge := rt.QueryKnowledgeBase(ctx, "rubric "+rubric, 3)
		rationale := rt.CallLanguageModel(ctx,
			"Assess the following submission against the rubric:\n"+submission, knowledge)

		return map[string]any{
			"score":     scoreSubmission(submission),
			"rationale": rationale,
			"rubric":    rubric,
		}, nil
	})

	rt.RegisterSkill(SkillSummarizeAssessment, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		submission, ok := stringInput(input, "submission")
		if !ok {
			return nil, domain.NewDomainError("assessment.summarize_assessment", domain.ErrInvalidInput, "submission is required")
		}

		summary := rt.CallLanguageModel(ctx, "Summarize this assessment submission:\n"+submission, nil)
		return map[string]any{
			"summary": summary,
			"length":  len(submission),
		}, nil
	})

	return rt
}

// scoreSubmission is a structural baseline score in [0, 100]: coverage
// by word count, capped. The generated rationale carries the
// qualitative judgement.
func scoreSubmission(submission string) int {
	words := len(strings.Fields(submission))
	score := words / 5
	if score > 100 {
		score = 100
	}
	return score
}
