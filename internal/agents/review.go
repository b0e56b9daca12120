package agents

import (
	"context"
	"strings"

	"agentmesh/internal/domain"
	"agentmesh/internal/usecase"
)

// SkillAnalyzeReviews and SkillFlagReview are the review agent's skill
// names.
const (
	SkillAnalyzeReviews = "analyze_reviews"
	SkillFlagReview     = "flag_review"
)

var negativeMarkers = []string{"broken", "refund", "scam", "terrible", "never arrived", "damaged"}

// NewReview builds a review agent: marketplace review analysis and
// policy flagging.
func NewReview(agent *domain.Agent, deps usecase.RuntimeDeps) *usecase.BaseRuntime {
	rt := usecase.NewBaseRuntime(agent, deps)

	rt.RegisterSkill(SkillAnalyzeReviews, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		raw, ok := input["reviews"].([]any)
		if !ok || len(raw) == 0 {
			return nil, domain.NewDomainError("review.analyze_reviews", domain.ErrInvalidInput, "reviews must be a non-empty list")
		}

		reviews := make([]string, 0, len(raw))
		for _, item := range raw {
			s, ok := item.(string)
			if !ok {
				return nil, domain.NewDomainError("review.analyze_reviews", domain.ErrInvalidInput, "reviews must be strings")
			}
			reviews = append(reviews, s)
		}

		negative := 0
		for _, review := range reviews {
			if isNegative(review) {
				negative++
			}
		}

		summary := rt.CallLanguageModel(ctx,
			"Summarize the recurring themes in these marketplace reviews:\n"+strings.Join(reviews, "\n"), nil)

		return map[string]any{
			"total":    len(reviews),
			"negative": negative,
			"positive": len(reviews) - negative,
			"summary":  summary,
		}, nil
	})

	rt.RegisterSkill(SkillFlagReview, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		review, ok := stringInput(input, "review")
		if !ok {
			return nil, domain.NewDomainError("review.flag_review", domain.ErrInvalidInput, "review is required")
		}

		flagged := isNegative(review)
		var reason string
		if flagged {
			reason = rt.CallLanguageModel(ctx, "Explain which policy this review may violate:\n"+review, nil)
		}

		return map[string]any{
			"flagged": flagged,
			"reason":  reason,
		}, nil
	})

	return rt
}

func isNegative(review string) bool {
	lower := strings.ToLower(review)
	for _, marker := range negativeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
