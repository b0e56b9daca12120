package agents

import (
	"context"
	"fmt"
	"strings"

	"agentmesh/internal/domain"
	"agentmesh/internal/usecase"
)

// SkillFindVendors and SkillQualifyVendor are the sourcing agent's
// skill names.
const (
	SkillFindVendors   = "find_vendors"
	SkillQualifyVendor = "qualify_vendor"
)

// NewSourcing builds a sourcing agent: vendor discovery backed by the
// knowledge base, qualification backed by the language model.
func NewSourcing(agent *domain.Agent, deps usecase.RuntimeDeps) *usecase.BaseRuntime {
	rt := usecase.NewBaseRuntime(agent, deps)

	rt.RegisterSkill(SkillFindVendors, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		query, ok := stringInput(input, "query")
		if !ok {
			return nil, domain.NewDomainError("sourcing.find_vendors", domain.ErrInvalidInput, "query is required")
		}
		limit := intInput(input, "limit", 10)

		items := rt.QueryKnowledgeBase(ctx, "vendor "+query, limit)
		vendors := make([]map[string]any, 0, len(items))
		for _, item := range items {
			vendors = append(vendors, map[string]any{
				"description": item.Content,
				"relevance":   item.Score,
				"metadata":    item.Metadata,
			})
		}

		return map[string]any{
			"query":   query,
			"vendors": vendors,
			"count":   len(vendors),
		}, nil
	})

	rt.RegisterSkill(SkillQualifyVendor, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		vendor, ok := stringInput(input, "vendor")
		if !ok {
			return nil, domain.NewDomainError("sourcing.qualify_vendor", domain.ErrInvalidInput, "vendor is required")
		}
		criteria, _ := stringInput(input, "criteria")

		knowledge := rt.QueryKnowledgeBase(ctx, vendor, 5)
		prompt := fmt.Sprintf("Qualify vendor %q against criteria: %s", vendor, criteria)
		analysis := rt.CallLanguageModel(ctx, prompt, knowledge)

		qualified := len(knowledge) > 0 && !strings.Contains(strings.ToLower(analysis), "disqualif")

		return map[string]any{
			"vendor":    vendor,
			"qualified": qualified,
			"analysis":  analysis,
			"evidence":  len(knowledge),
		}, nil
	})

	return rt
}
