// Package agents holds the closed set of concrete agent types. Each
// type is one constructor registering its skill bodies on the shared
// runtime; adding a type means adding one file and one table entry.
package agents

import (
	"agentmesh/internal/domain"
	"agentmesh/internal/usecase"
	"agentmesh/internal/usecase/registry"
)

// Constructors returns the type-dispatch table consumed by the
// registry. The set is closed: sourcing, assessment, review.
func Constructors(deps usecase.RuntimeDeps) map[domain.AgentType]registry.Constructor {
	return map[domain.AgentType]registry.Constructor{
		domain.AgentTypeSourcing: func(agent *domain.Agent) (domain.AgentRuntime, error) {
			return NewSourcing(agent, deps), nil
		},
		domain.AgentTypeAssessment: func(agent *domain.Agent) (domain.AgentRuntime, error) {
			return NewAssessment(agent, deps), nil
		},
		domain.AgentTypeReview: func(agent *domain.Agent) (domain.AgentRuntime, error) {
			return NewReview(agent, deps), nil
		},
	}
}

func stringInput(input map[string]any, key string) (string, bool) {
	v, ok := input[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func intInput(input map[string]any, key string, fallback int) int {
	switch v := input[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		// JSON numbers decode as float64.
		return int(v)
	default:
		return fallback
	}
}
