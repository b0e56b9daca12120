package domain

import "context"

// KnowledgeItem is one ranked result from the knowledge-retrieval
// service.
type KnowledgeItem struct {
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// KnowledgeSearcher is the opaque knowledge-retrieval collaborator.
// Failures degrade to empty results at the call site; they never abort
// a skill.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]KnowledgeItem, error)
}
