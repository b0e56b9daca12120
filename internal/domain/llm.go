package domain

import "context"

// LLMProvider is the opaque language-model collaborator. The
// coordination layer treats generation as a black box: prompt plus
// optional retrieved context in, text out.
type LLMProvider interface {
	Generate(ctx context.Context, prompt string, knowledge []KnowledgeItem) (string, error)
	Name() string
}
