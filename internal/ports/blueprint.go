package ports

import (
	"context"

	"github.com/stackctl/stackctl/internal/domain/stackset"
)

// RenderContext is the information a Blueprint needs to produce a
// template body (spec §6).
type RenderContext struct {
	Namespace string
	Stack     string
	Region    string
	Profile   string
}

// Blueprint is the external template-producer capability (spec §6).
type Blueprint interface {
	Name() string
	VariableSchema() stackset.VariableSchema
	Render(ctx context.Context, rc RenderContext, bound stackset.BoundVariables) (body []byte, kind string, err error)
	FQN(ctx context.Context, rc RenderContext) string
}

// BlueprintRegistry resolves the "class path" string in a StackDef to a
// Blueprint instance (spec §9 "Blueprint polymorphism" — resolution lives
// outside the core).
type BlueprintRegistry interface {
	Resolve(name string) (Blueprint, error)
}
