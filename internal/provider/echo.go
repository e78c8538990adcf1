package provider

import (
	"context"
	"fmt"
	"strings"
)

// EchoName is the identifier of the offline provider.
const EchoName = "echo"

// ReflectionMarker appears in every reflection prompt; Echo answers such
// prompts with a neutral, well-formed reflection.
const ReflectionMarker = "Respond with exactly these lines"

// Echo is a deterministic offline provider for demos and dry runs.
type Echo struct{}

func (Echo) Name() string { return EchoName }

func (Echo) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.Contains(req.Prompt, ReflectionMarker) {
		return "Reflection: offline echo reflection\nImpact: 0.5\nConfidence: 0.5", nil
	}
	prompt := strings.TrimSpace(req.Prompt)
	if i := strings.LastIndex(prompt, "\n"); i >= 0 {
		prompt = strings.TrimSpace(prompt[i+1:])
	}
	return fmt.Sprintf("[echo] %s", prompt), nil
}
