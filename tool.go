package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/bt-bridge/voicerag/shared"
	"github.com/bytedance/sonic"
	oaishared "github.com/openai/openai-go/v3/shared"
)

// ToolResultDirection says who receives a tool's result.
type ToolResultDirection int

const (
	// ToServer sends the result back to the model as the function output.
	ToServer ToolResultDirection = iota + 1
	// ToClient gives the model an empty output and forwards the result to the
	// browser as an extension event.
	ToClient
)

func (d ToolResultDirection) String() string {
	switch d {
	case ToServer:
		return "to_server"
	case ToClient:
		return "to_client"
	default:
		return fmt.Sprintf("ToolResultDirection(%d)", int(d))
	}
}

type ToolResult struct {
	Value       any
	Destination ToolResultDirection
}

// Text renders the result as sent on the wire: strings verbatim, anything
// else as JSON.
func (r *ToolResult) Text() (string, error) {
	if r == nil || r.Value == nil {
		return "", nil
	}
	if s, ok := r.Value.(string); ok {
		return s, nil
	}
	s, err := sonic.MarshalString(r.Value)
	if err != nil {
		return "", fmt.Errorf("marshaling tool result: %w", err)
	}
	return s, nil
}

// ToolSchema is the function declaration advertised to the model in
// session.update.
type ToolSchema struct {
	Type        string                       `json:"type" yaml:"type"`
	Name        string                       `json:"name" yaml:"name"`
	Description string                       `json:"description" yaml:"description"`
	Parameters  oaishared.FunctionParameters `json:"parameters" yaml:"parameters"`
}

func NewFunctionSchema(name, description string, parameters oaishared.FunctionParameters) ToolSchema {
	return ToolSchema{
		Type:        "function",
		Name:        name,
		Description: description,
		Parameters:  parameters,
	}
}

// ToolFunc runs a tool with the raw JSON arguments produced by the model.
type ToolFunc func(ctx context.Context, args []byte) (*ToolResult, error)

type Tool struct {
	Schema ToolSchema
	Target ToolFunc
}

func (t Tool) validate(name string) error {
	if name == "" {
		return errors.New("tool name is required")
	}
	if t.Target == nil {
		return fmt.Errorf("tool %q: %w", name, shared.ErrNoToolTarget)
	}
	if t.Schema.Name != "" && t.Schema.Name != name {
		return fmt.Errorf("tool %q: schema is named %q", name, t.Schema.Name)
	}
	return nil
}
