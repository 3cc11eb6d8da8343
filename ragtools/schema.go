package ragtools

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/invopop/jsonschema"
	oaishared "github.com/openai/openai-go/v3/shared"
)

// SearchArgs are the arguments the model passes to the search tool.
type SearchArgs struct {
	Query string `json:"query" jsonschema_description:"Search query"`
}

// GroundingArgs are the arguments the model passes to report_grounding.
type GroundingArgs struct {
	Sources []string `json:"sources" jsonschema_description:"List of source names from last statement actually used, do not include the ones not used to formulate a response"`
}

var reflector = &jsonschema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
	ExpandedStruct:            true,
	Anonymous:                 true,
}

// parametersOf reflects v into the function parameter schema advertised to
// the model.
func parametersOf(v any) (oaishared.FunctionParameters, error) {
	raw, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	var params oaishared.FunctionParameters
	if err := sonic.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	delete(params, "$schema")
	delete(params, "$id")
	return params, nil
}
