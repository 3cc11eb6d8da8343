package realtime

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types the middle tier inspects
const (
	ServerEventTypeError                              ServerEventType = "error"
	ServerEventTypeSessionCreated                     ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                     ServerEventType = "session.updated"
	ServerEventTypeConversationItemCreated            ServerEventType = "conversation.item.created"
	ServerEventTypeResponseOutputItemAdded            ServerEventType = "response.output_item.added"
	ServerEventTypeResponseOutputItemDone             ServerEventType = "response.output_item.done"
	ServerEventTypeResponseFunctionCallArgumentsDelta ServerEventType = "response.function_call_arguments.delta"
	ServerEventTypeResponseFunctionCallArgumentsDone  ServerEventType = "response.function_call_arguments.done"
	ServerEventTypeResponseDone                       ServerEventType = "response.done"
)

// Client event types the middle tier inspects or sends
const (
	ClientEventTypeSessionUpdate          ClientEventType = "session.update"
	ClientEventTypeInputAudioBufferAppend ClientEventType = "input_audio_buffer.append"
	ClientEventTypeConversationItemCreate ClientEventType = "conversation.item.create"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
)

// ExtensionEventTypeToolResponse carries a ToClient tool result to the browser.
const ExtensionEventTypeToolResponse EventType = "extension.middle_tier_tool_response"

// Conversation item types
const (
	itemTypeFunctionCall       = "function_call"
	itemTypeFunctionCallOutput = "function_call_output"
)

func eventType(msg []byte) string {
	return gjson.GetBytes(msg, "type").String()
}

func newEventID() string {
	return "event_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// functionCall is a function_call conversation item as reported upstream.
type functionCall struct {
	CallID    string
	Name      string
	Arguments string
}

// parseFunctionCall returns the function_call held at path, or false if the
// item there is of another type.
func parseFunctionCall(msg []byte, path string) (functionCall, bool) {
	item := gjson.GetBytes(msg, path)
	if item.Get("type").String() != itemTypeFunctionCall {
		return functionCall{}, false
	}
	return functionCall{
		CallID:    item.Get("call_id").String(),
		Name:      item.Get("name").String(),
		Arguments: item.Get("arguments").String(),
	}, true
}

func itemType(msg []byte) string {
	return gjson.GetBytes(msg, "item.type").String()
}

type functionCallOutputItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type conversationItemCreateEvent struct {
	EventID string                 `json:"event_id,omitempty"`
	Type    ClientEventType        `json:"type"`
	Item    functionCallOutputItem `json:"item"`
}

type responseCreateEvent struct {
	EventID string          `json:"event_id,omitempty"`
	Type    ClientEventType `json:"type"`
}

type toolResponseEvent struct {
	Type           EventType `json:"type"`
	PreviousItemID string    `json:"previous_item_id"`
	ToolName       string    `json:"tool_name"`
	ToolResult     string    `json:"tool_result"`
}

func newFunctionCallOutput(callID, output string) ([]byte, error) {
	return sonic.Marshal(&conversationItemCreateEvent{
		EventID: newEventID(),
		Type:    ClientEventTypeConversationItemCreate,
		Item: functionCallOutputItem{
			Type:   itemTypeFunctionCallOutput,
			CallID: callID,
			Output: output,
		},
	})
}

func newResponseCreate() ([]byte, error) {
	return sonic.Marshal(&responseCreateEvent{
		EventID: newEventID(),
		Type:    ClientEventTypeResponseCreate,
	})
}

func newToolResponse(previousItemID, toolName, result string) ([]byte, error) {
	return sonic.Marshal(&toolResponseEvent{
		Type:           ExtensionEventTypeToolResponse,
		PreviousItemID: previousItemID,
		ToolName:       toolName,
		ToolResult:     result,
	})
}

// sessionOverrides are the server-side settings forced into every
// session.update sent by a browser.
type sessionOverrides struct {
	Instructions string
	Temperature  param.Opt[float64]
	MaxTokens    param.Opt[int64]
	DisableAudio bool
	Voice        string
	Tools        []ToolSchema
}

func applySessionOverrides(msg []byte, o *sessionOverrides) ([]byte, error) {
	var err error
	set := func(path string, value any) {
		if err == nil {
			msg, err = sjson.SetBytes(msg, path, value)
		}
	}
	setRaw := func(path, raw string) {
		if err == nil {
			msg, err = sjson.SetRawBytes(msg, path, []byte(raw))
		}
	}

	if o.Instructions != "" {
		set("session.instructions", o.Instructions)
	}
	if o.Temperature.Valid() {
		set("session.temperature", o.Temperature.Value)
	}
	if o.MaxTokens.Valid() {
		set("session.max_response_output_tokens", o.MaxTokens.Value)
	}
	if o.DisableAudio {
		setRaw("session.modalities", `["text"]`)
	}
	if o.Voice != "" {
		set("session.voice", o.Voice)
	}
	if len(o.Tools) > 0 {
		set("session.tool_choice", "auto")
	} else {
		set("session.tool_choice", "none")
	}
	tools, mErr := sonic.Marshal(nonNilTools(o.Tools))
	if mErr != nil {
		return nil, fmt.Errorf("marshaling tool schemas: %w", mErr)
	}
	setRaw("session.tools", string(tools))
	if err != nil {
		return nil, fmt.Errorf("rewriting session.update: %w", err)
	}
	return msg, nil
}

func nonNilTools(tools []ToolSchema) []ToolSchema {
	if tools == nil {
		return []ToolSchema{}
	}
	return tools
}

// scrubSessionCreated hides server-side session settings from the browser.
func scrubSessionCreated(msg []byte) ([]byte, error) {
	var err error
	for _, f := range []struct {
		path string
		raw  string
	}{
		{"session.instructions", `""`},
		{"session.tools", `[]`},
		{"session.voice", `""`},
		{"session.tool_choice", `"none"`},
		{"session.max_response_output_tokens", `null`},
	} {
		msg, err = sjson.SetRawBytes(msg, f.path, []byte(f.raw))
		if err != nil {
			return nil, fmt.Errorf("rewriting %s: %w", f.path, err)
		}
	}
	return msg, nil
}

// stripFunctionCalls removes function_call items from response.output.
func stripFunctionCalls(msg []byte) ([]byte, error) {
	output := gjson.GetBytes(msg, "response.output")
	if !output.IsArray() {
		return msg, nil
	}
	removed := false
	kept := make([]string, 0)
	output.ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() == itemTypeFunctionCall {
			removed = true
		} else {
			kept = append(kept, item.Raw)
		}
		return true
	})
	if !removed {
		return msg, nil
	}
	msg, err := sjson.SetRawBytes(msg, "response.output", []byte("["+strings.Join(kept, ",")+"]"))
	if err != nil {
		return nil, fmt.Errorf("rewriting response.output: %w", err)
	}
	return msg, nil
}
