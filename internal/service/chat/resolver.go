package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// Sentinel text encoding: models without native tool-call support encode an
// action request as "Function call: <name>, Arguments: <json>". The native
// structured channel always wins when both are present.
const (
	sentinelPrefix = "Function call: "
	argsSeparator  = ", Arguments: "
)

// credentialKey is the reserved argument the resolver injects the caller's
// credential under. The model never supplies it.
const credentialKey = "api_key"

type resolvedKind int

const (
	resolvedPlain resolvedKind = iota
	resolvedAction
)

// resolved is the outcome of classifying a model reply: either a plain text
// answer or a normalized action request.
type resolved struct {
	kind resolvedKind
	text string
	name string
	args map[string]any
}

func (r resolved) isAction() bool { return r.kind == resolvedAction }

// resolveChoice normalizes one model reply. Malformed sentinel text fails
// open to a plain reply; a malformed native tool call is an error, since the
// model committed to the structured channel and its arguments are unusable.
func resolveChoice(choice *llms.ContentChoice, apiKey string) (resolved, error) {
	if len(choice.ToolCalls) > 0 && choice.ToolCalls[0].FunctionCall != nil {
		call := choice.ToolCalls[0].FunctionCall
		args := map[string]any{}
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				return resolved{}, fmt.Errorf("parse tool call arguments for %s: %w", call.Name, err)
			}
		}
		args[credentialKey] = apiKey
		return resolved{kind: resolvedAction, name: call.Name, args: args}, nil
	}

	if action, ok := parseSentinel(choice.Content, apiKey); ok {
		return action, nil
	}

	return resolved{kind: resolvedPlain, text: choice.Content}, nil
}

// parseSentinel attempts the text-encoded fallback channel. Anything that
// doesn't split into exactly a name and a JSON object is not an action.
func parseSentinel(content, apiKey string) (resolved, bool) {
	if !strings.HasPrefix(content, sentinelPrefix) {
		return resolved{}, false
	}

	parts := strings.Split(content, argsSeparator)
	if len(parts) != 2 {
		return resolved{}, false
	}

	name := strings.TrimPrefix(parts[0], sentinelPrefix)

	args := map[string]any{}
	if err := json.Unmarshal([]byte(parts[1]), &args); err != nil {
		return resolved{}, false
	}

	args[credentialKey] = apiKey
	return resolved{kind: resolvedAction, name: name, args: args}, true
}
