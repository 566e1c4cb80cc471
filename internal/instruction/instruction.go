// Package instruction converts the free text of a review reply into a
// structured, actionable instruction. Matching is priority-ordered and the
// phrase lists are data (see tokens.yaml), so the grammar can be localized
// without touching parsing logic.
package instruction

import (
	"encoding/json"
	"fmt"
)

// Action identifies what the operator asked for.
type Action string

const (
	ActionPublish    Action = "publish"
	ActionRegenerate Action = "regenerate"
	ActionRevise     Action = "revise"
	ActionSkip       Action = "skip"
	ActionView       Action = "view"
	ActionUnknown    Action = "unknown"
)

// Instruction is the parsed intent of one reply. Candidate is 1-based and
// zero when the action takes no candidate. Unknown instructions retain the
// raw body for audit.
type Instruction struct {
	Action    Action `json:"action"`
	Candidate int    `json:"candidate,omitempty"`
	Direction string `json:"direction,omitempty"`
	Feedback  string `json:"feedback,omitempty"`
	Raw       string `json:"raw,omitempty"`
}

// String returns a short human-readable summary for logs.
func (in Instruction) String() string {
	switch in.Action {
	case ActionPublish, ActionRevise, ActionView:
		return fmt.Sprintf("%s candidate %d", in.Action, in.Candidate)
	case ActionRegenerate:
		if in.Direction != "" {
			return fmt.Sprintf("regenerate (direction: %s)", in.Direction)
		}
		return "regenerate"
	default:
		return string(in.Action)
	}
}

// Encode serializes an instruction for durable storage.
func (in Instruction) Encode() string {
	data, err := json.Marshal(in)
	if err != nil {
		return string(in.Action)
	}
	return string(data)
}

// Decode restores an instruction serialized with Encode.
func Decode(s string) (Instruction, error) {
	var in Instruction
	if err := json.Unmarshal([]byte(s), &in); err != nil {
		return Instruction{}, fmt.Errorf("decode instruction: %w", err)
	}
	return in, nil
}
