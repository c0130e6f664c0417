package blocks

import (
	"encoding/json"
	"fmt"
)

// Payload variants embedded in generated responses. The discriminant is the
// "type" field; a block without one is treated as a script for compatibility
// with older model output.
const (
	TypeScript = "script"
	TypePart   = "part"
)

// Script kinds the editor understands.
var validScriptTypes = map[string]bool{
	"Script":       true,
	"LocalScript":  true,
	"ModuleScript": true,
}

// Services a generated script may target.
var validTargetServices = map[string]bool{
	"ServerScriptService":  true,
	"StarterPlayerScripts": true,
	"ReplicatedStorage":    true,
	"StarterGui":           true,
}

// Part class tags the editor can instance directly.
var validClassNames = map[string]bool{
	"Part":          true,
	"MeshPart":      true,
	"SpawnLocation": true,
	"Seat":          true,
	"TrussPart":     true,
	"WedgePart":     true,
}

// Payload is one unit of work for the editor plugin: either a script to
// create or an object to instance. Exactly one variant is populated.
type Payload struct {
	Type string `json:"type"`
	Name string `json:"name"`

	// script variant
	ScriptType    string `json:"scriptType,omitempty"`
	TargetService string `json:"targetService,omitempty"`
	Code          string `json:"code,omitempty"`

	// part variant
	ClassName  string         `json:"className,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Parse decodes one raw block body into a normalized Payload. A missing
// "type" discriminant defaults to the script variant. Blocks that do not
// satisfy the variant's required fields are rejected.
func Parse(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, fmt.Errorf("decoding block: %w", err)
	}

	if p.Type == "" {
		p.Type = TypeScript
	}

	switch p.Type {
	case TypeScript:
		if p.Name == "" || p.Code == "" {
			return Payload{}, fmt.Errorf("script block missing name or code")
		}
		if !validScriptTypes[p.ScriptType] {
			return Payload{}, fmt.Errorf("invalid scriptType %q", p.ScriptType)
		}
		if !validTargetServices[p.TargetService] {
			return Payload{}, fmt.Errorf("invalid targetService %q", p.TargetService)
		}
		p.ClassName = ""
		p.Properties = nil
	case TypePart:
		if p.Name == "" {
			return Payload{}, fmt.Errorf("part block missing name")
		}
		if !validClassNames[p.ClassName] {
			return Payload{}, fmt.Errorf("invalid className %q", p.ClassName)
		}
		p.ScriptType = ""
		p.TargetService = ""
		p.Code = ""
	default:
		return Payload{}, fmt.Errorf("unknown block type %q", p.Type)
	}

	return p, nil
}
