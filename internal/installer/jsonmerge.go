package installer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// agpmMarkerKey tags an entry in a merged JSON config (.mcp.json,
// .opencode/opencode.json, …) as agpm-managed, per spec.md §4.5's
// "Distinguishes AGPM-managed entries... from user-managed entries; only
// the former are updated or removed."
const agpmMarkerKey = "_agpm"

// MCPEntry is one MCP-server block to merge into a tool's JSON config.
type MCPEntry struct {
	CanonicalName string
	Config        map[string]any
}

// mcpEntrySchema describes the shape of a single server entry — grounded on the teacher's use of
// santhosh-tekuri/jsonschema/v6 to validate MCP tool blocks in its own
// workflow-compilation schema checks, generalized here from "is this a
// valid GitHub Actions MCP tool declaration" to "is this a valid installed
// MCP server entry".
var mcpEntrySchema = mustCompileSchema(`{
  "type": "object",
  "properties": {
    "command": {"type": "string"},
    "args": {"type": "array", "items": {"type": "string"}},
    "env": {"type": "object"},
    "url": {"type": "string"}
  },
  "anyOf": [
    {"required": ["command"]},
    {"required": ["url"]}
  ]
}`)

func mustCompileSchema(schemaJSON string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("installer: invalid embedded MCP schema: %v", err))
	}
	if err := compiler.AddResource("mcp-entry.json", doc); err != nil {
		panic(fmt.Sprintf("installer: registering embedded MCP schema: %v", err))
	}
	schema, err := compiler.Compile("mcp-entry.json")
	if err != nil {
		panic(fmt.Sprintf("installer: compiling embedded MCP schema: %v", err))
	}
	return schema
}

// ValidateMCPEntry schema-checks entry.Config. Neither MergeMCPConfig nor
// the installer's merge pass calls it.
func ValidateMCPEntry(entry MCPEntry) error {
	if err := mcpEntrySchema.Validate(entry.Config); err != nil {
		return fmt.Errorf("mcp server %q failed schema validation: %w", entry.CanonicalName, err)
	}
	return nil
}

// MergeMCPConfig reads the JSON document at path (or starts from an empty
// object), replaces every agpm-managed entry under key with the entries in
// want (keyed by canonical name), leaves any user-managed entry alone, and
// returns the merged, pretty-printed document.
func MergeMCPConfig(path, key string, want []MCPEntry) ([]byte, error) {
	doc := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing existing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	section, _ := doc[key].(map[string]any)
	if section == nil {
		section = map[string]any{}
	}

	for name, raw := range section {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue // not an object, so carries no marker: user-managed
		}
		if _, managed := entry[agpmMarkerKey]; !managed {
			continue // user-managed: never touched
		}
		delete(section, name)
	}

	for _, entry := range want {
		merged := map[string]any{}
		for k, v := range entry.Config {
			merged[k] = v
		}
		merged[agpmMarkerKey] = true
		section[entry.CanonicalName] = merged
	}

	doc[key] = section

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding merged %s: %w", path, err)
	}
	return buf.Bytes(), nil
}
