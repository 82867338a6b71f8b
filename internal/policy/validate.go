// ABOUTME: Structural validation for update_policy input.
// ABOUTME: A patch is validated wholesale before any field is applied.

package policy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const updateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "auto_approve_usd":          {"type": "number", "minimum": 0},
    "hard_block_over_usd":       {"type": "number", "minimum": 0},
    "max_usd_per_tx":            {"type": "number", "minimum": 0},
    "max_usd_per_day":           {"type": "number", "minimum": 0},
    "max_slippage_bps":          {"type": "integer", "minimum": 0, "maximum": 10000},
    "deny_unknown_usd_value":    {"type": "boolean"},
    "enable_send":               {"type": "boolean"},
    "enable_swap":               {"type": "boolean"},
    "enable_nft":                {"type": "boolean"},
    "enable_ofac_sdn":           {"type": "boolean"},
    "internal_transfers_exempt": {"type": "boolean"},
    "send_allow_any":            {"type": "boolean"},
    "send_allowlist":            {"type": "array", "items": {"type": "string", "minLength": 1}},
    "max_usd_per_nft_tx":        {"type": "number", "minimum": 0}
  }
}`

var updateSchema = jsonschema.MustCompileString("policy_update.json", updateSchemaJSON)

// ApplyUpdate validates patch (a JSON object of policy fields) and applies it
// on top of current. Structurally invalid input is rejected wholesale; on
// error the returned policy is current, unchanged.
func ApplyUpdate(current Policy, patch json.RawMessage) (Policy, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(patch))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return current, fmt.Errorf("decode policy update: %w", err)
	}
	if err := updateSchema.Validate(doc); err != nil {
		return current, fmt.Errorf("invalid policy update: %w", err)
	}

	updated := current
	if err := json.Unmarshal(patch, &updated); err != nil {
		return current, fmt.Errorf("apply policy update: %w", err)
	}
	return updated, nil
}
