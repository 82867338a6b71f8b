// ABOUTME: Audit event normalization: every entry gets the same queryable shape.
// ABOUTME: Missing fields become explicit nulls, never absent keys.

package audit

import "time"

// requiredKeys is the fixed field set every audit entry carries. Fields that
// do not apply to an event are null.
var requiredKeys = []string{
	"ts",
	"tool",
	"wallet",
	"account_index",
	"chain",
	"usd_value",
	"usd_value_known",
	"policy_decision",
	"confirm_required",
	"confirm_result",
	"txid",
	"error_code",
}

// Normalize coerces an arbitrary structured event into the standard audit
// shape. Non-object events are wrapped under a single "raw" key. A "ts" field
// is added if absent, every required key is guaranteed present (null when
// unknown), and a "result" field records the high-level outcome. Normalizing
// an already-normalized entry is a no-op.
func Normalize(v any) map[string]any {
	return normalizeAt(v, time.Now().UTC())
}

func normalizeAt(v any, now time.Time) map[string]any {
	obj, ok := v.(map[string]any)
	if !ok {
		obj = map[string]any{"raw": v}
	}

	if _, ok := obj["ts"]; !ok {
		obj["ts"] = now.Format(time.RFC3339)
	}
	for _, k := range requiredKeys {
		if _, ok := obj[k]; !ok {
			obj[k] = nil
		}
	}
	if _, ok := obj["result"]; !ok {
		obj["result"] = nil
	}
	return obj
}
