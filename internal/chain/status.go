package chain

import (
	"strings"

	"github.com/xtrntr/cryptop2p/internal/models"
)

type statusRule struct {
	field    string
	classify func(v any) (models.TxStatus, bool)
}

// Fields are tried in order; the first definitive classification wins.
var statusRules = []statusRule{
	{"status", classifyValue},
	{"txStatus", classifyValue},
	{"blockStatus", classifyValue},
	{"executionResult", classifyValue},
}

// NormalizeStatus maps a provider transaction payload to a normalized status.
// Anything it cannot classify is pending.
func NormalizeStatus(payload map[string]any) models.TxStatus {
	for _, rule := range statusRules {
		v, ok := payload[rule.field]
		if !ok {
			continue
		}
		if status, ok := rule.classify(v); ok {
			return status
		}
	}
	return models.TxPending
}

// Only text values are classified. A boolean or numeric field never yields a
// final status.
func classifyValue(v any) (models.TxStatus, bool) {
	if s, ok := v.(string); ok {
		return classifyText(s)
	}
	return "", false
}

func classifyText(s string) (models.TxStatus, bool) {
	lv := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(lv, "success"), lv == "ok", lv == "confirmed":
		return models.TxConfirmed, true
	case strings.Contains(lv, "fail"), strings.Contains(lv, "revert"):
		return models.TxFailed, true
	}
	return "", false
}
