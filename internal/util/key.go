// Package util holds small shared helpers for cache-key construction.
package util

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeInput canonicalizes a user utterance for response-cache keying:
// lower-cased, trimmed, inner whitespace collapsed.
func NormalizeInput(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// CallKey builds the canonical tool-cache key for an external call. Map keys
// are sorted by encoding/json, so identical argument sets always produce the
// same key regardless of insertion order.
func CallKey(name string, args map[string]any) (string, error) {
	if len(args) == 0 {
		return name + "|{}", nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("serialize call args for %s: %w", name, err)
	}
	return name + "|" + string(raw), nil
}

// ResponseKey builds the response-cache key from session id, data version and
// the normalized input. A data-version bump changes every future key, so
// stale responses can never match.
func ResponseKey(sessionID string, dataVersion uint64, normalizedInput string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", sessionID, dataVersion, normalizedInput)))
	return hex.EncodeToString(sum[:])
}
