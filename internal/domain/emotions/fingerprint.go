package emotions

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Validation bounds for translation input.
const (
	MaxTextLength     = 10000
	MaxContextPairs   = 16
	MaxContextValue   = 256
	MinFeedbackRating = 1
	MaxFeedbackRating = 5
)

// NormalizeText lowercases and collapses whitespace runs to single spaces, so
// trivially different phrasings of the same message share one fingerprint.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Fingerprint identifies a cacheable unit of translation work. Fields are
// NUL-separated and context pairs are folded in sorted key order, so map
// iteration order never changes the digest.
func Fingerprint(text string, childID *uuid.UUID, context map[string]string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeText(text)))
	h.Write([]byte{0})
	if childID != nil {
		h.Write([]byte(childID.String()))
	}
	h.Write([]byte{0})
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(context[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
