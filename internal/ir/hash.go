package ir

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Domain prefix for catalog digests.
// Version suffix enables future encoding migration.
const DomainCatalog = "relance/catalog/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CatalogDigest computes a content hash of an ordered rule list.
//
// Two catalogs share a digest iff they hold the same rules in the same
// order. Tasks carry the digest in their metadata so that a task can be
// traced back to the rule set that created it.
func CatalogDigest(rules []RuleDefinition) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoder output is one line per rule; map keys are sorted
	for _, r := range rules {
		if err := enc.Encode(r); err != nil {
			return "", fmt.Errorf("CatalogDigest: rule %s: %w", r.ID, err)
		}
	}
	return hashWithDomain(DomainCatalog, buf.Bytes()), nil
}
