// Package ingest implements deduplicated ingestion of raw datapoints.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/sells-group/finreview-cli/internal/model"
)

// Fingerprint returns the stable digest of a datapoint's natural key.
// Value and provenance are deliberately excluded so that two independent
// observations of the same fact hash identically regardless of source.
func Fingerprint(key model.NaturalKey) string {
	sum := sha256.Sum256([]byte(key.String()))
	return hex.EncodeToString(sum[:])
}
