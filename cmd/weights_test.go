package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWeightsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadWeightsFile(t *testing.T) {
	path := writeWeightsFile(t, `
weights:
  - metric: Revenue
    weight: "1.0"
  - metric: Gross Profit
    weight: "0.8"
  - metric: EBITDA
    weight: "0.9"
`)

	weights, err := loadWeightsFile(path)
	require.NoError(t, err)
	require.Len(t, weights, 3)
	assert.Equal(t, "Revenue", weights[0].Metric)
	assert.True(t, weights[0].Weight.Equal(decimal.RequireFromString("1.0")))
}

func TestLoadWeightsFileMissingMetric(t *testing.T) {
	path := writeWeightsFile(t, `
weights:
  - weight: "0.5"
`)

	_, err := loadWeightsFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing metric")
}

func TestLoadWeightsFileNegativeWeight(t *testing.T) {
	path := writeWeightsFile(t, `
weights:
  - metric: Revenue
    weight: "-0.5"
`)

	_, err := loadWeightsFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative weight")
}

func TestLoadWeightsFileMissing(t *testing.T) {
	_, err := loadWeightsFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestFormatWeights(t *testing.T) {
	var buf bytes.Buffer
	formatWeights(&buf, map[string]decimal.Decimal{
		"Revenue": decimal.RequireFromString("1"),
		"EBITDA":  decimal.RequireFromString("0.9"),
	})
	out := buf.String()

	// Alphabetical order.
	assert.Less(t, strings.Index(out, "EBITDA"), strings.Index(out, "Revenue"))
}
