package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/inventory/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

const sampleSeed = `
events:
  - id: harbor-nights
    tiers:
      - tier: ga
        public_limit: 35
        hidden_limit: 10
      - tier: VIP
        public_limit: 8
  - id: winter-gala
    tiers:
      - tier: ga
        public_limit: 120
        hidden_limit: 0
`

func TestParseAndApply(test *testing.T) {
	test.Parallel()
	definitions, err := Parse(strings.NewReader(sampleSeed))
	require.NoError(test, err)
	require.Len(test, definitions, 3)
	require.Equal(test, inventory.TierVIP, definitions[1].Key.Tier)
	require.Equal(test, int64(10), definitions[0].HiddenLimit)

	service, err := inventory.NewService(memstore.New(), time.Now)
	require.NoError(test, err)
	ctx := context.Background()

	result, err := Apply(ctx, service, definitions)
	require.NoError(test, err)
	require.Equal(test, Result{Created: 3}, result)

	again, err := Apply(ctx, service, definitions)
	require.NoError(test, err)
	require.Equal(test, Result{Skipped: 3}, again)

	record, err := service.Record(ctx, definitions[0].Key)
	require.NoError(test, err)
	require.Equal(test, int64(45), record.Capacity())
}

func TestParseRejectsInvalidDocuments(test *testing.T) {
	test.Parallel()
	cases := map[string]string{
		"unknown tier":  "events:\n  - id: a\n    tiers:\n      - tier: pit\n        public_limit: 1\n",
		"negative":      "events:\n  - id: a\n    tiers:\n      - tier: ga\n        public_limit: -1\n",
		"duplicate":     "events:\n  - id: a\n    tiers:\n      - tier: ga\n      - tier: ga\n",
		"no tiers":      "events:\n  - id: a\n",
		"unknown field": "events:\n  - id: a\n    capacity: 3\n",
		"blank event":   "events:\n  - id: ' '\n    tiers:\n      - tier: ga\n",
	}
	for name, document := range cases {
		_, err := Parse(strings.NewReader(document))
		require.Error(test, err, name)
	}
}

func TestLoadFile(test *testing.T) {
	test.Parallel()
	path := filepath.Join(test.TempDir(), "events.yaml")
	require.NoError(test, os.WriteFile(path, []byte(sampleSeed), 0o600))
	definitions, err := LoadFile(path)
	require.NoError(test, err)
	require.Len(test, definitions, 3)

	_, err = LoadFile(filepath.Join(test.TempDir(), "missing.yaml"))
	require.Error(test, err)
}
