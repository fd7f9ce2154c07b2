package migrations

import (
	"io/fs"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	names, err := fs.Glob(files, "sql/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, n := range names {
		base := strings.TrimPrefix(n, "sql/")
		switch {
		case strings.HasSuffix(base, ".up.sql"):
			ups[strings.TrimSuffix(base, ".up.sql")] = true
		case strings.HasSuffix(base, ".down.sql"):
			downs[strings.TrimSuffix(base, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", n)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestSchemaCoversStores(t *testing.T) {
	names, err := fs.Glob(files, "sql/*.up.sql")
	require.NoError(t, err)
	sort.Strings(names)

	var all strings.Builder
	for _, n := range names {
		b, err := fs.ReadFile(files, n)
		require.NoError(t, err)
		all.Write(b)
	}
	schema := all.String()
	for _, table := range []string{"tenants", "tenant_numbers", "call_sessions", "sms_logs", "webhook_events"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	assert.Contains(t, schema, "call_id          TEXT PRIMARY KEY")
	assert.Contains(t, schema, "message_sid  TEXT NOT NULL UNIQUE")
	assert.Contains(t, schema, "ON tenant_numbers (number) WHERE active")
	assert.Contains(t, schema, "ADD COLUMN IF NOT EXISTS status_rank")
}
