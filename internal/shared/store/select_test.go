package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSelectCrossJoinsAfterJoins(t *testing.T) {
	s := New(nil, DialectPostgres)

	query, args, err := s.buildSelect(Query{
		Tables:  []string{"feed_sources", "delivery_records", "tenant_channels"},
		Columns: []string{"delivery_records.title", "tenant_channels.channel_id"},
		Joins:   []string{"feed_sources.url = delivery_records.url"},
		Where:   Where(Eq("feed_sources.tenant_id", int64(1))),
	})
	require.NoError(t, err)

	assert.Contains(t, query, "FROM feed_sources JOIN delivery_records ON feed_sources.url = delivery_records.url CROSS JOIN tenant_channels WHERE")
	assert.NotContains(t, query, "feed_sources, ")
	assert.Equal(t, []any{int64(1)}, args)
}
