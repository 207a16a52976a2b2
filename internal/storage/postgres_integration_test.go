//go:build integration

package storage

import (
	"context"
	"os"
	"testing"

	"spot_trader/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()

	s, err := OpenPostgresStore(ctx, dsn, DefaultPoolConfig())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load(ctx)
	require.NoError(t, err, "table exists right after open")

	p := samplePosition("ITESTUSDT")
	require.NoError(t, s.Save(ctx, p))
	defer s.Delete(ctx, p.Symbol)

	all, err := s.Load(ctx)
	require.NoError(t, err)
	assertSamePosition(t, p, all[p.Symbol])

	journal, err := OpenGormJournal(dsn)
	require.NoError(t, err)
	p.ID = uuid.NewString()
	require.NoError(t, journal.Record(ctx, models.NewTradeRecord(p)))
	rows, err := journal.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
