package source

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteSource(t *testing.T) (*SQLConnector, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE erp_items (
		item_code TEXT PRIMARY KEY,
		description TEXT,
		uom TEXT,
		on_hand_qty REAL,
		updated_at DATETIME
	)`)
	require.NoError(t, err)

	c, err := NewSQLConnector(db, DriverSQLite, "erp_items")
	require.NoError(t, err)
	return c, db
}

func TestSQLConnector_FetchItems(t *testing.T) {
	ctx := context.Background()
	c, db := newSQLiteSource(t)

	t1 := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(2 * time.Hour)
	_, err := db.Exec(`INSERT INTO erp_items VALUES (?, ?, ?, ?, ?), (?, ?, ?, ?, ?)`,
		"B-200", "Bolt", "pcs", 40.0, t2,
		"A-100", nil, "box", 3.5, t1)
	require.NoError(t, err)

	require.NoError(t, c.TestConnection(ctx))

	all, err := c.FetchItems(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "A-100", all[0].ItemCode)
	assert.Equal(t, "", all[0].Description)
	assert.Equal(t, 3.5, all[0].OnHandQty)
	assert.True(t, all[0].SourceUpdatedAt.Equal(t1))

	since := t1.Add(time.Hour)
	changed, err := c.FetchItems(ctx, &since)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "B-200", changed[0].ItemCode)
}

func TestSQLConnector_Validation(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLConnector(db, "oracle", "items")
	assert.Error(t, err)

	_, err = NewSQLConnector(db, DriverSQLite, "items; DROP TABLE x")
	assert.Error(t, err)

	c, err := NewSQLConnector(db, DriverPostgres, "erp.items")
	require.NoError(t, err)
	assert.Equal(t, "$1", c.placeholder(1))
	assert.Equal(t, "postgres:erp.items", c.Name())
}

func TestSQLConnector_UnreachableSource(t *testing.T) {
	c, db := newSQLiteSource(t)
	require.NoError(t, db.Close())
	assert.Error(t, c.TestConnection(context.Background()))
}

func TestDisabled(t *testing.T) {
	var c Connector = Disabled{}
	assert.ErrorIs(t, c.TestConnection(context.Background()), ErrDisabled)
	_, err := c.FetchItems(context.Background(), nil)
	assert.ErrorIs(t, err, ErrDisabled)
}
