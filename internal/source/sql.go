package source

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stockcount-sync-api/internal/logging"
	"stockcount-sync-api/internal/model"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver for local sources
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Supported SQL drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLConnector reads items from one table of an SQL database with columns
// item_code, description, uom, on_hand_qty and updated_at.
type SQLConnector struct {
	db     *sql.DB
	driver string
	table  string
	log    zerolog.Logger
}

// OpenSQL opens a connection pool. It does not ping: the source may well be
// down at startup, which the auto-sync monitor handles.
func OpenSQL(driver, dsn, table string) (*SQLConnector, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s source: %w", driver, err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	c, err := NewSQLConnector(db, driver, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewSQLConnector wraps an existing pool.
func NewSQLConnector(db *sql.DB, driver, table string) (*SQLConnector, error) {
	switch driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported source driver %q", driver)
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid source table name %q", table)
	}
	return &SQLConnector{
		db:     db,
		driver: driver,
		table:  table,
		log:    logging.Component("source").With().Str("driver", driver).Logger(),
	}, nil
}

// Name returns the driver and table.
func (c *SQLConnector) Name() string {
	return c.driver + ":" + c.table
}

// TestConnection pings the database and runs a trivial query.
func (c *SQLConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping source: %w", err)
	}
	var one int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("source ping query failed: %w", err)
	}
	return nil
}

func (c *SQLConnector) placeholder(n int) string {
	if c.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// FetchItems reads items updated after since.
func (c *SQLConnector) FetchItems(ctx context.Context, since *time.Time) ([]model.InventoryItem, error) {
	query := `SELECT item_code, description, uom, on_hand_qty, updated_at FROM ` + c.table
	var args []any
	if since != nil {
		query += ` WHERE updated_at > ` + c.placeholder(1)
		args = append(args, since.UTC())
	}
	query += ` ORDER BY item_code`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query source items: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var items []model.InventoryItem
	for rows.Next() {
		var (
			code      string
			desc, uom sql.NullString
			qty       sql.NullFloat64
			updated   any
		)
		if err := rows.Scan(&code, &desc, &uom, &qty, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan source item: %w", err)
		}
		item := model.InventoryItem{
			ItemCode:    strings.TrimSpace(code),
			Description: desc.String,
			UOM:         uom.String,
			OnHandQty:   qty.Float64,
			SyncedAt:    now,
		}
		if t, ok := asTime(updated); ok {
			item.SourceUpdatedAt = t
		}
		if item.ItemCode == "" {
			c.log.Warn().Msg("skipping source row with empty item_code")
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read source items: %w", err)
	}

	c.log.Debug().Int("count", len(items)).Msg("fetched source items")
	return items, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// asTime converts a scanned timestamp column, which drivers return as
// time.Time, string or []byte depending on type and settings.
func asTime(v any) (time.Time, bool) {
	var s string
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Close closes the pool.
func (c *SQLConnector) Close() error {
	return c.db.Close()
}

var _ Connector = (*SQLConnector)(nil)
