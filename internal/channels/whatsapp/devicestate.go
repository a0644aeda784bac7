package whatsapp

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// The credential store is the source of truth for a linked device. whatsmeow
// works on its own SQL tables while the socket runs; deviceDB copies those
// tables into auth state entries and writes them back before a dial:
//
//	creds.device         the whatsmeow_device row (identity, noise and signed pre-keys)
//	keys.<table suffix>  the rows of every other whatsmeow key table
const (
	tablePrefix = "whatsmeow_"
	deviceTable = "whatsmeow_device"
	credsDevice = "device"

	cellBytes = "$b"
	cellTime  = "$t"
)

// Caches that whatsmeow rebuilds on its own after a restore.
var skippedTables = map[string]bool{
	"whatsmeow_version":         true,
	"whatsmeow_contacts":        true,
	"whatsmeow_chat_settings":   true,
	"whatsmeow_message_secrets": true,
	"whatsmeow_event_buffer":    true,
	"whatsmeow_retry_buffer":    true,
}

type deviceDB struct {
	db       *sql.DB
	postgres bool
}

func openDeviceDB(dialect, address string) (*deviceDB, error) {
	db, err := sql.Open(dialect, address)
	if err != nil {
		return nil, fmt.Errorf("open device db: %w", err)
	}
	return &deviceDB{db: db, postgres: dialect == "pgx"}, nil
}

func (d *deviceDB) Close() error { return d.db.Close() }

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// tables lists the key tables in restore order.
func (d *deviceDB) tables(ctx context.Context, q querier) ([]string, error) {
	query := `SELECT name FROM sqlite_master WHERE type = 'table'`
	if d.postgres {
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()`
	}
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list device tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if strings.HasPrefix(name, tablePrefix) && !skippedTables[name] {
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tableOrder(names), nil
}

// tableOrder puts referenced tables before the ones holding foreign keys to them.
func tableOrder(names []string) []string {
	rank := func(name string) int {
		switch name {
		case deviceTable:
			return 0
		case "whatsmeow_app_state_version":
			return 1
		}
		return 2
	}
	out := slices.Clone(names)
	slices.SortFunc(out, func(a, b string) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(a, b)
	})
	return out
}

func (d *deviceDB) columns(ctx context.Context, q querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT * FROM "+pq.QuoteIdentifier(table)+" WHERE 1 = 0")
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	defer rows.Close()
	return rows.Columns()
}

// dump returns the rows of table in a stable order.
func (d *deviceDB) dump(ctx context.Context, q querier, table string) ([]any, error) {
	cols, err := d.columns(ctx, q, table)
	if err != nil {
		return nil, err
	}
	order := make([]string, len(cols))
	for i := range cols {
		order[i] = fmt.Sprint(i + 1)
	}
	rows, err := q.QueryContext(ctx, "SELECT * FROM "+pq.QuoteIdentifier(table)+" ORDER BY "+strings.Join(order, ", "))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	out := []any{}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = encodeCell(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// snapshot reads the device row and the key tables. device is nil when the
// DB holds no linked device.
func (d *deviceDB) snapshot(ctx context.Context) (device map[string]any, keys map[string]any, err error) {
	names, err := d.tables(ctx, d.db)
	if err != nil {
		return nil, nil, err
	}
	keys = make(map[string]any, len(names))
	for _, name := range names {
		rows, err := d.dump(ctx, d.db, name)
		if err != nil {
			return nil, nil, err
		}
		if name == deviceTable {
			if len(rows) > 0 {
				device, _ = rows[0].(map[string]any)
			}
			continue
		}
		keys[strings.TrimPrefix(name, tablePrefix)] = rows
	}
	return device, keys, nil
}

// restore replaces the key tables with device and keys in one transaction.
// Entries of keys that name no key table are ignored.
func (d *deviceDB) restore(ctx context.Context, device map[string]any, keys map[string]any) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	names, err := d.tables(ctx, tx)
	if err != nil {
		return err
	}
	if err := d.clear(ctx, tx, names); err != nil {
		return err
	}
	for _, name := range names {
		var rows []any
		if name == deviceTable {
			rows = []any{device}
		} else {
			rows, _ = keys[strings.TrimPrefix(name, tablePrefix)].([]any)
		}
		if len(rows) == 0 {
			continue
		}
		cols, err := d.columns(ctx, tx, name)
		if err != nil {
			return err
		}
		for _, r := range rows {
			row, ok := r.(map[string]any)
			if !ok {
				return fmt.Errorf("restore %s: row is %T, not an object", name, r)
			}
			if err := d.insert(ctx, tx, name, cols, row); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// reset removes the linked device and its keys.
func (d *deviceDB) reset(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	names, err := d.tables(ctx, tx)
	if err != nil {
		return err
	}
	if err := d.clear(ctx, tx, names); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *deviceDB) clear(ctx context.Context, q querier, names []string) error {
	for i := len(names) - 1; i >= 0; i-- {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+pq.QuoteIdentifier(names[i])); err != nil {
			return fmt.Errorf("clear %s: %w", names[i], err)
		}
	}
	return nil
}

// insert writes the columns of row the table still has; columns dropped by a
// newer schema are skipped.
func (d *deviceDB) insert(ctx context.Context, q querier, table string, cols []string, row map[string]any) error {
	names := make([]string, 0, len(cols))
	marks := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, c := range cols {
		v, ok := row[c]
		if !ok {
			continue
		}
		v, err := decodeCell(v)
		if err != nil {
			return fmt.Errorf("restore %s.%s: %w", table, c, err)
		}
		args = append(args, v)
		names = append(names, pq.QuoteIdentifier(c))
		marks = append(marks, d.placeholder(len(args)))
	}
	if len(args) == 0 {
		return nil
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pq.QuoteIdentifier(table), strings.Join(names, ", "), strings.Join(marks, ", "))
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("restore %s: %w", table, err)
	}
	return nil
}

func (d *deviceDB) placeholder(n int) string {
	if d.postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// encodeCell turns a scanned value into something that survives a JSON round trip.
func encodeCell(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case []byte:
		return map[string]any{cellBytes: base64.StdEncoding.EncodeToString(x)}
	case time.Time:
		return map[string]any{cellTime: x.UTC().Format(time.RFC3339Nano)}
	case [16]byte:
		return uuid.UUID(x).String()
	default:
		return fmt.Sprint(x)
	}
}

// decodeCell reverses encodeCell, also accepting the float64 numbers a JSON
// decode produces.
func decodeCell(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x), nil
		}
		return x, nil
	case int:
		return int64(x), nil
	case map[string]any:
		if s, ok := x[cellBytes].(string); ok {
			return base64.StdEncoding.DecodeString(s)
		}
		if s, ok := x[cellTime].(string); ok {
			return time.Parse(time.RFC3339Nano, s)
		}
		return nil, fmt.Errorf("unexpected object cell %v", x)
	default:
		return x, nil
	}
}

// deviceEntry returns the device row carried in creds, if any.
func deviceEntry(creds map[string]any) (row map[string]any, jid string) {
	row, _ = creds[credsDevice].(map[string]any)
	if row == nil {
		return nil, ""
	}
	jid, _ = row["jid"].(string)
	if jid == "" {
		return nil, ""
	}
	return row, jid
}
