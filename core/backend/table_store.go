// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/relabs-tech/testall/core/csql"
)

// MemoryTables is a TableStore which keeps all rows in memory
type MemoryTables struct {
	mutex  sync.RWMutex
	tables map[string]*memoryTable
}

type memoryTable struct {
	columns []string
	rows    []Row
	nextID  int64
}

var _ TableStore = (*MemoryTables)(nil)

// NewMemoryTables returns an empty memory table store
func NewMemoryTables() *MemoryTables {
	return &MemoryTables{tables: map[string]*memoryTable{}}
}

func (m *MemoryTables) CreateTable(table string, columns []string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.tables[table]; !ok {
		m.tables[table] = &memoryTable{columns: columns, nextID: 1}
	}
	return nil
}

func (m *MemoryTables) table(name string) (*memoryTable, error) {
	t, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("no such table %s", name)
	}
	return t, nil
}

func (m *MemoryTables) SelectAll(ctx context.Context, table string) ([]Row, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(t.rows))
	for _, row := range t.rows {
		rows = append(rows, copyRow(row))
	}
	return rows, nil
}

func (m *MemoryTables) Insert(ctx context.Context, table string, rows []Row) ([]Row, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	inserted := make([]Row, 0, len(rows))
	for _, row := range rows {
		stored := Row{"id": t.nextID}
		for _, c := range t.columns {
			stored[c] = row[c]
		}
		t.nextID++
		t.rows = append(t.rows, stored)
		inserted = append(inserted, copyRow(stored))
	}
	return inserted, nil
}

func copyRow(row Row) Row {
	c := make(Row, len(row))
	for k, v := range row {
		c[k] = v
	}
	return c
}

// PostgresTables is a TableStore with one postgres table per table. Every column is stored as jsonb,
// the id is a bigserial.
type PostgresTables struct {
	db      *csql.DB
	mutex   sync.RWMutex
	columns map[string][]string
}

var _ TableStore = (*PostgresTables)(nil)

// NewPostgresTables returns a table store in the database's schema
func NewPostgresTables(db *csql.DB) *PostgresTables {
	return &PostgresTables{db: db, columns: map[string][]string{}}
}

func (p *PostgresTables) CreateTable(table string, columns []string) error {
	definitions := []string{"id bigserial PRIMARY KEY"}
	for _, c := range columns {
		definitions = append(definitions, pq.QuoteIdentifier(c)+" jsonb")
	}
	definitions = append(definitions, "created_at timestamptz NOT NULL DEFAULT now()")
	_, err := p.db.Exec(`CREATE TABLE IF NOT EXISTS ` + p.db.Table(table) + ` (` + strings.Join(definitions, ", ") + `);`)
	if err != nil {
		return err
	}
	// tables created by an earlier configuration may lack new columns
	for _, c := range columns {
		_, err = p.db.Exec(`ALTER TABLE ` + p.db.Table(table) + ` ADD COLUMN IF NOT EXISTS ` + pq.QuoteIdentifier(c) + ` jsonb;`)
		if err != nil {
			return err
		}
	}
	p.mutex.Lock()
	p.columns[table] = columns
	p.mutex.Unlock()
	return nil
}

func (p *PostgresTables) tableColumns(table string) ([]string, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	columns, ok := p.columns[table]
	if !ok {
		return nil, fmt.Errorf("no such table %s", table)
	}
	return columns, nil
}

func (p *PostgresTables) selectList(columns []string) string {
	list := []string{"id"}
	for _, c := range columns {
		list = append(list, pq.QuoteIdentifier(c))
	}
	return strings.Join(list, ",")
}

func scanRow(scanner interface{ Scan(...interface{}) error }, columns []string) (Row, error) {
	var id int64
	values := make([][]byte, len(columns))
	targets := []interface{}{&id}
	for i := range values {
		targets = append(targets, &values[i])
	}
	if err := scanner.Scan(targets...); err != nil {
		return nil, err
	}
	row := Row{"id": id}
	for i, c := range columns {
		var v interface{}
		if values[i] != nil {
			if err := json.Unmarshal(values[i], &v); err != nil {
				return nil, fmt.Errorf("column %s: %w", c, err)
			}
		}
		row[c] = v
	}
	return row, nil
}

func (p *PostgresTables) SelectAll(ctx context.Context, table string) ([]Row, error) {
	columns, err := p.tableColumns(table)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+p.selectList(columns)+` FROM `+p.db.Table(table)+` ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Row{}
	for rows.Next() {
		row, err := scanRow(rows, columns)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (p *PostgresTables) Insert(ctx context.Context, table string, rows []Row) ([]Row, error) {
	columns, err := p.tableColumns(table)
	if err != nil {
		return nil, err
	}
	quoted := make([]string, len(columns))
	parameters := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pq.QuoteIdentifier(c)
		parameters[i] = fmt.Sprintf("$%d::jsonb", i+1)
	}
	query := `INSERT INTO ` + p.db.Table(table) + ` (` + strings.Join(quoted, ",") + `) VALUES (` +
		strings.Join(parameters, ",") + `) RETURNING ` + p.selectList(columns) + `;`
	if len(columns) == 0 {
		query = `INSERT INTO ` + p.db.Table(table) + ` DEFAULT VALUES RETURNING id;`
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	inserted := make([]Row, 0, len(rows))
	for _, row := range rows {
		values := make([]interface{}, len(columns))
		for i, c := range columns {
			v, ok := row[c]
			if !ok || v == nil {
				values[i] = sql.NullString{}
				continue
			}
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c, err)
			}
			values[i] = string(data)
		}
		stored, err := scanRow(tx.QueryRowContext(ctx, query, values...), columns)
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, stored)
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return inserted, nil
}
