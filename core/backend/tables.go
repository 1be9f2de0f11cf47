// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/testall/core"
	"github.com/relabs-tech/testall/core/logger"
)

// Row is a table row. The generated key is "id".
type Row map[string]interface{}

// TableStore persists table rows
type TableStore interface {
	// CreateTable creates the table if it does not exist yet
	CreateTable(table string, columns []string) error
	// SelectAll returns all rows ordered by id
	SelectAll(ctx context.Context, table string) ([]Row, error)
	// Insert inserts all rows or none and returns them with their ids
	Insert(ctx context.Context, table string, rows []Row) ([]Row, error)
}

func (b *Backend) handleTableRoutes(router *mux.Router) {
	rlog := logger.Default()
	for _, tc := range b.config.Tables {
		rlog.Debugln("table:", tc.Table)
		rlog.Debugln("  handle table route: /rest/v1/"+tc.Table, "GET")
		rlog.Debugln("  handle table route: /rest/v1/"+tc.Table, "POST")
	}
	router.Handle("/{table}", handlers.CompressHandler(http.HandlerFunc(b.selectRows))).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/{table}", b.insertRows).Methods(http.MethodOptions, http.MethodPost)
}

func (b *Backend) tableFromRequest(w http.ResponseWriter, r *http.Request) (*tableConfiguration, bool) {
	table := mux.Vars(r)["table"]
	tc, ok := b.tableConfigs[table]
	if !ok {
		writeRestError(w, http.StatusNotFound, "42P01", fmt.Sprintf(`relation "public.%s" does not exist`, table))
		return nil, false
	}
	return tc, true
}

// selection parses the select query parameter into the list of returned columns
func (tc *tableConfiguration) selection(r *http.Request) ([]string, error) {
	all := append([]string{"id"}, tc.Columns...)
	selectParam := strings.TrimSpace(r.URL.Query().Get("select"))
	if selectParam == "" || selectParam == "*" {
		return all, nil
	}
	var selected []string
	for _, column := range strings.Split(selectParam, ",") {
		column = strings.TrimSpace(column)
		if column == "*" {
			selected = append(selected, all...)
			continue
		}
		found := false
		for _, c := range all {
			if c == column {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("column %s.%s does not exist", tc.Table, column)
		}
		selected = append(selected, column)
	}
	return selected, nil
}

func project(rows []Row, columns []string) []Row {
	result := make([]Row, 0, len(rows))
	for _, row := range rows {
		projected := Row{}
		for _, c := range columns {
			projected[c] = row[c]
		}
		result = append(result, projected)
	}
	return result
}

func (b *Backend) selectRows(w http.ResponseWriter, r *http.Request) {
	tc, ok := b.tableFromRequest(w, r)
	if !ok {
		return
	}
	columns, err := tc.selection(r)
	if err != nil {
		writeRestError(w, http.StatusBadRequest, "42703", err.Error())
		return
	}
	rows, err := b.tables.SelectAll(r.Context(), tc.Table)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorf("Error 5120: cannot select from %s", tc.Table)
		writeRestError(w, http.StatusInternalServerError, "XX000", "Error 5120")
		return
	}
	writeJSON(w, http.StatusOK, project(rows, columns))
}

// validateRow checks row against the schema of the table, if the table has one
func (b *Backend) validateRow(tc *tableConfiguration, row Row) error {
	if tc.SchemaID == "" {
		return nil
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("cannot marshal row: %w", err)
	}
	return b.validator.ValidateBytes(data, tc.SchemaID)
}

// decodeRows accepts a single object or an array of objects
func decodeRows(body []byte) ([]Row, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var row Row
		if err := decoder.Decode(&row); err != nil {
			return nil, err
		}
		return []Row{row}, nil
	}
	var rows []Row
	if err := decoder.Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (b *Backend) insertRows(w http.ResponseWriter, r *http.Request) {
	tc, ok := b.tableFromRequest(w, r)
	if !ok {
		return
	}
	rlog := logger.FromContext(r.Context())
	columns, err := tc.selection(r)
	if err != nil {
		writeRestError(w, http.StatusBadRequest, "42703", err.Error())
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeRestError(w, http.StatusRequestEntityTooLarge, "PGRST102", "request body too large")
		return
	}
	rows, err := decodeRows(body)
	if err != nil {
		writeRestError(w, http.StatusBadRequest, "PGRST102", "Empty or invalid json")
		return
	}

	allowed := map[string]bool{}
	for _, c := range tc.Columns {
		allowed[c] = true
	}
	for _, row := range rows {
		for key := range row {
			if !allowed[key] {
				writeRestError(w, http.StatusBadRequest, "PGRST204",
					fmt.Sprintf("Could not find the '%s' column of '%s' in the schema cache", key, tc.Table))
				return
			}
		}
		if err := b.validateRow(tc, row); err != nil {
			writeRestError(w, http.StatusBadRequest, "23514", err.Error())
			return
		}
	}

	var inserted []Row
	if len(rows) > 0 {
		inserted, err = b.tables.Insert(r.Context(), tc.Table, rows)
		if err != nil {
			rlog.WithError(err).Errorf("Error 5121: cannot insert into %s", tc.Table)
			writeRestError(w, http.StatusInternalServerError, "XX000", "Error 5121")
			return
		}
	}
	for _, row := range inserted {
		b.notify(r, tc.Table, core.OperationCreate, row)
	}
	rlog.Infof("inserted %d row(s) into %s", len(inserted), tc.Table)

	if !strings.Contains(r.Header.Get("Prefer"), "return=representation") {
		w.WriteHeader(http.StatusCreated)
		return
	}
	writeJSON(w, http.StatusCreated, project(inserted, columns))
}
