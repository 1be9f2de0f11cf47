// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package csql wraps a postgres sql.DB together with the schema the
// service owns.
package csql

import (
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/lib/pq" // load database driver for postgres
	"github.com/relabs-tech/testall/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

var validSchema = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// OpenWithSchema opens a postgres database with a schema.
// The schema gets created if it does not exist yet. A non empty password is
// merged into the data source name, which may be a URL or a key=value list.
func OpenWithSchema(dataSourceName, password, schema string) *DB {
	rlog := logger.Default()
	dsn := withPassword(dataSourceName, password)
	rlog.Infoln("connecting to postgres database:", redact(dataSourceName))
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		panic(err)
	}
	err = db.Ping()
	if err != nil {
		panic(err)
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		if !validSchema.MatchString(schema) {
			panic(fmt.Sprintf("invalid database schema name '%s'", schema))
		}
		rlog.Infoln("selected database schema:", schema)
		_, err = db.Exec(`CREATE schema IF NOT EXISTS ` + pq.QuoteIdentifier(schema) + `;`)
		if err != nil {
			panic(err)
		}
	}
	return &DB{DB: db, Schema: schema}
}

// Table returns the quoted, schema qualified name of a table
func (db *DB) Table(name string) string {
	return pq.QuoteIdentifier(db.Schema) + "." + pq.QuoteIdentifier(name)
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	schema := pq.QuoteIdentifier(db.Schema)
	_, err := db.Exec(`DROP SCHEMA IF EXISTS ` + schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + schema + `;`)
	if err != nil {
		logger.Default().WithError(err).Errorln("clear schema error:", db.Schema)
	}
}

func withPassword(dataSourceName, password string) string {
	if password == "" {
		return dataSourceName
	}
	if strings.HasPrefix(dataSourceName, "postgres://") || strings.HasPrefix(dataSourceName, "postgresql://") {
		u, err := url.Parse(dataSourceName)
		if err != nil || u.User == nil {
			return dataSourceName
		}
		u.User = url.UserPassword(u.User.Username(), password)
		return u.String()
	}
	return dataSourceName + " password=" + quoteValue(password)
}

func quoteValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func redact(dataSourceName string) string {
	u, err := url.Parse(dataSourceName)
	if err != nil || u.User == nil {
		return dataSourceName
	}
	return u.Redacted()
}
