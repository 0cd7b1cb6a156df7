package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/Veraticus/dompet/internal/common"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// sqliteDriverName is go-sqlite3 with LOWER() replaced by a Unicode-aware
// version; the built-in one only folds ASCII.
const sqliteDriverName = "sqlite3_dompet"

var registerSQLite sync.Once

func sqliteDriver() string {
	registerSQLite.Do(func() {
		sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("lower", strings.ToLower, true)
			},
		})
	})
	return sqliteDriverName
}

// dialect captures the few SQL differences between the supported drivers.
type dialect struct {
	driver string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
		return dialect{driver: driver}, nil
	default:
		return dialect{}, fmt.Errorf("%w: unsupported database driver %q", common.ErrInvalidConfig, driver)
	}
}

// sqlDriver is the name registered with database/sql for this dialect.
func (d dialect) sqlDriver() string {
	if d.driver == DriverSQLite {
		return sqliteDriver()
	}
	return d.driver
}

// rebind rewrites ? placeholders into $1..$n for postgres.
func (d dialect) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// identity is the DDL for an auto-assigned, never reused primary key.
func (d dialect) identity() string {
	if d.driver == DriverPostgres {
		return "BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (d dialect) timestamp() string {
	if d.driver == DriverPostgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}
