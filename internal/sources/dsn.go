// internal/sources/dsn.go - Driver names and connection strings per source type
package sources

import (
	"fmt"
	"net/url"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"

	"dwmon/internal/config"
)

// driverAndDSN maps a source definition to a database/sql driver name and
// connection string. An explicit DSN is used as is.
func driverAndDSN(src config.SourceConfig) (string, string, error) {
	kind := strings.ToLower(strings.TrimSpace(src.Type))
	sslMode := strings.ToLower(strings.TrimSpace(src.SSLMode))

	switch kind {
	case "sqlite", "sqlite3":
		if src.DSN != "" {
			return "sqlite3", src.DSN, nil
		}
		// Read only is enough for checker queries.
		return "sqlite3", "file:" + src.Database + "?mode=ro&_busy_timeout=5000", nil

	case "mysql":
		if src.DSN != "" {
			return "mysql", src.DSN, nil
		}
		port := src.Port
		if port == 0 {
			port = 3306
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", src.User, src.Password, src.Host, port, src.Database)
		if sslMode == "disable" {
			dsn += "&tls=false"
		} else if sslMode != "" {
			dsn += "&tls=true"
		}
		return "mysql", dsn, nil

	case "postgres", "postgresql":
		if src.DSN != "" {
			return "postgres", src.DSN, nil
		}
		port := src.Port
		if port == 0 {
			port = 5432
		}
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			src.Host, port, quotePQ(src.User), quotePQ(src.Password), quotePQ(src.Database), sslMode)
		return "postgres", dsn, nil

	case "mssql", "sqlserver":
		if src.DSN != "" {
			return "sqlserver", src.DSN, nil
		}
		port := src.Port
		if port == 0 {
			port = 1433
		}
		encrypt := "true"
		if sslMode == "disable" {
			encrypt = "disable"
		}
		u := &url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(src.User, src.Password),
			Host:     fmt.Sprintf("%s:%d", src.Host, port),
			RawQuery: url.Values{"database": {src.Database}, "encrypt": {encrypt}}.Encode(),
		}
		return "sqlserver", u.String(), nil
	}

	return "", "", fmt.Errorf("unsupported source type %q", src.Type)
}

// quotePQ quotes a key/value connection parameter for lib/pq when needed.
func quotePQ(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
