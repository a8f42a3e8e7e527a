package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/pkg/errors"
)

type Dialect string

const (
	Postgres Dialect = "pgx"
	MySQL    Dialect = "mysql"
)

// DetectDialect выбирает драйвер по DSN и возвращает DSN в виде, понятном драйверу.
// postgres://, postgresql:// и key=value DSN идут в pgx; mysql:// и user:pass@tcp(...)/db в MySQL.
func DetectDialect(dsn string) (Dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	lower := strings.ToLower(dsn)
	switch {
	case dsn == "":
		return "", "", errors.New("empty DSN")
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Postgres, dsn, nil
	case strings.HasPrefix(lower, "mysql://"):
		return mysqlDSN(dsn[len("mysql://"):])
	case strings.Contains(dsn, "@tcp("), strings.Contains(dsn, "@unix("):
		return mysqlDSN(dsn)
	case strings.Contains(dsn, "host="), strings.Contains(dsn, "dbname="):
		return Postgres, dsn, nil
	}
	return "", "", errors.Errorf("cannot tell the database from DSN %q", SafeDSNSummary(dsn))
}

// mysqlDSN включает parseTime, иначе created_at не сканируется в time.Time.
func mysqlDSN(dsn string) (Dialect, string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", "", errors.Wrap(err, "parse mysql DSN")
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return MySQL, cfg.FormatDSN(), nil
}

// Open открывает пул и проверяет соединение.
func Open(ctx context.Context, dsn string) (*sql.DB, Dialect, error) {
	dialect, driverDSN, err := DetectDialect(dsn)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open(string(dialect), driverDSN)
	if err != nil {
		return nil, "", errors.Wrap(err, "sql.Open")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", errors.Wrap(err, "db.Ping")
	}
	return db, dialect, nil
}

// Rebind переписывает плейсхолдеры ? в $1..$n для Postgres.
// Строковые литералы в запросах не используются, поэтому кавычки не разбираем.
func Rebind(d Dialect, q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// SafeDSNSummary печатает DSN без пароля.
func SafeDSNSummary(dsn string) string {
	if strings.HasPrefix(strings.ToLower(dsn), "mysql://") {
		dsn = dsn[len("mysql://"):]
	}
	if strings.Contains(dsn, "@tcp(") || strings.Contains(dsn, "@unix(") {
		if cfg, err := mysql.ParseDSN(dsn); err == nil {
			return "mysql " + cfg.User + "@" + cfg.Addr + "/" + cfg.DBName
		}
		return "mysql (unparsable DSN)"
	}
	if i := strings.Index(dsn, "://"); i >= 0 {
		rest := dsn[i+3:]
		if at := strings.LastIndex(rest, "@"); at >= 0 {
			cred := rest[:at]
			if c := strings.IndexByte(cred, ':'); c >= 0 {
				cred = cred[:c] + ":***"
			}
			return dsn[:i+3] + cred + rest[at:]
		}
		return dsn
	}
	var parts []string
	for _, kv := range strings.Fields(dsn) {
		if strings.HasPrefix(strings.ToLower(kv), "password=") {
			kv = "password=***"
		}
		parts = append(parts, kv)
	}
	return strings.Join(parts, " ")
}
