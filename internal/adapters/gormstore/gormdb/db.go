package gormdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

// DB is one logical database. SQLite gets a reader pool and a single
// writer; PostgreSQL shares one pool for both.
type DB struct {
	R *gorm.DB
	W *gorm.DB

	Driver   string
	Database string
}

type Tx struct {
	*gorm.DB
}

type cbfn func(tx *Tx) error

func (db *DB) ReadTX(ctx context.Context, fn cbfn) error {
	return db.R.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	}, &sql.TxOptions{ReadOnly: true})
}

func (db *DB) WriteTX(ctx context.Context, fn cbfn) error {
	return db.W.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	})
}

func (db *DB) WriteSQLDB() (*sql.DB, error) {
	return db.W.DB()
}

func (db *DB) Close() error {
	var firstErr error
	closeOne := func(g *gorm.DB) {
		if g == nil {
			return
		}
		if err := closeGORM(g); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	closeOne(db.R)
	if db.W != db.R {
		closeOne(db.W)
	}
	return firstErr
}

var _ io.Closer = (*DB)(nil)

// Connector opens tenant databases described by a connection descriptor.
type Connector struct {
	Logger *zap.Logger
}

func (c Connector) Open(ctx context.Context, desc domain.ConnectionDescriptor) (*DB, error) {
	db, err := Open(desc, c.Logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", desc, err)
	}
	return db, nil
}

func Open(desc domain.ConnectionDescriptor, zl *zap.Logger) (*DB, error) {
	if zl == nil {
		zl = zap.NewNop()
	}
	gormLogger := logger.New(
		zap.NewStdLog(zl.Named("gorm")),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)

	switch desc.Driver {
	case domain.DriverPostgres:
		return openPostgres(desc, gormLogger)
	case domain.DriverSQLite, "":
		return openSQLite(desc, gormLogger)
	default:
		return nil, fmt.Errorf("unsupported driver %q", desc.Driver)
	}
}

// SQLitePath is the file backing a logical database in SQLite mode.
func SQLitePath(desc domain.ConnectionDescriptor) string {
	return filepath.Join(desc.DataDir, desc.Database+".sqlite")
}

func openSQLite(desc domain.ConnectionDescriptor, gormLogger logger.Interface) (*DB, error) {
	if desc.DataDir != "" {
		if err := os.MkdirAll(desc.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	file := SQLitePath(desc)

	writer, err := gorm.Open(gormsqlite.Dialector{DriverName: "sqlite", DSN: buildDSN(file, false)}, &gorm.Config{
		PrepareStmt: true,
		Logger:      gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}

	reader, err := gorm.Open(gormsqlite.Dialector{DriverName: "sqlite", DSN: buildDSN(file, true)}, &gorm.Config{
		PrepareStmt: true,
		Logger:      gormLogger,
	})
	if err != nil {
		_ = closeGORM(writer)
		return nil, fmt.Errorf("open read db: %w", err)
	}

	rdb, err := reader.DB()
	if err != nil {
		_ = closeGORM(reader)
		_ = closeGORM(writer)
		return nil, fmt.Errorf("reader sql db: %w", err)
	}
	wdb, err := writer.DB()
	if err != nil {
		_ = closeGORM(reader)
		_ = closeGORM(writer)
		return nil, fmt.Errorf("writer sql db: %w", err)
	}

	readers := runtime.NumCPU()
	if desc.MaxOpenConns > 0 {
		readers = desc.MaxOpenConns
	}
	rdb.SetMaxOpenConns(readers)
	rdb.SetMaxIdleConns(readers)
	rdb.SetConnMaxLifetime(0)
	rdb.SetConnMaxIdleTime(0)

	wdb.SetMaxOpenConns(1)
	wdb.SetMaxIdleConns(1)
	wdb.SetConnMaxLifetime(0)
	wdb.SetConnMaxIdleTime(0)

	return &DB{R: reader, W: writer, Driver: domain.DriverSQLite, Database: desc.Database}, nil
}

// buildDSN sets pragmas through the DSN so every pooled connection gets them.
func buildDSN(file string, readOnly bool) string {
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"temp_store(MEMORY)",
		"cache_size(-20000)",
		"foreign_keys(1)",
		"busy_timeout(5000)",
		"trusted_schema(OFF)",
	}
	if readOnly {
		pragmas = append(pragmas, "query_only(1)")
	} else {
		pragmas = append(pragmas, "query_only(0)")
	}
	params := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	return "file:" + file + "?" + strings.Join(params, "&")
}

// PostgresDSN renders a keyword/value connection string for desc.
func PostgresDSN(desc domain.ConnectionDescriptor) string {
	sslmode := desc.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	parts := []string{
		"host=" + quoteDSNValue(desc.Host),
		fmt.Sprintf("port=%d", desc.Port),
		"user=" + quoteDSNValue(desc.User),
		"dbname=" + quoteDSNValue(desc.Database),
		"sslmode=" + sslmode,
	}
	if desc.Password != "" {
		parts = append(parts, "password="+quoteDSNValue(desc.Password))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func openPostgres(desc domain.ConnectionDescriptor, gormLogger logger.Interface) (*DB, error) {
	g, err := gorm.Open(postgres.Open(PostgresDSN(desc)), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	sqlDB, err := g.DB()
	if err != nil {
		_ = closeGORM(g)
		return nil, fmt.Errorf("postgres sql db: %w", err)
	}
	maxOpen := desc.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := desc.MaxIdleConns
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	return &DB{R: g, W: g, Driver: domain.DriverPostgres, Database: desc.Database}, nil
}

func closeGORM(g *gorm.DB) error {
	if g == nil {
		return nil
	}
	sqlDB, err := g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
