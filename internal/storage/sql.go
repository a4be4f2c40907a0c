package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/maneesh/gridstore/internal/models"
	"github.com/maneesh/gridstore/internal/storage/migrations"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names
const (
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

var dialects = map[string]string{
	DriverMySQL:    "mysql",
	DriverSQLite:   "sqlite3",
	DriverPostgres: "postgres",
}

// SQLClient implements both collections on a relational database (TiDB/MySQL,
// SQLite or PostgreSQL) with tracing
type SQLClient struct {
	db      *sql.DB
	dialect string
}

// NewSQLClient opens the database, tests the connection and applies migrations
func NewSQLClient(ctx context.Context, driver, dsn string) (*SQLClient, error) {
	dialect, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	if driver == DriverSQLite {
		dsn = sqlitePragmas(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseError, err)
	}

	if driver == DriverSQLite {
		// SQLite serialises writers; a single connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", ErrDatabaseError, err)
	}

	sc := &SQLClient{db: db, dialect: dialect}
	if err := sc.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sc, nil
}

// sqlitePragmas adds WAL and a busy timeout unless the DSN sets its own
func sqlitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Migrate applies the embedded goose migrations for the client's dialect
func (sc *SQLClient) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(sc.dialect); err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	if err := goose.UpContext(ctx, sc.db, sc.dialect); err != nil {
		return fmt.Errorf("%w: failed to migrate: %w", ErrDatabaseError, err)
	}
	return nil
}

// Close closes the database connection
func (sc *SQLClient) Close() error {
	return sc.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres
func (sc *SQLClient) rebind(query string) string {
	if sc.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (sc *SQLClient) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return sc.db.ExecContext(ctx, sc.rebind(query), args...)
}

func (sc *SQLClient) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return sc.db.QueryContext(ctx, sc.rebind(query), args...)
}

func (sc *SQLClient) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return sc.db.QueryRowContext(ctx, sc.rebind(query), args...)
}

const fileColumns = `bucket, id, filename, length, chunk_size, upload_date, created_at, content_type, metadata, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.FileRecord, error) {
	var (
		file       models.FileRecord
		uploadDate int64
		createdAt  int64
		metadata   string
		status     string
	)
	err := row.Scan(
		&file.Bucket,
		&file.ID,
		&file.Filename,
		&file.Length,
		&file.ChunkSize,
		&uploadDate,
		&createdAt,
		&file.ContentType,
		&metadata,
		&status,
	)
	if err != nil {
		return nil, err
	}

	file.UploadDate = fromMillis(uploadDate)
	file.CreatedAt = fromMillis(createdAt)
	file.Status = models.Status(status)
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &file.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &file, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// InsertFile inserts file metadata with tracing
func (sc *SQLClient) InsertFile(ctx context.Context, file *models.FileRecord) error {
	ctx, span := tracer.Start(ctx, "sql.insert_file",
		trace.WithAttributes(
			attribute.String("bucket", file.Bucket),
			attribute.String("file_id", file.ID),
			attribute.String("file_name", file.Filename),
		),
	)
	defer span.End()

	metadata := []byte("{}")
	if len(file.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(file.Metadata); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	query := `INSERT INTO files (` + fileColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := sc.exec(ctx, query,
		file.Bucket, file.ID, file.Filename, file.Length, file.ChunkSize,
		toMillis(file.UploadDate), toMillis(file.CreatedAt), file.ContentType,
		string(metadata), string(file.Status),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: failed to insert file: %w", ErrDatabaseError, err)
	}
	return nil
}

// GetFile retrieves file metadata by ID with tracing
func (sc *SQLClient) GetFile(ctx context.Context, bucket, fileID string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "sql.get_file",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	query := `SELECT ` + fileColumns + ` FROM files WHERE bucket = ? AND id = ?`
	file, err := scanFile(sc.queryRow(ctx, query, bucket, fileID))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("%w: file %s/%s", ErrNotFound, bucket, fileID)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: failed to query file: %w", ErrDatabaseError, err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return file, nil
}

// CommitFile flips a pending record to committed
func (sc *SQLClient) CommitFile(ctx context.Context, bucket, fileID string, length int64, uploadDate time.Time) error {
	ctx, span := tracer.Start(ctx, "sql.commit_file",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
			attribute.Int64("file_size", length),
		),
	)
	defer span.End()

	query := `UPDATE files SET status = ?, length = ?, upload_date = ?
			  WHERE bucket = ? AND id = ? AND status = ?`
	res, err := sc.exec(ctx, query,
		string(models.StatusCommitted), length, toMillis(uploadDate),
		bucket, fileID, string(models.StatusPending),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: failed to commit file: %w", ErrDatabaseError, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: pending file %s/%s", ErrNotFound, bucket, fileID)
	}
	return nil
}

// RenameFile overwrites the filename of a committed record
func (sc *SQLClient) RenameFile(ctx context.Context, bucket, fileID, filename string) error {
	ctx, span := tracer.Start(ctx, "sql.rename_file",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
			attribute.String("file_name", filename),
		),
	)
	defer span.End()

	query := `UPDATE files SET filename = ? WHERE bucket = ? AND id = ? AND status = ?`
	res, err := sc.exec(ctx, query, filename, bucket, fileID, string(models.StatusCommitted))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: failed to rename file: %w", ErrDatabaseError, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	if affected > 0 {
		return nil
	}

	// MySQL reports zero affected rows when the value is unchanged
	file, err := sc.GetFile(ctx, bucket, fileID)
	if err != nil {
		return err
	}
	if !file.Committed() {
		return fmt.Errorf("%w: file %s/%s", ErrNotFound, bucket, fileID)
	}
	return nil
}

// DeleteFile removes a record regardless of status
func (sc *SQLClient) DeleteFile(ctx context.Context, bucket, fileID string) error {
	ctx, span := tracer.Start(ctx, "sql.delete_file",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	if _, err := sc.exec(ctx, `DELETE FROM files WHERE bucket = ? AND id = ?`, bucket, fileID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: failed to delete file: %w", ErrDatabaseError, err)
	}
	return nil
}

// ListCommitted returns committed records ordered by filename then id
func (sc *SQLClient) ListCommitted(ctx context.Context, bucket string) ([]*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "sql.list_committed",
		trace.WithAttributes(attribute.String("bucket", bucket)),
	)
	defer span.End()

	query := `SELECT ` + fileColumns + ` FROM files
			  WHERE bucket = ? AND status = ?
			  ORDER BY filename ASC, id ASC`
	files, err := sc.listFiles(ctx, query, bucket, string(models.StatusCommitted))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("file_count", len(files)))
	return files, nil
}

// ListPendingBefore returns pending records created before cutoff
func (sc *SQLClient) ListPendingBefore(ctx context.Context, bucket string, cutoff time.Time) ([]*models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files
			  WHERE bucket = ? AND status = ? AND created_at < ?
			  ORDER BY created_at ASC`
	return sc.listFiles(ctx, query, bucket, string(models.StatusPending), toMillis(cutoff))
}

func (sc *SQLClient) listFiles(ctx context.Context, query string, args ...any) ([]*models.FileRecord, error) {
	rows, err := sc.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query files: %w", ErrDatabaseError, err)
	}
	defer rows.Close()

	var files []*models.FileRecord
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan file: %w", ErrDatabaseError, err)
		}
		files = append(files, file)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating files: %w", ErrDatabaseError, err)
	}
	return files, nil
}

// FileBuckets returns the buckets that hold at least one record
func (sc *SQLClient) FileBuckets(ctx context.Context) ([]string, error) {
	return sc.distinct(ctx, `SELECT DISTINCT bucket FROM files ORDER BY bucket`)
}

func (sc *SQLClient) distinct(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := sc.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return values, nil
}
