package binding

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Authority answers which lifts a robot device may use
type Authority interface {
	BoundLifts(ctx context.Context, deviceUUID string) ([]int, error)
	IsBound(ctx context.Context, deviceUUID string, liftNo int) (bool, error)
}

// Store is the SQL-backed device binding registry. Supported drivers are
// sqlite3 and postgres.
type Store struct {
	db     *sql.DB
	driver string
	logger *logrus.Entry
}

// Open opens the binding database and runs the schema migration
func Open(driver, dsn string, logger *logrus.Entry) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open binding database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping binding database: %w", err)
	}

	s := &Store{db: db, driver: driver, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS device_bindings (
			device_uuid TEXT NOT NULL,
			lift_no     INTEGER NOT NULL,
			created_at  TIMESTAMP NOT NULL,
			PRIMARY KEY (device_uuid, lift_no)
		)`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate binding schema: %w", err)
	}
	return nil
}

// rebind converts ? placeholders to the driver's dialect
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
		} else {
			out = append(out, query[i])
		}
	}
	return string(out)
}

// Bind records that a device may use a lift. Binding twice is a no-op.
func (s *Store) Bind(ctx context.Context, deviceUUID string, liftNo int) error {
	query := s.rebind(`
		INSERT INTO device_bindings (device_uuid, lift_no, created_at)
		VALUES (?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query, deviceUUID, liftNo, time.Now().UTC())
	if err != nil {
		if bound, checkErr := s.IsBound(ctx, deviceUUID, liftNo); checkErr == nil && bound {
			return nil
		}
		return fmt.Errorf("failed to bind device %s to lift %d: %w", deviceUUID, liftNo, err)
	}

	s.logger.WithFields(logrus.Fields{
		"device_uuid": deviceUUID,
		"lift_no":     liftNo,
	}).Info("Device bound to lift")

	return nil
}

// Unbind removes a device/lift binding
func (s *Store) Unbind(ctx context.Context, deviceUUID string, liftNo int) error {
	query := s.rebind(`DELETE FROM device_bindings WHERE device_uuid = ? AND lift_no = ?`)

	if _, err := s.db.ExecContext(ctx, query, deviceUUID, liftNo); err != nil {
		return fmt.Errorf("failed to unbind device %s from lift %d: %w", deviceUUID, liftNo, err)
	}
	return nil
}

// BoundLifts returns the lift numbers a device is bound to
func (s *Store) BoundLifts(ctx context.Context, deviceUUID string) ([]int, error) {
	query := s.rebind(`SELECT lift_no FROM device_bindings WHERE device_uuid = ? ORDER BY lift_no`)

	rows, err := s.db.QueryContext(ctx, query, deviceUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bound lifts: %w", err)
	}
	defer rows.Close()

	var lifts []int
	for rows.Next() {
		var liftNo int
		if err := rows.Scan(&liftNo); err != nil {
			return nil, fmt.Errorf("failed to scan bound lift: %w", err)
		}
		lifts = append(lifts, liftNo)
	}

	return lifts, rows.Err()
}

// IsBound reports whether a device is bound to a lift
func (s *Store) IsBound(ctx context.Context, deviceUUID string, liftNo int) (bool, error) {
	query := s.rebind(`SELECT COUNT(1) FROM device_bindings WHERE device_uuid = ? AND lift_no = ?`)

	var count int
	if err := s.db.QueryRowContext(ctx, query, deviceUUID, liftNo).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check binding: %w", err)
	}
	return count > 0, nil
}
