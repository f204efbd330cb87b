package roles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/powersensor-core/internal/bus"
	"github.com/nerrad567/powersensor-core/internal/infrastructure/database"
)

// RoleSolar is the role that marks a household as having solar.
const RoleSolar = "solar"

const (
	settingWithSolar = "with_solar"

	// handlerTimeout bounds one database write triggered from the bus.
	handlerTimeout = 5 * time.Second
)

// Publisher is the bus surface the store needs.
type Publisher interface {
	Publish(ev bus.Event)
}

// Subscriber is the bus surface Subscribe needs.
type Subscriber interface {
	Subscribe(topic bus.Topic, h bus.Handler) bus.Token
}

// Logger is the logging surface the store uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store caches persisted roles in memory and writes changes to SQLite.
type Store struct {
	db     *database.DB
	pub    Publisher
	logger Logger

	mu        sync.RWMutex
	loaded    bool
	roles     map[string]string
	withSolar bool
}

// NewStore creates a store over an open database holding the device_roles
// and settings tables. pub may be nil when nothing listens for have-solar.
func NewStore(db *database.DB, pub Publisher, logger Logger) *Store {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Store{
		db:     db,
		pub:    pub,
		logger: logger,
		roles:  make(map[string]string),
	}
}

// Load reads every persisted role and the with_solar flag into memory,
// replacing anything cached.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: If either table cannot be read
func (s *Store) Load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT mac, role FROM device_roles")
	if err != nil {
		return fmt.Errorf("querying roles: %w", err)
	}
	defer rows.Close()

	roles := make(map[string]string)
	for rows.Next() {
		var mac, role string
		if err := rows.Scan(&mac, &role); err != nil {
			return fmt.Errorf("scanning role: %w", err)
		}
		roles[mac] = role
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating roles: %w", err)
	}

	withSolar, err := s.readBool(ctx, settingWithSolar)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.roles = roles
	s.withSolar = withSolar
	s.loaded = true
	s.mu.Unlock()

	s.logger.Info("roles loaded", "count", len(roles), "with_solar", withSolar)
	return nil
}

// Role returns the persisted role for mac.
func (s *Store) Role(mac string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[mac]
	return role, ok
}

// Roles returns a copy of every persisted role.
func (s *Store) Roles() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.roles)
}

// WithSolar reports whether the household is known to have solar.
func (s *Store) WithSolar() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.withSolar
}

// Set persists role for mac. Empty roles and unchanged roles are ignored.
//
// Returns:
//   - bool: true when the stored role changed
//   - error: ErrInvalidMAC, ErrNotLoaded, or a database failure
func (s *Store) Set(ctx context.Context, mac, role string) (bool, error) {
	if mac == "" {
		return false, ErrInvalidMAC
	}
	if role == "" {
		return false, nil
	}

	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return false, ErrNotLoaded
	}
	if s.roles[mac] == role {
		s.mu.Unlock()
		return false, nil
	}
	solarNow := role == RoleSolar && !s.withSolar

	err := s.write(ctx, mac, role, solarNow)
	if err == nil {
		s.roles[mac] = role
		if solarNow {
			s.withSolar = true
		}
	}
	s.mu.Unlock()

	if err != nil {
		return false, err
	}

	s.logger.Info("role persisted", "mac", mac, "role", role)
	if solarNow {
		s.logger.Info("household has solar")
		if s.pub != nil {
			s.pub.Publish(bus.Event{Topic: bus.TopicHaveSolar})
		}
	}
	return true, nil
}

// HandleRoleUpdate persists one role-updated payload.
func (s *Store) HandleRoleUpdate(ctx context.Context, u bus.RoleUpdate) error {
	_, err := s.Set(ctx, u.MAC, u.Role)
	return err
}

// Subscribe persists every role-updated event published on b.
func (s *Store) Subscribe(b Subscriber) bus.Token {
	return b.Subscribe(bus.TopicRoleUpdated, func(ev bus.Event) {
		u, ok := ev.Payload.(bus.RoleUpdate)
		if !ok {
			s.logger.Error("unexpected role-updated payload", "type", fmt.Sprintf("%T", ev.Payload))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		if err := s.HandleRoleUpdate(ctx, u); err != nil {
			s.logger.Error("persisting role failed", "mac", u.MAC, "role", u.Role, "error", err)
		}
	})
}

// AnnounceSolar publishes have-solar when the persisted flag is set. Call
// it once after the aggregator has subscribed.
func (s *Store) AnnounceSolar() bool {
	if !s.WithSolar() || s.pub == nil {
		return false
	}
	s.pub.Publish(bus.Event{Topic: bus.TopicHaveSolar})
	return true
}

func (s *Store) write(ctx context.Context, mac, role string, solar bool) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO device_roles (mac, role, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(mac) DO UPDATE SET role = excluded.role, updated_at = excluded.updated_at`,
			mac, role, now,
		); err != nil {
			return fmt.Errorf("writing role: %w", err)
		}
		if !solar {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			settingWithSolar, strconv.FormatBool(true),
		); err != nil {
			return fmt.Errorf("writing %s: %w", settingWithSolar, err)
		}
		return nil
	})
}

func (s *Store) readBool(ctx context.Context, key string) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", key, err)
	}
	return b, nil
}
