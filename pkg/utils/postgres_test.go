package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPoolDefaults(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 10}.withDefaults()
	if got.MaxIdleConns != 10 {
		t.Fatalf("expected idle conns to follow open conns, got %d", got.MaxIdleConns)
	}
	if got.PingTimeout != 5*time.Second {
		t.Fatalf("expected 5s ping timeout, got %s", got.PingTimeout)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(wrapped) {
		t.Fatalf("expected unique violation to be detected through wrapping")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("expected foreign key violation not to match")
	}
	if IsUniqueViolation(errors.New("x")) {
		t.Fatalf("expected plain error not to match")
	}
}

func TestNullableHelpers(t *testing.T) {
	if NullString("").Valid {
		t.Fatalf("expected empty string to be NULL")
	}
	if NullTime(nil).Valid {
		t.Fatalf("expected nil time to be NULL")
	}
	now := time.Unix(1700000000, 0)
	p := TimePtr(NullTime(&now))
	if p == nil || !p.Equal(now) {
		t.Fatalf("expected round trip of %v, got %v", now, p)
	}
}
