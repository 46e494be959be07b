package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/store"

	_ "github.com/jensholdgaard/auction-house/internal/store/memory"
	_ "github.com/jensholdgaard/auction-house/internal/store/pgxstore"
	_ "github.com/jensholdgaard/auction-house/internal/store/postgres"
)

func TestOpen_Memory(t *testing.T) {
	s, err := store.Open(context.Background(), config.DatabaseConfig{Driver: "memory"}, clock.Real{})
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestOpen_PassesConfigToDriver(t *testing.T) {
	errSeen := errors.New("seen")
	var got config.DatabaseConfig
	store.Register("recording", func(_ context.Context, cfg config.DatabaseConfig, _ clock.Clock) (store.Store, error) {
		got = cfg
		return nil, errSeen
	})

	cfg := config.DatabaseConfig{Driver: "recording", DBName: "auctions"}
	if _, err := store.Open(context.Background(), cfg, clock.Real{}); !errors.Is(err, errSeen) {
		t.Fatalf("Open() error = %v, want driver error", err)
	}
	if got != cfg {
		t.Errorf("driver saw %+v, want %+v", got, cfg)
	}
}

func TestOpen_UnknownDriverListsRegistered(t *testing.T) {
	_, err := store.Open(context.Background(), config.DatabaseConfig{Driver: "mongodb"}, clock.Real{})
	if err == nil {
		t.Fatal("Open(mongodb) succeeded")
	}
	for _, name := range []string{"memory", "pgx", "sqlx"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not list driver %q", err, name)
		}
	}
}

func TestOpen_SQLDriversRegistered(t *testing.T) {
	// Nothing listens on port 1, so these fail to connect rather than fail
	// the lookup.
	for _, driver := range []string{"sqlx", "pgx"} {
		t.Run(driver, func(t *testing.T) {
			cfg := config.DatabaseConfig{Driver: driver, Host: "127.0.0.1", Port: 1, SSLMode: "disable"}
			_, err := store.Open(context.Background(), cfg, clock.Real{})
			if err == nil {
				t.Fatal("expected a connection error")
			}
			if strings.Contains(err.Error(), "unknown store driver") {
				t.Errorf("driver %s not registered: %v", driver, err)
			}
		})
	}
}
