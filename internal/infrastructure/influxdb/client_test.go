package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/powersensor-core/internal/infrastructure/config"
)

// testConfig points at a local dev InfluxDB. Server tests skip without it.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "powersensor-dev-token",
		Org:           "powersensor",
		Bucket:        "readings",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(testConfig())
	if err != nil {
		t.Skipf("InfluxDB not available: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	client, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned client when disabled")
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:1"

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestBatchSettings(t *testing.T) {
	tests := []struct {
		name          string
		batch, flush  int
		wantB, wantFl int
	}{
		{"configured", 500, 2, 500, 2},
		{"zero", 0, 0, defaultBatchSize, defaultFlushInterval},
		{"negative", -5, -1, defaultBatchSize, defaultFlushInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, f := batchSettings(config.InfluxDBConfig{BatchSize: tt.batch, FlushInterval: tt.flush})
			if b != tt.wantB || f != tt.wantFl {
				t.Errorf("batchSettings() = (%d, %d), want (%d, %d)", b, f, tt.wantB, tt.wantFl)
			}
		})
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := &Client{}

	// Writes and Flush on a never-connected client must not panic.
	c.WriteReading("aa", "average_power", "solar", map[string]any{"watts": 1.0}, time.Time{})
	c.WriteHousehold("from_grid", 10, time.Now())
	c.WritePoint("x", nil, map[string]any{"v": 1})
	c.Flush()

	if c.IsConnected() {
		t.Error("IsConnected() = true for zero client")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestWriteReadingAndHousehold(t *testing.T) {
	client := connectOrSkip(t)

	var mu sync.Mutex
	var writeErrs []error
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErrs = append(writeErrs, err)
		mu.Unlock()
	})

	client.WriteReading("aabbccddeeff", "average_power", "house-net",
		map[string]any{"watts": 412.5}, time.Now())
	client.WriteReading("aabbccddeeff", "summation_energy", "",
		map[string]any{"summation_joules": 1.2e6}, time.Time{})
	client.WriteHousehold("home_usage", 530, time.Now())
	client.Flush()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(writeErrs) != 0 {
		t.Errorf("async write errors: %v", writeErrs)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c := &Client{}
	var seen []error
	c.SetOnError(func(err error) { seen = append(seen, err) })

	ch := make(chan error, 2)
	ch <- errors.New("bucket not found")
	ch <- errors.New("unauthorized")
	close(ch)
	c.handleWriteErrors(ch)

	if c.WriteErrors() != 2 {
		t.Errorf("WriteErrors() = %d, want 2", c.WriteErrors())
	}
	if len(seen) != 2 {
		t.Errorf("callback saw %d errors, want 2", len(seen))
	}
}

func TestStamp(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := stamp(ts); !got.Equal(ts) {
		t.Errorf("stamp(%v) = %v", ts, got)
	}
	if stamp(time.Time{}).IsZero() {
		t.Error("stamp(zero) returned zero time")
	}
}
