package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123"

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("GATE_ROOT_ADMIN", "root")
	t.Setenv("GATE_JWT_SECRET", testSecret)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.RateLimit != 50 || cfg.RateBurst != 100 {
		t.Errorf("rate = %d/%d, want 50/100", cfg.RateLimit, cfg.RateBurst)
	}
	if cfg.AuditCapacity != 200 {
		t.Errorf("AuditCapacity = %d, want 200", cfg.AuditCapacity)
	}
	if cfg.OracleTimeout != 5*time.Second {
		t.Errorf("OracleTimeout = %v, want 5s", cfg.OracleTimeout)
	}
	if cfg.SessionPingInterval != 54*time.Second {
		t.Errorf("SessionPingInterval = %v, want 54s", cfg.SessionPingInterval)
	}
	if cfg.AddressFormat != "opaque" {
		t.Errorf("AddressFormat = %q, want opaque", cfg.AddressFormat)
	}
	if cfg.RedisAuditKey != "access:audit" {
		t.Errorf("RedisAuditKey = %q, want access:audit", cfg.RedisAuditKey)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("GATE_ROOT_ADMIN", "root")
	t.Setenv("GATE_JWT_SECRET", testSecret)
	t.Setenv("GATE_ADMIN_ADDRESSES", "ops, root ,ops,audit")
	t.Setenv("GATE_CORS_ORIGINS", "https://dash.example.com,.example.org")
	t.Setenv("GATE_RATE_LIMIT", "5")
	t.Setenv("GATE_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if got, want := cfg.Admins(), []string{"ops", "audit"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Admins() = %v, want %v", got, want)
	}
	if got, want := cfg.Origins(), []string{"https://dash.example.com", ".example.org"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Origins() = %v, want %v", got, want)
	}
	if cfg.RateLimit != 5 {
		t.Errorf("RateLimit = %d, want 5", cfg.RateLimit)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 3s", cfg.ShutdownTimeout)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing root", map[string]string{"GATE_JWT_SECRET": testSecret}, "GATE_ROOT_ADMIN"},
		{"short secret", map[string]string{"GATE_ROOT_ADMIN": "root", "GATE_JWT_SECRET": "short"}, "GATE_JWT_SECRET"},
		{"zero rate", map[string]string{"GATE_ROOT_ADMIN": "root", "GATE_JWT_SECRET": testSecret, "GATE_RATE_LIMIT": "0"}, "GATE_RATE_LIMIT"},
		{"bad duration", map[string]string{"GATE_ROOT_ADMIN": "root", "GATE_JWT_SECRET": testSecret, "GATE_ORACLE_TIMEOUT": "soon"}, "GATE_ORACLE_TIMEOUT"},
		{"bad shutdown timeout", map[string]string{"GATE_ROOT_ADMIN": "root", "GATE_JWT_SECRET": testSecret, "GATE_SHUTDOWN_TIMEOUT": "later"}, "GATE_SHUTDOWN_TIMEOUT"},
		{"bad ping interval", map[string]string{"GATE_ROOT_ADMIN": "root", "GATE_JWT_SECRET": testSecret, "GATE_SESSION_PING_INTERVAL": "often"}, "GATE_SESSION_PING_INTERVAL"},
		{"zero shutdown timeout", map[string]string{"GATE_ROOT_ADMIN": "root", "GATE_JWT_SECRET": testSecret, "GATE_SHUTDOWN_TIMEOUT": "0s"}, "GATE_SHUTDOWN_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GATE_ROOT_ADMIN", "")
			t.Setenv("GATE_JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("FromEnv() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "gateway.env")
	content := "GATE_ROOT_ADMIN=file-root\nGATE_JWT_SECRET=" + testSecret + "\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	// godotenv does not override variables that are already set.
	t.Setenv("GATE_ROOT_ADMIN", "")
	os.Unsetenv("GATE_ROOT_ADMIN")
	t.Setenv("GATE_JWT_SECRET", "")
	os.Unsetenv("GATE_JWT_SECRET")

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RootAdmin != "file-root" {
		t.Errorf("RootAdmin = %q, want file-root", cfg.RootAdmin)
	}

	if _, err := Load(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("Load(missing) error = %v, want nil (env already populated)", err)
	}
}

func TestLoadBalances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "balances.yaml")
	if err := os.WriteFile(path, []byte("balances:\n  alice: 75000\n  whale: 2000000\n"), 0o600); err != nil {
		t.Fatalf("write balances: %v", err)
	}

	got, err := LoadBalances(path)
	if err != nil {
		t.Fatalf("LoadBalances() error = %v", err)
	}
	want := map[string]uint64{"alice": 75_000, "whale": 2_000_000}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadBalances() = %v, want %v", got, want)
	}

	if _, err := LoadBalances(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadBalances(missing) error = nil, want error")
	}
}

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{" , ,", nil},
		{"a,b", []string{"a", "b"}},
		{"a, b ,a", []string{"a", "b"}},
	}
	for _, tt := range tests {
		if got := SplitCSV(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitCSV(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
