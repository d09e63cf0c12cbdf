package vault

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"spot-trading-engine/config"
)

// fakeVault serves the KV v2 read API for one secret
func fakeVault(t *testing.T, data map[string]interface{}, reads *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/secret/data/spot-trading/binance", func(w http.ResponseWriter, r *http.Request) {
		reads.Add(1)
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]interface{}{"errors": []string{"permission denied"}})
			return
		}
		if data == nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]interface{}{"errors": []string{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"data": data, "metadata": map[string]interface{}{"version": 1}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(addr string) config.VaultConfig {
	return config.VaultConfig{
		Enabled:    true,
		Address:    addr,
		Token:      "root",
		MountPath:  "secret",
		SecretPath: "spot-trading/binance",
	}
}

func TestCredentialsReadAndCached(t *testing.T) {
	var reads atomic.Int32
	srv := fakeVault(t, map[string]interface{}{
		"api_key":    "key",
		"secret_key": "secret",
		"testnet":    "true",
		"jwt_secret": "jwt",
	}, &reads)

	c, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	creds, err := c.Credentials(ctx)
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	want := Credentials{APIKey: "key", SecretKey: "secret", TestNet: true, JWTSecret: "jwt"}
	if *creds != want {
		t.Errorf("creds = %+v, want %+v", *creds, want)
	}

	if _, err := c.Credentials(ctx); err != nil {
		t.Fatal(err)
	}
	if reads.Load() != 1 {
		t.Errorf("vault reads = %d, want 1 (cached)", reads.Load())
	}
	c.ClearCache()
	if _, err := c.Credentials(ctx); err != nil {
		t.Fatal(err)
	}
	if reads.Load() != 2 {
		t.Errorf("vault reads = %d after ClearCache, want 2", reads.Load())
	}
}

func TestCredentialsErrors(t *testing.T) {
	var reads atomic.Int32
	ctx := context.Background()

	missing := fakeVault(t, nil, &reads)
	c, _ := NewClient(testConfig(missing.URL))
	if _, err := c.Credentials(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing secret error = %v, want ErrNotFound", err)
	}

	partial := fakeVault(t, map[string]interface{}{"api_key": "key"}, &reads)
	c, _ = NewClient(testConfig(partial.URL))
	if _, err := c.Credentials(ctx); err == nil {
		t.Error("a secret without secret_key must be rejected")
	}

	cfg := testConfig(partial.URL)
	cfg.Token = "wrong"
	c, _ = NewClient(cfg)
	if _, err := c.Credentials(ctx); err == nil {
		t.Error("permission denied must surface as an error")
	}

	disabled, _ := NewClient(config.VaultConfig{})
	if _, err := disabled.Credentials(ctx); !errors.Is(err, ErrDisabled) {
		t.Errorf("disabled error = %v, want ErrDisabled", err)
	}
	if err := disabled.Health(ctx); err != nil {
		t.Errorf("disabled health = %v, want nil", err)
	}
}

func TestGetBool(t *testing.T) {
	tests := []struct {
		in   interface{}
		want bool
	}{
		{true, true},
		{"true", true},
		{"false", false},
		{json.Number("1"), true},
		{json.Number("0"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := getBool(map[string]interface{}{"v": tt.in}, "v"); got != tt.want {
			t.Errorf("getBool(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
