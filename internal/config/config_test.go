package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Feed.ReconnectBase != 2*time.Second || cfg.Feed.ReconnectCap != 30*time.Second {
		t.Errorf("unexpected reconnect settings: %v / %v", cfg.Feed.ReconnectBase, cfg.Feed.ReconnectCap)
	}
	if cfg.Risk.RiskPerTrade != 0.01 {
		t.Errorf("expected risk per trade 0.01, got %v", cfg.Risk.RiskPerTrade)
	}
	if cfg.Lifecycle.EODTime.String() != "21:55" {
		t.Errorf("unexpected EOD time %s", cfg.Lifecycle.EODTime)
	}
	if cfg.Lifecycle.EODLocation != time.UTC {
		t.Errorf("expected UTC location, got %v", cfg.Lifecycle.EODLocation)
	}
	if len(cfg.Symbols.Tracked) != 2 {
		t.Errorf("expected 2 default symbols, got %v", cfg.Symbols.Tracked)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/test.db")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("RISK_PER_TRADE", "0.02")
	t.Setenv("SIGNAL_COOLDOWN", "5m")
	t.Setenv("SYMBOLS", "btc-usdt, sol/usdt")
	t.Setenv("EOD_TIME", "20:00")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Risk.RiskPerTrade != 0.02 {
		t.Errorf("expected 0.02, got %v", cfg.Risk.RiskPerTrade)
	}
	if cfg.Risk.Cooldown != 5*time.Minute {
		t.Errorf("expected 5m cooldown, got %v", cfg.Risk.Cooldown)
	}
	if got := cfg.Symbols.Tracked; len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "SOLUSDT" {
		t.Errorf("unexpected symbols: %v", got)
	}
	if cfg.Lifecycle.EODTime.Hour != 20 {
		t.Errorf("unexpected EOD hour %d", cfg.Lifecycle.EODTime.Hour)
	}
	if cfg.Database.DSN() != "file:/tmp/test.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)" {
		t.Errorf("unexpected sqlite DSN: %s", cfg.Database.DSN())
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad driver", map[string]string{"DB_DRIVER": "mysql"}},
		{"bad port", map[string]string{"DB_DRIVER": "memory", "SERVER_PORT": "70000"}},
		{"bad eod", map[string]string{"DB_DRIVER": "memory", "EOD_TIME": "25:00"}},
		{"bad timezone", map[string]string{"DB_DRIVER": "memory", "EOD_TIMEZONE": "Mars/Olympus"}},
		{"risk above one", map[string]string{"DB_DRIVER": "memory", "RISK_PER_TRADE": "1.5"}},
		{"cap below base", map[string]string{"DB_DRIVER": "memory", "FEED_RECONNECT_CAP": "1s"}},
		{"zero concurrent", map[string]string{"DB_DRIVER": "memory", "MAX_CONCURRENT_SIGNALS": "0"}},
		{"window beyond history", map[string]string{"DB_DRIVER": "memory", "ANALYSIS_WINDOW": "600"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadSymbols_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbols.yaml")
	content := `
symbols: [btcusdt, ETH-USDT]
defaults:
  min_confluence: 0.55
  min_separation_pct: 0.03
overrides:
  eth-usdt:
    volatility_factor: 1.4
    max_positions_per_symbol: 1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadSymbols(path, nil)
	if err != nil {
		t.Fatalf("LoadSymbols: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Tracked[0] != "BTCUSDT" || cfg.Tracked[1] != "ETHUSDT" {
		t.Errorf("symbols not normalized: %v", cfg.Tracked)
	}

	btc := cfg.Params("BTCUSDT")
	if btc.MinConfluence != 0.55 || btc.MinSeparationPct != 0.03 {
		t.Errorf("defaults not applied: %+v", btc)
	}
	if btc.VolatilityFactor != 1.0 || btc.BaseStopPct != 0.01 {
		t.Errorf("built-in defaults not merged: %+v", btc)
	}

	eth := cfg.Params("ETHUSDT")
	if eth.VolatilityFactor != 1.4 || eth.MaxPositionsPerSymbol != 1 {
		t.Errorf("override not applied: %+v", eth)
	}
	if eth.MinConfluence != 0.55 {
		t.Errorf("override must inherit file defaults: %+v", eth)
	}
}

func TestLoadSymbols_MissingFile(t *testing.T) {
	cfg, err := LoadSymbols(filepath.Join(t.TempDir(), "absent.yaml"), []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("missing file must not fail: %v", err)
	}
	if len(cfg.Tracked) != 1 || cfg.Params("BTCUSDT") != DefaultSymbolParams() {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadSymbols_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("symbols: [unclosed"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSymbols(path, nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestSymbolParams_Validate(t *testing.T) {
	bad := []SymbolParams{
		func() SymbolParams { p := DefaultSymbolParams(); p.VolatilityFactor = 0; return p }(),
		func() SymbolParams { p := DefaultSymbolParams(); p.MinConfluence = 1.1; return p }(),
		func() SymbolParams { p := DefaultSymbolParams(); p.MaxPositionsPerSymbol = 0; return p }(),
		func() SymbolParams { p := DefaultSymbolParams(); p.BaseStopPct = 0; return p }(),
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("case %d: expected error for %+v", i, p)
		}
	}
	if err := DefaultSymbolParams().Validate(); err != nil {
		t.Errorf("defaults must be valid: %v", err)
	}
}
