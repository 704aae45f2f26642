package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"elliott-backtester/config"
	"elliott-backtester/internal/market"
)

func TestCandleKey(t *testing.T) {
	raw := []byte("date,open,high,low,close\n2024-03-04,100,101,99,100.5\n")
	key := CandleKey("QQQ", market.TimeframeH1, raw)

	if !strings.HasPrefix(key, "candles:QQQ:1h:") {
		t.Errorf("key = %q, want candles:QQQ:1h: prefix", key)
	}
	if again := CandleKey("QQQ", market.TimeframeH1, raw); again != key {
		t.Errorf("same bytes produced different keys: %q vs %q", key, again)
	}

	edited := append([]byte(nil), raw...)
	edited[len(edited)-2] = '9'
	if CandleKey("QQQ", market.TimeframeH1, edited) == key {
		t.Error("edited bytes should change the key")
	}
	if CandleKey("SPY", market.TimeframeH1, raw) == key {
		t.Error("symbol should be part of the key")
	}
	if CandleKey("QQQ", market.TimeframeM30, raw) == key {
		t.Error("timeframe should be part of the key")
	}
}

func TestDisabledCache(t *testing.T) {
	ctx := context.Background()
	cache := NewCandleCache(ctx, config.RedisConfig{}, zerolog.Nop())

	if cache.Enabled() {
		t.Fatal("cache with no address should be disabled")
	}
	if _, ok := cache.Get(ctx, "candles:QQQ:1h:abc"); ok {
		t.Error("disabled cache should always miss")
	}
	cache.Put(ctx, "candles:QQQ:1h:abc", &market.Series{Symbol: "QQQ"})
	if err := cache.Ping(ctx); err != nil {
		t.Errorf("disabled cache ping: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Errorf("disabled cache close: %v", err)
	}
}

func TestCachedLoaderWithoutRedis(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	csv := `date,open,high,low,close
2024-03-04 09:00:00,100,101,99.5,100.5
2024-03-04 10:00:00,100.5,102,100,101.5
`
	if err := os.WriteFile(filepath.Join(dir, "h1_QQQ.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	cl := NewCachedLoader(
		market.NewLoader(dir, zerolog.Nop()),
		NewCandleCache(ctx, config.RedisConfig{}, zerolog.Nop()),
		zerolog.Nop(),
	)

	s, err := cl.Load(ctx, "QQQ", market.TimeframeH1, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("got %d candles, want 2", s.Len())
	}

	s, err = cl.Load(ctx, "QQQ", market.TimeframeM30, true)
	if err != nil {
		t.Fatalf("optional load: %v", err)
	}
	if !s.Empty() {
		t.Errorf("missing optional file should load empty, got %d candles", s.Len())
	}

	if _, err := cl.Load(ctx, "QQQ", market.TimeframeDaily, false); err == nil {
		t.Error("required load should fail when the file is missing")
	}
}
