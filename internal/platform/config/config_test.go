package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	kit "archiver/internal/platform/testkit"
)

func TestPrefixNesting(t *testing.T) {
	c := New().Prefix("ARCHIVER_").Prefix("REDIS_")
	if got := c.key("ADDR"); got != "ARCHIVER_REDIS_ADDR" {
		t.Fatalf("key() = %q, want %q", got, "ARCHIVER_REDIS_ADDR")
	}
}

func TestMustVariants(t *testing.T) {
	c := New().Prefix("T_")
	t.Setenv("T_NAME", "  archiver ")
	t.Setenv("T_N", "8")
	t.Setenv("T_BADN", "x")
	t.Setenv("T_D", "2s")

	if got := c.MustString("NAME"); got != "archiver" {
		t.Fatalf("MustString = %q, want %q", got, "archiver")
	}
	if got := c.MustInt("N"); got != 8 {
		t.Fatalf("MustInt = %d, want 8", got)
	}
	if got := c.MustDuration("D"); got != 2*time.Second {
		t.Fatalf("MustDuration = %v, want 2s", got)
	}
	kit.MustPanic(t, func() { _ = c.MustString("MISSING") })
	kit.MustPanic(t, func() { _ = c.MustInt("BADN") })
	kit.MustPanic(t, func() { c.Require("NAME", "MISSING") })
}

func TestMayDurationAcceptsSeconds(t *testing.T) {
	c := New()
	t.Setenv("TTL_A", "15m")
	t.Setenv("TTL_B", "900")
	t.Setenv("TTL_C", "soon")

	if got := c.MayDuration("TTL_A", 0); got != 15*time.Minute {
		t.Fatalf("MayDuration(15m) = %v", got)
	}
	if got := c.MayDuration("TTL_B", 0); got != 900*time.Second {
		t.Fatalf("MayDuration(900) = %v", got)
	}
	if got := c.MayDuration("TTL_C", time.Hour); got != time.Hour {
		t.Fatalf("MayDuration(bad) = %v, want default", got)
	}
}

func TestMayIntCSV(t *testing.T) {
	c := New()
	t.Setenv("SITES", " 1, 2 ,x,,5")
	got := c.MayIntCSV("SITES", nil)
	if want := []int64{1, 2, 5}; !reflect.DeepEqual(got, want) {
		t.Fatalf("MayIntCSV = %v, want %v", got, want)
	}
	if got := c.MayIntCSV("NOPE", []int64{9}); !reflect.DeepEqual(got, []int64{9}) {
		t.Fatalf("MayIntCSV default = %v", got)
	}
}

func TestMayEnum(t *testing.T) {
	c := New()
	t.Setenv("BACKEND", "Redis")
	if got := c.MayEnum("BACKEND", "memory", "memory", "pg", "redis"); got != "redis" {
		t.Fatalf("MayEnum = %q, want canonical %q", got, "redis")
	}
	t.Setenv("BACKEND", "kafka")
	kit.MustPanic(t, func() { _ = c.MayEnum("BACKEND", "memory", "memory", "pg") })
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("ARCHIVER_DOTENV_PROBE=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARCHIVER_DOTENV_PROBE", "")
	_ = os.Unsetenv("ARCHIVER_DOTENV_PROBE")

	if err := Load(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("Load err = %v", err)
	}
	if got := os.Getenv("ARCHIVER_DOTENV_PROBE"); got != "from-file" {
		t.Fatalf("dotenv value = %q, want %q", got, "from-file")
	}
}
