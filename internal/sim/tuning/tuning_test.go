package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chunkhost.ai/internal/sim/chunk"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	tu, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Loader.ExpirationDelay != 60*time.Second || tu.Loader.PollInterval != time.Millisecond {
		t.Fatalf("loader defaults: %+v", tu.Loader)
	}
	if tu.Origin.Ticket().Level != chunk.TickingRadius(2) {
		t.Fatalf("origin: %+v", tu.Origin)
	}
	if cfg := tu.LoaderConfig(); cfg.MaxSaveAttempts != 3 {
		t.Fatalf("loader config: %+v", cfg)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := `
loader:
  expiration_delay: 5s
  max_save_attempts: 0
tickets:
  max_radius: 4
origin_ticket:
  enabled: true
  coordinate: [1, 2, 3]
  level: active
  radius: 0
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Loader.ExpirationDelay != 5*time.Second {
		t.Fatalf("expiration: %s", tu.Loader.ExpirationDelay)
	}
	if tu.Loader.MaxSaveAttempts != 3 || tu.Loader.PollInterval != time.Millisecond {
		t.Fatalf("normalize: %+v", tu.Loader)
	}
	tk := tu.Origin.Ticket()
	if tk.Coordinate != chunk.C(1, 2, 3) || tk.Level != chunk.At(chunk.Active) {
		t.Fatalf("origin ticket: %s", tk)
	}
	if err := tu.CheckRadius(chunk.TickingRadius(5)); err == nil {
		t.Fatalf("radius 5 should exceed max 4")
	}
}

func TestValidateRejectsBadOrigin(t *testing.T) {
	cases := map[string]string{
		"radius on non-ticking": "origin_ticket:\n  level: minimal\n  radius: 2\n",
		"radius over max":       "tickets:\n  max_radius: 2\norigin_ticket:\n  level: ticking\n  radius: 3\n",
		"unknown level":         "origin_ticket:\n  level: sleepy\n",
	}
	for name, raw := range cases {
		path := filepath.Join(t.TempDir(), "tuning.yaml")
		if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := Load(path)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !strings.HasPrefix(err.Error(), "tuning.yaml: ") {
			t.Fatalf("%s: error not wrapped: %v", name, err)
		}
	}
}

func TestShippedTuningMatchesDefaults(t *testing.T) {
	tu, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := Defaults()
	d.Normalize()
	if tu != d {
		t.Fatalf("configs/tuning.yaml drifted from Defaults:\n got %+v\nwant %+v", tu, d)
	}
}
