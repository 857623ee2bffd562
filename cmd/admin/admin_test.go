package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chunkhost.ai/internal/persistence/chunkfile"
	plog "chunkhost.ai/internal/persistence/log"
	"chunkhost.ai/internal/sim/chunk"
	"chunkhost.ai/internal/sim/chunk/gen"
	"chunkhost.ai/internal/sim/chunk/loader"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seedWorld(t *testing.T) (string, string) {
	t.Helper()
	data := t.TempDir()
	dir := filepath.Join(data, "worlds", "w1")
	g := gen.Classic(7)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, c := range []chunk.Coord{chunk.C(0, 0, 0), chunk.C(1, -1, 2)} {
		if _, err := chunkfile.Write(chunkfile.Path(dir, c), g.Generate(c, chunk.Loaded), now); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
	}

	el := plog.NewEventLogger(dir, false)
	for _, e := range []loader.Event{
		{Time: now, Kind: loader.EventLoaded, Coord: chunk.C(0, 0, 0), Level: chunk.Ticking},
		{Time: now, Kind: loader.EventLoaded, Coord: chunk.C(1, -1, 2), Level: chunk.Active},
		{Time: now.Add(time.Minute), Kind: loader.EventEvicted, Coord: chunk.C(1, -1, 2), Level: chunk.Active, Digest: "abc"},
	} {
		if err := el.WriteEvent(e); err != nil {
			t.Fatalf("write event: %v", err)
		}
	}
	if err := el.Close(); err != nil {
		t.Fatalf("close events: %v", err)
	}
	return data, dir
}

func TestListWorlds(t *testing.T) {
	data, _ := seedWorld(t)
	out, err := run(t, "--data", data)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "w1" {
		t.Fatalf("list output %q", out)
	}
}

func TestChunksAndInspect(t *testing.T) {
	data, _ := seedWorld(t)
	out, err := run(t, "chunks", "--data", data, "--world", "w1")
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if !strings.Contains(out, chunk.C(0, 0, 0).String()+"\tdigest=") {
		t.Fatalf("chunks output missing origin: %q", out)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "2 chunks") {
		t.Fatalf("chunks output %q", out)
	}

	out, err = run(t, "inspect", "--coord", "1,-1,2", "--data", data, "--world", "w1")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(out, "digest=") || !strings.Contains(out, "coord="+chunk.C(1, -1, 2).String()) {
		t.Fatalf("inspect output %q", out)
	}

	if _, err := run(t, "inspect", "--coord", "9,9,9", "--data", data, "--world", "w1"); err == nil {
		t.Fatalf("expected error for a missing chunk file")
	}
	if _, err := run(t, "inspect", "1", "-1", "2", "--data", data, "--world", "w1"); err == nil {
		t.Fatalf("expected error for positional coordinates")
	}
	if _, err := run(t, "chunks", "--data", data); err == nil {
		t.Fatalf("expected error without --world")
	}
	if _, err := run(t, "chunks", "--data", data, "--world", "nope"); err == nil {
		t.Fatalf("expected error for unknown world")
	}
}

func TestEventsFilter(t *testing.T) {
	data, _ := seedWorld(t)
	out, err := run(t, "events", "--data", data, "--world", "w1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if n := len(strings.Split(strings.TrimSpace(out), "\n")); n != 3 {
		t.Fatalf("events=%d want 3: %q", n, out)
	}

	out, err = run(t, "events", "--data", data, "--world", "w1", "--kind", "evicted")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var e loader.Event
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &e); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if e.Kind != loader.EventEvicted || e.Coord != chunk.C(1, -1, 2) || e.Digest != "abc" {
		t.Fatalf("event: %+v", e)
	}

	out, err = run(t, "events", "--data", data, "--world", "w1", "--coord", "0,0,0")
	if err != nil || strings.Count(out, "\n") != 1 {
		t.Fatalf("coord filter: %q err=%v", out, err)
	}
	out, err = run(t, "events", "--data", data, "--world", "w1", "--limit", "2")
	if err != nil || strings.Count(out, "\n") != 2 {
		t.Fatalf("limit: %q err=%v", out, err)
	}
}

func TestDBMissingIndex(t *testing.T) {
	data, _ := seedWorld(t)
	if _, err := run(t, "db", "chunks", "--data", data, "--world", "w1"); err == nil || !strings.Contains(err.Error(), "no index") {
		t.Fatalf("expected missing index error, got %v", err)
	}
}

func TestLiveCommands(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPost {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		mu.Unlock()
		if r.URL.Path == "/admin/v1/tickets/missing" {
			http.Error(rw, `{"ok":false}`, http.StatusNotFound)
			return
		}
		_, _ = rw.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	if _, err := run(t, "state", "--url", srv.URL); err != nil {
		t.Fatalf("state: %v", err)
	}
	if _, err := run(t, "hold", "--coord", "-1,2,-3", "--url", srv.URL, "--level", "Active", "--wait", "0s"); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if _, err := run(t, "hold", "--url", srv.URL); err == nil {
		t.Fatalf("expected error without --coord")
	}
	if _, err := run(t, "release", "abc", "--url", srv.URL); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := run(t, "release", "missing", "--url", srv.URL); err == nil {
		t.Fatalf("expected error on 404")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"GET /admin/v1/state",
		"POST /admin/v1/tickets",
		"DELETE /admin/v1/tickets/abc",
		"DELETE /admin/v1/tickets/missing",
	}
	if strings.Join(seen, "|") != strings.Join(want, "|") {
		t.Fatalf("requests=%v", seen)
	}
	coord, _ := body["coordinate"].([]any)
	if body["level"] != "Active" || len(coord) != 3 || coord[0].(float64) != -1 || coord[2].(float64) != -3 {
		t.Fatalf("hold body: %v", body)
	}
}
