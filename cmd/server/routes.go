package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chunkhost.ai/internal/persistence/indexdb"
	"chunkhost.ai/internal/sim/chunk"
	"chunkhost.ai/internal/sim/world"
	"chunkhost.ai/internal/transport/ws"
)

type app struct {
	world   *world.World
	ws      *ws.Server
	index   *indexdb.SQLiteIndex
	worldID string
	log     *log.Logger

	enableAdmin bool
	enablePprof bool
}

func (a *app) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Get("/metrics", a.handleMetrics)

	if a.enableAdmin {
		// Local-only admin endpoints.
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(loopbackOnly)
			r.Get("/state", a.handleState)
			r.Get("/chunks", a.handleChunks)
			r.Get("/chunks/{x}/{y}/{z}", a.handleChunk)
			r.Get("/tickets", a.handleTickets)
			r.Post("/tickets", a.handleHold)
			r.Delete("/tickets/{id}", a.handleRelease)
		})
	}
	if a.enablePprof {
		r.Route("/debug/pprof", func(r chi.Router) {
			r.Use(loopbackOnly)
			r.HandleFunc("/*", pprof.Index)
			r.HandleFunc("/cmdline", pprof.Cmdline)
			r.HandleFunc("/profile", pprof.Profile)
			r.HandleFunc("/symbol", pprof.Symbol)
			r.HandleFunc("/trace", pprof.Trace)
		})
	}
	r.HandleFunc("/v1/ws", a.ws.Handler())
	return r
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]any{"ok": false, "error": msg})
}

func (a *app) handleState(rw http.ResponseWriter, r *http.Request) {
	type holdView struct {
		ID        string    `json:"id"`
		Origin    string    `json:"origin"`
		Ticket    string    `json:"ticket"`
		CreatedAt time.Time `json:"created_at"`
	}
	holds := a.world.Holds()
	views := make([]holdView, 0, len(holds))
	for _, h := range holds {
		views = append(views, holdView{ID: h.ID, Origin: h.Origin, Ticket: h.Ticket.String(), CreatedAt: h.CreatedAt})
	}
	writeJSON(rw, http.StatusOK, struct {
		WorldID  string             `json:"world_id"`
		Dir      string             `json:"dir"`
		Seed     string             `json:"seed"`
		Sessions int64              `json:"sessions"`
		Holds    []holdView         `json:"holds"`
		Metrics  world.WorldMetrics `json:"metrics"`
	}{
		WorldID:  a.worldID,
		Dir:      a.world.Dir(),
		Seed:     a.world.Settings().Seed,
		Sessions: a.ws.Sessions(),
		Holds:    views,
		Metrics:  a.world.Metrics(),
	})
}

func (a *app) handleChunks(rw http.ResponseWriter, r *http.Request) {
	keys := a.world.Cache().Keys()
	out := make([]chunk.Coord, 0, len(keys))
	var want chunk.Level
	if s := strings.TrimSpace(r.URL.Query().Get("level")); s != "" {
		lv, err := chunk.ParseLevel(s)
		if err != nil {
			writeError(rw, http.StatusBadRequest, err.Error())
			return
		}
		want = lv
	}
	for _, c := range keys {
		if want != 0 {
			ch := a.world.Cache().Get(c)
			if ch == nil || ch.Level() != want {
				continue
			}
		}
		out = append(out, c)
	}
	writeJSON(rw, http.StatusOK, map[string]any{"count": len(out), "chunks": out})
}

func (a *app) handleChunk(rw http.ResponseWriter, r *http.Request) {
	c, err := coordParam(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	info, err := a.world.Inspect(ctx, c)
	if err != nil {
		writeError(rw, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, info)
}

func coordParam(r *http.Request) (chunk.Coord, error) {
	var v [3]int64
	for i, name := range []string{"x", "y", "z"} {
		n, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
		if err != nil {
			return chunk.Coord{}, errors.New("bad coordinate " + name)
		}
		v[i] = n
	}
	return chunk.C(v[0], v[1], v[2]), nil
}

type holdRequest struct {
	Coordinate [3]int64 `json:"coordinate"`
	Level      string   `json:"level"`
	Radius     int      `json:"radius"`
	// WaitMS bounds how long the response waits for the loader to realize
	// the ticket. Zero returns right after submission.
	WaitMS int `json:"wait_ms"`
}

type holdResponse struct {
	OK      bool         `json:"ok"`
	ID      string       `json:"id"`
	Ticket  string       `json:"ticket"`
	Chunks  int          `json:"chunks"`
	Outcome *outcomeView `json:"outcome,omitempty"`
}

type outcomeView struct {
	Status string `json:"status"`
	Loaded int    `json:"loaded"`
	Reused int    `json:"reused"`
	Failed int    `json:"failed"`
	Error  string `json:"error,omitempty"`
}

func (a *app) handleHold(rw http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid json")
		return
	}
	level, err := chunk.ParseLevel(req.Level)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	t := chunk.Ticket{
		Coordinate: chunk.C(req.Coordinate[0], req.Coordinate[1], req.Coordinate[2]),
		Level:      chunk.ParameterizedLevel{Level: level, Radius: req.Radius},
	}
	h, err := a.world.Hold("admin", t)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, world.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(rw, status, err.Error())
		return
	}
	resp := holdResponse{OK: true, ID: h.ID, Ticket: t.String(), Chunks: t.CoordinateCount()}
	if req.WaitMS > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(req.WaitMS)*time.Millisecond)
		out, err := h.Handle().Wait(ctx)
		cancel()
		if err == nil {
			v := outcomeView{Status: out.Status.String(), Loaded: out.Loaded, Reused: out.Reused, Failed: out.Failed}
			if out.Err != nil {
				v.Error = out.Err.Error()
			}
			resp.Outcome = &v
		}
	}
	if a.log != nil {
		a.log.Printf("admin hold %s: %s", h.ID, t)
	}
	writeJSON(rw, http.StatusCreated, resp)
}

func (a *app) handleRelease(rw http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == world.OriginHoldID {
		writeError(rw, http.StatusForbidden, "the origin ticket is held for the world's lifetime")
		return
	}
	if !a.world.Release(id) {
		writeError(rw, http.StatusNotFound, "no such ticket")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (a *app) handleTickets(rw http.ResponseWriter, r *http.Request) {
	if a.index == nil {
		writeError(rw, http.StatusServiceUnavailable, "index disabled")
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	active := r.URL.Query().Get("all") == ""
	rows, err := a.index.Tickets(r.Context(), active, limit)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"tickets": rows})
}
