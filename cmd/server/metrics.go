package main

import (
	"fmt"
	"io"
	"net/http"

	"chunkhost.ai/internal/sim/chunk"
)

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	a.writeMetrics(rw)
}

// writeMetrics renders a minimal Prometheus exposition.
func (a *app) writeMetrics(w io.Writer) {
	m := a.world.Metrics()
	lm := m.Loader
	id := a.worldID

	gauge(w, "chunkhost_loader_tickets", "Tickets currently bound to chunk states.")
	fmt.Fprintf(w, "chunkhost_loader_tickets{world=%q} %d\n", id, lm.Tickets)

	gauge(w, "chunkhost_loader_states", "Chunk states tracked by the loader.")
	fmt.Fprintf(w, "chunkhost_loader_states{world=%q} %d\n", id, lm.States)

	gauge(w, "chunkhost_cache_chunks", "Coordinates present in the chunk cache.")
	fmt.Fprintf(w, "chunkhost_cache_chunks{world=%q} %d\n", id, lm.CachedChunks)

	gauge(w, "chunkhost_loader_level_chunks", "Chunk states per level.")
	for _, lv := range chunk.Levels {
		fmt.Fprintf(w, "chunkhost_loader_level_chunks{world=%q,level=%q} %d\n", id, lv.String(), lm.Levels[lv.String()])
	}

	gauge(w, "chunkhost_loader_pending_evictions", "Ticketless chunks waiting for the expiration delay.")
	fmt.Fprintf(w, "chunkhost_loader_pending_evictions{world=%q} %d\n", id, lm.PendingEvictions)

	gauge(w, "chunkhost_loader_queued_tickets", "Tickets submitted but not yet processed.")
	fmt.Fprintf(w, "chunkhost_loader_queued_tickets{world=%q} %d\n", id, lm.QueuedTickets)

	disconnected := 0
	if lm.Disconnected {
		disconnected = 1
	}
	gauge(w, "chunkhost_loader_disconnected", "1 once the ticket channel has no senders left.")
	fmt.Fprintf(w, "chunkhost_loader_disconnected{world=%q} %d\n", id, disconnected)

	gauge(w, "chunkhost_loader_step_ms", "Last loader step duration in milliseconds.")
	fmt.Fprintf(w, "chunkhost_loader_step_ms{world=%q} %.3f\n", id, lm.StepMS)

	counter(w, "chunkhost_loader_events_total", "Loader lifecycle counters.")
	for _, c := range []struct {
		name string
		v    uint64
	}{
		{"tickets_processed", lm.Totals.TicketsProcessed},
		{"tickets_void", lm.Totals.TicketsVoid},
		{"chunks_loaded", lm.Totals.ChunksLoaded},
		{"chunks_reused", lm.Totals.ChunksReused},
		{"chunks_evicted", lm.Totals.ChunksEvicted},
		{"chunks_dropped", lm.Totals.ChunksDropped},
		{"load_failures", lm.Totals.LoadFailures},
		{"save_failures", lm.Totals.SaveFailures},
	} {
		fmt.Fprintf(w, "chunkhost_loader_events_total{world=%q,event=%q} %d\n", id, c.name, c.v)
	}

	counter(w, "chunkhost_store_ops_total", "Chunk file store operations.")
	fmt.Fprintf(w, "chunkhost_store_ops_total{world=%q,op=%q} %d\n", id, "loaded", m.Store.Loaded)
	fmt.Fprintf(w, "chunkhost_store_ops_total{world=%q,op=%q} %d\n", id, "generated", m.Store.Generated)
	fmt.Fprintf(w, "chunkhost_store_ops_total{world=%q,op=%q} %d\n", id, "saved", m.Store.Saved)
	fmt.Fprintf(w, "chunkhost_store_ops_total{world=%q,op=%q} %d\n", id, "skipped", m.Store.Skipped)

	gauge(w, "chunkhost_world_holds", "Tickets held by the world itself (origin and admin).")
	fmt.Fprintf(w, "chunkhost_world_holds{world=%q} %d\n", id, m.Holds)

	if a.ws != nil {
		gauge(w, "chunkhost_ws_sessions", "Connected hold sessions.")
		fmt.Fprintf(w, "chunkhost_ws_sessions{world=%q} %d\n", id, a.ws.Sessions())
		gauge(w, "chunkhost_ws_holds", "Tickets held by websocket sessions.")
		fmt.Fprintf(w, "chunkhost_ws_holds{world=%q} %d\n", id, a.ws.Holds())
	}

	if s := m.Index; s != nil {
		gauge(w, "chunkhost_index_queue_depth", "Current index write queue depth.")
		fmt.Fprintf(w, "chunkhost_index_queue_depth{world=%q} %d\n", id, s.QueueDepth)
		gauge(w, "chunkhost_index_queue_capacity", "Index write queue capacity.")
		fmt.Fprintf(w, "chunkhost_index_queue_capacity{world=%q} %d\n", id, s.QueueCapacity)
		counter(w, "chunkhost_index_dropped_total", "Index writes dropped because the queue was full.")
		fmt.Fprintf(w, "chunkhost_index_dropped_total{world=%q,kind=%q} %d\n", id, "event", s.DropEventTotal)
		fmt.Fprintf(w, "chunkhost_index_dropped_total{world=%q,kind=%q} %d\n", id, "ticket", s.DropTicketTotal)
		counter(w, "chunkhost_index_write_errors_total", "Failed index transactions.")
		fmt.Fprintf(w, "chunkhost_index_write_errors_total{world=%q} %d\n", id, s.WriteErrorTotal)
		counter(w, "chunkhost_index_applied_total", "Index writes applied.")
		fmt.Fprintf(w, "chunkhost_index_applied_total{world=%q} %d\n", id, s.AppliedTotal)
	}
}

func gauge(w io.Writer, name, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
}

func counter(w io.Writer, name, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
}
