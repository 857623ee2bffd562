package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"chunkhost.ai/internal/persistence/chunkfile"
	plog "chunkhost.ai/internal/persistence/log"
	"chunkhost.ai/internal/sim/chunk"
	"chunkhost.ai/internal/sim/chunk/gen"
	"chunkhost.ai/internal/sim/chunk/loader"
)

func newChunksCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chunks",
		Short: "List chunk files saved for a world",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := o.worldDir()
			if err != nil {
				return err
			}
			if !fileExists(dir) {
				return fmt.Errorf("no world at %s", dir)
			}
			store, err := chunkfile.NewStore(dir, nil)
			if err != nil {
				return err
			}
			coords, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range coords {
				h, err := chunkfile.ReadHeader(store.Path(c))
				if err != nil {
					fmt.Fprintf(out, "%s\terror=%v\n", c, err)
					continue
				}
				fmt.Fprintf(out, "%s\tdigest=%s\tsaved_at=%s\n", c, shortDigest(h.Digest), h.SavedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			fmt.Fprintf(out, "%d chunks\n", len(coords))
			return nil
		},
	}
}

func newInspectCmd(o *options) *cobra.Command {
	var coord string
	cmd := &cobra.Command{
		Use:   "inspect --coord x,y,z",
		Short: "Decode one chunk file and summarize its blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := o.worldDir()
			if err != nil {
				return err
			}
			c, err := parseCoord(coord)
			if err != nil {
				return err
			}
			ch, h, err := chunkfile.Read(chunkfile.Path(dir, c), chunk.Loaded)
			if err != nil {
				return err
			}
			counts := map[uint16]int{}
			for _, b := range ch.Blocks() {
				counts[b]++
			}
			ids := make([]int, 0, len(counts))
			for id := range counts {
				ids = append(ids, int(id))
			}
			sort.Ints(ids)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "coord=%s version=%d saved_at=%s\n", h.Coord, h.Version, h.SavedAt.Format("2006-01-02T15:04:05Z07:00"))
			fmt.Fprintf(out, "digest=%s\n", h.Digest)
			for _, id := range ids {
				fmt.Fprintf(out, "  %-8s %5d\n", gen.BlockName(uint16(id)), counts[uint16(id)])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&coord, "coord", "", "chunk coordinate as x,y,z")
	_ = cmd.MarkFlagRequired("coord")
	return cmd
}

func newEventsCmd(o *options) *cobra.Command {
	var (
		kind  string
		coord string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print loader events from the world's event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := o.worldDir()
			if err != nil {
				return err
			}
			var want *chunk.Coord
			if strings.TrimSpace(coord) != "" {
				c, err := parseCoord(coord)
				if err != nil {
					return err
				}
				want = &c
			}
			files, err := filepath.Glob(filepath.Join(dir, "events", "events-*.jsonl.zst"))
			if err != nil {
				return err
			}
			sort.Strings(files)

			out := cmd.OutOrStdout()
			n := 0
			for _, f := range files {
				err := plog.ReadJSONL(f, func(line []byte) error {
					if limit > 0 && n >= limit {
						return nil
					}
					var e loader.Event
					if err := json.Unmarshal(line, &e); err != nil {
						return fmt.Errorf("%s: %w", filepath.Base(f), err)
					}
					if kind != "" && string(e.Kind) != kind {
						return nil
					}
					if want != nil && e.Coord != *want {
						return nil
					}
					n++
					_, err := fmt.Fprintln(out, string(line))
					return err
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only events of this kind (loaded, evicted, load_failed, save_failed, dropped, level_changed)")
	cmd.Flags().StringVar(&coord, "coord", "", "only events for x,y,z")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many events (0 = all)")
	return cmd
}

// parseCoord reads "x,y,z". Coordinates travel as a flag value because
// pflag treats a leading "-1" positional as a shorthand flag.
func parseCoord(s string) (chunk.Coord, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return chunk.Coord{}, fmt.Errorf("coordinate needs 3 components, got %d", len(parts))
	}
	var v [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return chunk.Coord{}, fmt.Errorf("bad coordinate %q", p)
		}
		v[i] = n
	}
	return chunk.C(v[0], v[1], v[2]), nil
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
