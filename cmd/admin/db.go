package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chunkhost.ai/internal/persistence/indexdb"
)

func newDBCmd(o *options) *cobra.Command {
	var (
		dbPath string
		limit  int
		state  string
		all    bool
	)
	cmd := &cobra.Command{
		Use:       "db {chunks|failures|tickets|meta}",
		Short:     "Query the world's sqlite chunk index",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"chunks", "failures", "tickets", "meta"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(dbPath)
			if path == "" {
				dir, err := o.worldDir()
				if err != nil {
					return fmt.Errorf("%w (or --db)", err)
				}
				path = filepath.Join(dir, "index", "world.sqlite")
			}
			if !fileExists(path) {
				return fmt.Errorf("no index at %s", path)
			}
			idx, err := indexdb.OpenSQLite(path)
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}
			defer idx.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if limit <= 0 {
				limit = 20
			}

			var rows any
			switch args[0] {
			case "chunks":
				rows, err = idx.Chunks(ctx, state, limit)
			case "failures":
				rows, err = idx.Failures(ctx, limit)
			case "tickets":
				rows, err = idx.Tickets(ctx, !all, limit)
			case "meta":
				meta := map[string]string{}
				for _, k := range []string{"schema_version", "seed"} {
					var v string
					if v, err = idx.Meta(ctx, k); err != nil {
						break
					}
					meta[k] = v
				}
				rows = meta
			default:
				return fmt.Errorf("unknown query %q", args[0])
			}
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		},
	}
	f := cmd.Flags()
	f.StringVar(&dbPath, "db", "", "sqlite db path (default <data>/worlds/<world>/index/world.sqlite)")
	f.IntVar(&limit, "limit", 20, "result limit")
	f.StringVar(&state, "state", "", "chunks: filter by state (loaded, evicted, dropped)")
	f.BoolVar(&all, "all", false, "tickets: include released tickets")
	return cmd
}
