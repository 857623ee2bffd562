package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

type options struct {
	dataDir string
	worldID string
	baseURL string
}

func (o *options) worldDir() (string, error) {
	if strings.TrimSpace(o.worldID) == "" {
		return "", fmt.Errorf("missing --world")
	}
	return filepath.Join(o.dataDir, "worlds", o.worldID), nil
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Inspect chunkhost worlds on disk and running servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, o)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.dataDir, "data", "./data", "runtime data directory")
	pf.StringVar(&o.worldID, "world", "", "world id")
	pf.StringVar(&o.baseURL, "url", "http://127.0.0.1:8080", "server base url (live commands)")

	root.AddCommand(
		newChunksCmd(o),
		newInspectCmd(o),
		newEventsCmd(o),
		newDBCmd(o),
		newStateCmd(o),
		newHoldCmd(o),
		newReleaseCmd(o),
	)
	return root
}

func runList(cmd *cobra.Command, o *options) error {
	entries, err := os.ReadDir(filepath.Join(o.dataDir, "worlds"))
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintln(cmd.OutOrStdout(), e.Name())
		}
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
