package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newStateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print /admin/v1/state of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminRequest(cmd, o, http.MethodGet, "/admin/v1/state", nil)
		},
	}
}

func newHoldCmd(o *options) *cobra.Command {
	var (
		coord  string
		level  string
		radius int
		wait   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "hold --coord x,y,z",
		Short: "Ask a running server to hold a ticket until released",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCoord(coord)
			if err != nil {
				return err
			}
			body, _ := json.Marshal(map[string]any{
				"coordinate": c.Array(),
				"level":      level,
				"radius":     radius,
				"wait_ms":    wait.Milliseconds(),
			})
			return adminRequest(cmd, o, http.MethodPost, "/admin/v1/tickets", body)
		},
	}
	cmd.Flags().StringVar(&coord, "coord", "", "chunk coordinate as x,y,z")
	_ = cmd.MarkFlagRequired("coord")
	cmd.Flags().StringVar(&level, "level", "Ticking", "ticket level (Ticking, Active, Minimal, Loaded)")
	cmd.Flags().IntVar(&radius, "radius", 0, "Ticking radius")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "wait this long for the loader to realize the ticket")
	return cmd
}

func newReleaseCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "release ID",
		Short: "Release a ticket held through the admin api",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminRequest(cmd, o, http.MethodDelete, "/admin/v1/tickets/"+args[0], nil)
		},
	}
}

func adminRequest(cmd *cobra.Command, o *options, method, path string, body []byte) error {
	u := strings.TrimRight(strings.TrimSpace(o.baseURL), "/") + path
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(cmd.Context(), method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: 30 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
