package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/authstate"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/persist"
)

// statusTimeout bounds the engine round trips; status should report an
// unreachable engine quickly rather than retry.
const statusTimeout = 5 * time.Second

// StateStatus holds the inspection result for the persisted state.
type StateStatus struct {
	Engine        string `json:"engine"`
	Reachable     bool   `json:"reachable"`
	HasState      bool   `json:"has_state"`
	Authenticated bool   `json:"authenticated,omitempty"`
	WrittenAt     string `json:"written_at,omitempty"`
	WrittenBy     string `json:"written_by,omitempty"`
	Error         string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand with all flags configured.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted sign-in state",
		Long:  `Show which engine holds the persisted state, whether it is reachable, and what it last recorded.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	// Register flags
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	conf, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	status := queryStateStatus(ctx, conf)

	// Format and output the results
	var output string

	if cfg.jsonOutput {
		output, err = formatStatusJSON(status)
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
	} else {
		output = formatStatusTable(status)
	}

	cmd.Println(output)
	return nil
}

// queryStateStatus opens the configured engine and inspects the snapshot it
// holds. Every failure mode is reported in the result, not returned; status
// exists to describe broken setups too.
func queryStateStatus(ctx context.Context, conf *config.Config) StateStatus {
	status := StateStatus{
		Engine: conf.Persist.Engine,
	}

	engine, err := newEngine(ctx, conf)
	if err != nil {
		status.Error = fmt.Sprintf("failed to open engine: %v", err)
		return status
	}
	defer func() { _ = engine.Close() }()

	if err := engine.Ping(ctx); err != nil {
		status.Error = fmt.Sprintf("engine not reachable: %v", err)
		return status
	}
	status.Reachable = true

	// Peek needs a persistor for the key and transform chain; the store it
	// carries is never touched.
	persistor, err := buildPersistor(authstate.NewStore(), engine, conf, nil)
	if err != nil {
		status.Error = fmt.Sprintf("failed to prepare inspection: %v", err)
		return status
	}

	snap, err := persistor.Peek(ctx)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return status
		}
		status.Error = fmt.Sprintf("persisted state unreadable: %v", err)
		return status
	}

	status.HasState = true
	status.Authenticated = snap.State.IsAuthenticated
	status.WrittenAt = snap.WrittenAt.Format(time.RFC3339)
	status.WrittenBy = snap.AppVersion

	return status
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status StateStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	// Header
	_, _ = fmt.Fprintln(w, "ENGINE\tREACHABLE\tSTATE\tAUTHENTICATED\tWRITTEN")
	_, _ = fmt.Fprintln(w, "------\t---------\t-----\t-------------\t-------")

	if !status.Reachable {
		reason := "unreachable"
		if status.Error != "" {
			reason = status.Error
		}
		_, _ = fmt.Fprintf(w, "%s\tno\t-\t-\t%s\n", status.Engine, reason)
	} else if !status.HasState {
		detail := "-"
		if status.Error != "" {
			detail = status.Error
		}
		_, _ = fmt.Fprintf(w, "%s\tyes\tnone\t-\t%s\n", status.Engine, detail)
	} else {
		_, _ = fmt.Fprintf(w, "%s\tyes\tpresent\t%s\t%s (%s)\n",
			status.Engine, yesNo(status.Authenticated), status.WrittenAt, formatAge(status.WrittenAt))
	}

	_ = w.Flush()
	return string(buf)
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(status StateStatus) (string, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(data), nil
}

// formatAge formats how long ago an RFC3339 timestamp was written.
func formatAge(writtenAt string) string {
	t, err := time.Parse(time.RFC3339, writtenAt)
	if err != nil {
		return "unknown age"
	}
	seconds := int64(time.Since(t).Seconds())
	if seconds < 0 {
		seconds = 0
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds ago", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds ago", seconds/60, seconds%60)
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	return fmt.Sprintf("%dh %dm ago", hours, minutes)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
