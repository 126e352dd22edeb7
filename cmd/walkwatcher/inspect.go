package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"walkwatcher/internal/config"
	"walkwatcher/internal/state"
)

var errInMemoryState = errors.New("database_path is :memory:; there is no persisted state to read")

type lockView struct {
	ConfigName string    `json:"config_name"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Expired    bool      `json:"expired"`
}

type directoryView struct {
	Directory       string    `json:"directory"`
	Files           int       `json:"files"`
	OldestFirstSeen time.Time `json:"oldest_first_seen"`
	OldestAge       int64     `json:"oldest_age_seconds"`
}

type inspectView struct {
	ConfigName  string          `json:"config_name"`
	Lock        *lockView       `json:"lock,omitempty"`
	Directories []directoryView `json:"directories"`
}

func newInspectCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <config>",
		Short: "Show the run lock and tracked directories from the state store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := withStore(cmd.Context(), args[0], func(ctx context.Context, cfg *config.Config, store state.Store) (inspectView, error) {
				return collectInspectView(ctx, cfg.System.ConfigName, store, time.Now())
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, view)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderInspect(view, shouldColorize(cmd.OutOrStdout())))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func withStore[T any](ctx context.Context, path string, fn func(context.Context, *config.Config, state.Store) (T, error)) (T, error) {
	var zero T
	cfg, _, _, err := config.Load(path)
	if err != nil {
		return zero, err
	}
	if cfg.InMemory() {
		return zero, errInMemoryState
	}
	store, err := state.Open(ctx, cfg.System.DatabasePath)
	if err != nil {
		return zero, fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()
	return fn(ctx, cfg, store)
}

func collectInspectView(ctx context.Context, configName string, store state.Store, now time.Time) (inspectView, error) {
	view := inspectView{ConfigName: configName, Directories: []directoryView{}}

	record, ok, err := store.Lock(ctx, configName)
	if err != nil {
		return view, fmt.Errorf("read lock: %w", err)
	}
	if ok {
		view.Lock = &lockView{
			ConfigName: record.ConfigName,
			Owner:      record.Owner,
			AcquiredAt: record.AcquiredAt,
			ExpiresAt:  record.ExpiresAt(),
			Expired:    record.IsExpired(now),
		}
	}

	files, err := store.TrackedFiles(ctx, configName)
	if err != nil {
		return view, fmt.Errorf("read tracked files: %w", err)
	}
	byDir := make(map[string]*directoryView)
	for _, f := range files {
		d, ok := byDir[f.Directory]
		if !ok {
			d = &directoryView{Directory: f.Directory, OldestFirstSeen: f.FirstSeenAt}
			byDir[f.Directory] = d
		}
		d.Files++
		if f.FirstSeenAt.Before(d.OldestFirstSeen) {
			d.OldestFirstSeen = f.FirstSeenAt
		}
	}
	for _, d := range byDir {
		d.OldestAge = max(int64(now.Sub(d.OldestFirstSeen)/time.Second), 0)
		view.Directories = append(view.Directories, *d)
	}
	sort.Slice(view.Directories, func(i, j int) bool {
		return view.Directories[i].Directory < view.Directories[j].Directory
	})
	return view, nil
}

func renderInspect(view inspectView, colorize bool) string {
	var b strings.Builder

	b.WriteString(sectionHeader("Lock", colorize))
	b.WriteString("\n")
	if view.Lock == nil {
		b.WriteString("No lock held for " + view.ConfigName + "\n")
	} else {
		lockState := colorText("live", ansiYellow, colorize)
		if view.Lock.Expired {
			lockState = colorText("expired", ansiRed, colorize)
		}
		b.WriteString(renderRows(lockColumns, [][]string{{
			view.Lock.ConfigName,
			view.Lock.Owner,
			formatTime(view.Lock.AcquiredAt),
			formatTime(view.Lock.ExpiresAt),
			lockState,
		}}))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(sectionHeader("Tracked directories", colorize))
	b.WriteString("\n")
	if len(view.Directories) == 0 {
		b.WriteString(colorText("No tracked files", ansiGreen, colorize) + "\n")
		return b.String()
	}
	rows := make([][]string, 0, len(view.Directories))
	for _, d := range view.Directories {
		rows = append(rows, []string{
			d.Directory,
			strconv.Itoa(d.Files),
			formatTime(d.OldestFirstSeen),
			formatAge(d.OldestAge),
		})
	}
	b.WriteString(renderRows(directoryColumns, rows))
	b.WriteString("\n")
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatAge(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}
