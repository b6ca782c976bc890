// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/expr-lang/expr/vm"
	"github.com/spf13/cobra"

	"github.com/electorrent/electorrent/internal/clients"
	"github.com/electorrent/electorrent/internal/torrent"
)

// backendFactory is swapped out by tests.
var backendFactory clients.BackendFactory = clients.NewBackend

// connect builds a one-shot pool and sync manager for the named instance.
func connect(ctx context.Context, s *stores, ref string) (*clients.SyncManager, int, func(), error) {
	instance, err := s.findInstance(ctx, ref)
	if err != nil {
		return nil, 0, nil, err
	}

	pool := clients.NewPool(s.instances, s.errors, s.cfg.Config.RequestTimeout)
	pool.SetBackendFactory(backendFactory)
	syncManager := clients.NewSyncManager(pool, s.instances, s.cfg.Config.PollInterval)

	return syncManager, instance.ID, func() { pool.Close() }, nil
}

func RunTorrentsCommand() *cobra.Command {
	var (
		configDir  string
		dataDir    string
		filter     string
		sortBy     string
		search     string
		expression string
		allColumns bool
	)

	command := &cobra.Command{
		Use:   "torrents <id|name>",
		Short: "Print the torrent table of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := torrent.ParseStateFilter(filter)
			if err != nil {
				return err
			}

			s, err := openStores(configDir, dataDir)
			if err != nil {
				return err
			}
			defer s.Close()

			syncManager, instanceID, closePool, err := connect(cmd.Context(), s, args[0])
			if err != nil {
				return err
			}
			defer closePool()

			torrents, err := syncManager.Torrents(cmd.Context(), instanceID)
			if err != nil {
				return fmt.Errorf("failed to fetch torrents: %w", err)
			}

			torrents = torrent.Search(torrents, search)

			var program *vm.Program
			if expression != "" {
				exprFilter := torrent.NewExprFilter()
				defer exprFilter.Close()
				if program, err = exprFilter.Compile(expression); err != nil {
					return err
				}
			}

			matched := torrents[:0]
			for i := range torrents {
				t := &torrents[i]
				if !state.Matches(t) {
					continue
				}
				if program != nil {
					ok, err := torrent.Match(program, t)
					if err != nil {
						return fmt.Errorf("evaluate filter: %w", err)
					}
					if !ok {
						continue
					}
				}
				matched = append(matched, *t)
			}

			compare := torrent.Sort(sortBy)
			slices.SortStableFunc(matched, func(a, b torrent.Torrent) int {
				return compare(&a, &b)
			})

			columns := torrent.Columns()
			if !allColumns {
				columns = slices.DeleteFunc(columns, func(c torrent.Column) bool { return !c.Enabled })
			}

			return writeTorrentTable(cmd.OutOrStdout(), columns, matched)
		},
	}

	addStoreFlags(command, &configDir, &dataDir)
	command.Flags().StringVar(&filter, "filter", string(torrent.StateAll),
		"state filter: "+joinFilters(torrent.StateFilters()))
	command.Flags().StringVar(&sortBy, "sort", torrent.AttrDateAdded, "column attribute to sort by")
	command.Flags().StringVar(&search, "search", "", "only show torrents whose name contains every word")
	command.Flags().StringVar(&expression, "expr", "", `filter expression, e.g. 'Size > 1e9 && Label == "movies"'`)
	command.Flags().BoolVar(&allColumns, "all-columns", false, "include columns hidden by default")

	return command
}

func joinFilters(filters []torrent.StateFilter) string {
	names := make([]string, len(filters))
	for i, f := range filters {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

func writeTorrentTable(out io.Writer, columns []torrent.Column, torrents []torrent.Torrent) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	header := make([]string, 0, len(columns)+2)
	header = append(header, "HASH")
	for _, c := range columns {
		header = append(header, strings.ToUpper(c.Name))
	}
	header = append(header, "STATUS")
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for i := range torrents {
		t := &torrents[i]
		row := make([]string, 0, len(header))
		row = append(row, shortHash(t.Hash))
		for _, c := range columns {
			row = append(row, c.Format(t))
		}
		row = append(row, t.StatusText())
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	return w.Flush()
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

func RunMagnetCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		long      bool
	)

	command := &cobra.Command{
		Use:   "magnet <id|name> <hash>",
		Short: "Print the magnet link of a torrent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStores(configDir, dataDir)
			if err != nil {
				return err
			}
			defer s.Close()

			syncManager, instanceID, closePool, err := connect(cmd.Context(), s, args[0])
			if err != nil {
				return err
			}
			defer closePool()

			hash := strings.ToLower(args[1])
			t, err := syncManager.Torrent(cmd.Context(), instanceID, hash)
			if err != nil {
				return fmt.Errorf("failed to find torrent %s: %w", hash, err)
			}

			if long {
				if t, err = syncManager.LoadTrackers(cmd.Context(), instanceID, hash); err != nil {
					return err
				}
			}

			cmd.Println(t.MagnetURI(long))
			return nil
		},
	}

	addStoreFlags(command, &configDir, &dataDir)
	command.Flags().BoolVar(&long, "long", false, "include name, size and trackers")

	return command
}
