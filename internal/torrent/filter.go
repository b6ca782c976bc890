// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// StateFilter selects torrents by their status predicates, the way the
// sidebar tabs do.
type StateFilter string

const (
	StateAll         StateFilter = "all"
	StateDownloading StateFilter = "downloading"
	StateSeeding     StateFilter = "seeding"
	StateCompleted   StateFilter = "completed"
	StatePaused      StateFilter = "paused"
	StateStopped     StateFilter = "stopped"
	StateQueued      StateFilter = "queued"
	StateError       StateFilter = "error"
)

// StateFilters lists every state filter in sidebar order.
func StateFilters() []StateFilter {
	return []StateFilter{StateAll, StateDownloading, StateSeeding, StateCompleted, StatePaused, StateStopped, StateQueued, StateError}
}

// ParseStateFilter accepts any StateFilter name, case-insensitively. An empty
// string means all.
func ParseStateFilter(s string) (StateFilter, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StateAll, nil
	}
	for _, f := range StateFilters() {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown state filter %q", s)
}

// Matches reports whether t belongs to the filter.
func (f StateFilter) Matches(t *Torrent) bool {
	switch f {
	case StateAll, "":
		return true
	case StateDownloading:
		return t.IsStatusDownloading()
	case StateSeeding:
		return t.IsStatusSeeding()
	case StateCompleted:
		return t.IsStatusCompleted()
	case StatePaused:
		return t.IsStatusPaused()
	case StateStopped:
		return t.IsStatusStopped()
	case StateQueued:
		return t.IsStatusQueued()
	case StateError:
		return t.IsStatusError()
	}
	return false
}

// ExprEnv is the environment filter expressions are evaluated against.
type ExprEnv struct {
	Hash          string
	Name          string
	DecodedName   string
	CleanedName   string
	Label         string
	SavePath      string
	Status        string
	Size          int64
	Percent       int64
	Downloaded    int64
	Uploaded      int64
	Ratio         float64
	UploadSpeed   int64
	DownloadSpeed int64
	ETA           int64
	Seeds         int64
	Peers         int64
	Queue         int64
	AddedOn       int64
	CompletedOn   int64
	Age           time.Duration
	Release       Release
}

// Env builds the expression environment for t.
func (t *Torrent) Env() ExprEnv {
	env := ExprEnv{
		Hash:          t.Hash,
		Name:          t.Name,
		Label:         t.Label,
		SavePath:      t.SavePath,
		Status:        t.ManualStatusText(),
		Size:          t.Size,
		Percent:       t.Percent,
		Downloaded:    t.Downloaded,
		Uploaded:      t.Uploaded,
		Ratio:         float64(t.Ratio) / 1000,
		UploadSpeed:   t.UploadSpeed,
		DownloadSpeed: t.DownloadSpeed,
		AddedOn:       t.DateAdded,
		CompletedOn:   t.DateCompleted,
		Queue:         QueueNone,
		Release:       t.Release(),
	}
	if t.DecodedName != nil {
		env.DecodedName = *t.DecodedName
	}
	if t.CleanedName != nil {
		env.CleanedName = *t.CleanedName
	}
	if t.ETA != nil {
		env.ETA = *t.ETA
	}
	if t.SeedsConnected != nil {
		env.Seeds = *t.SeedsConnected
	}
	if t.PeersConnected != nil {
		env.Peers = *t.PeersConnected
	}
	if t.TorrentQueueOrder != nil {
		env.Queue = *t.TorrentQueueOrder
	}
	if t.DateAdded > 0 {
		env.Age = time.Since(time.Unix(t.DateAdded, 0))
	}
	return env
}

// ExprFilter compiles and caches boolean filter expressions such as
// `Size > 1e9 && Label == "movies"`.
type ExprFilter struct {
	cache *ttlcache.Cache[string, *vm.Program]
}

func NewExprFilter() *ExprFilter {
	return &ExprFilter{
		cache: ttlcache.New(ttlcache.Options[string, *vm.Program]{}.SetDefaultTTL(5 * time.Minute)),
	}
}

// Compile returns the program for expression, compiling it on a cache miss.
func (f *ExprFilter) Compile(expression string) (*vm.Program, error) {
	if p, ok := f.cache.Get(expression); ok {
		return p, nil
	}

	program, err := expr.Compile(expression, expr.Env(ExprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter expression: %w", err)
	}
	f.cache.Set(expression, program, ttlcache.DefaultTTL)

	return program, nil
}

// Match evaluates a compiled program against t.
func Match(program *vm.Program, t *Torrent) (bool, error) {
	out, err := expr.Run(program, t.Env())
	if err != nil {
		return false, err
	}
	matched, ok := out.(bool)
	return ok && matched, nil
}

func (f *ExprFilter) Close() {
	f.cache.Close()
}
