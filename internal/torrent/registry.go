// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"slices"
	"sync"
)

// ApplyResult counts what a snapshot did to a registry.
type ApplyResult struct {
	Added   int
	Updated int
	Removed int
}

// Registry keeps one record per torrent of a single backend. A record is
// created when a hash is first seen, merged in place on every later snapshot
// and dropped once the backend stops reporting it.
type Registry struct {
	mu     sync.RWMutex
	byHash map[string]*Torrent
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byHash: make(map[string]*Torrent)}
}

// Apply merges a full backend snapshot.
func (r *Registry) Apply(snapshot []Fields) ApplyResult {
	var res ApplyResult
	seen := make(map[string]struct{}, len(snapshot))

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range snapshot {
		if f.Hash == "" {
			continue
		}
		seen[f.Hash] = struct{}{}

		fresh := New(f)
		if existing, ok := r.byHash[f.Hash]; ok {
			existing.Update(fresh.Patch())
			res.Updated++
			continue
		}

		r.byHash[f.Hash] = fresh
		r.order = append(r.order, f.Hash)
		res.Added++
	}

	if len(seen) != len(r.byHash) {
		r.order = slices.DeleteFunc(r.order, func(hash string) bool {
			if _, ok := seen[hash]; ok {
				return false
			}
			delete(r.byHash, hash)
			res.Removed++
			return true
		})
	}

	return res
}

// Merge applies a partial update to a single known record.
func (r *Registry) Merge(hash string, u Update) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byHash[hash]
	if !ok {
		return false
	}
	t.Update(u)
	return true
}

// Get returns a copy of the record for hash.
func (r *Registry) Get(hash string) (Torrent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byHash[hash]
	if !ok {
		return Torrent{}, false
	}
	return t.Clone(), true
}

// List returns copies of all records in first-seen order.
func (r *Registry) List() []Torrent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Torrent, 0, len(r.order))
	for _, hash := range r.order {
		out = append(out, r.byHash[hash].Clone())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHash)
}

// SetSelected toggles the UI selection flag of a record.
func (r *Registry) SetSelected(hash string, selected bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byHash[hash]
	if ok {
		t.Selected = selected
	}
	return ok
}

// SetStarred toggles the UI star flag of a record.
func (r *Registry) SetStarred(hash string, starred bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byHash[hash]
	if ok {
		t.IsStarred = starred
	}
	return ok
}

// Reset drops every record.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHash = make(map[string]*Torrent)
	r.order = nil
}
