// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package dispatch

import (
	"sort"

	"github.com/tomtom215/prodsync/internal/models"
)

// item is one queued event with its backlog entry id.
type item struct {
	entryID string
	event   models.ChangeEvent
	seq     uint64
}

// project holds the pending work of one project: one lane per source,
// ordered by observed_at, and one FIFO lane for synthetic events.
type project struct {
	key    string
	lanes  map[models.Source][]item
	admin  []item
	active bool
	ready  bool
}

func newProject(key string) *project {
	return &project{key: key, lanes: make(map[models.Source][]item, 2)}
}

func (p *project) len() int {
	n := len(p.admin)
	for _, l := range p.lanes {
		n += len(l)
	}
	return n
}

// has reports whether a non-synthetic event at this position is queued.
func (p *project) has(s models.Source, observedAt int64) bool {
	lane := p.lanes[s]
	i := sort.Search(len(lane), func(i int) bool { return lane[i].event.ObservedAt >= observedAt })
	return i < len(lane) && lane[i].event.ObservedAt == observedAt
}

func (p *project) push(it item) {
	if it.event.Synthetic {
		p.admin = append(p.admin, it)
		return
	}
	s := it.event.Source
	lane := p.lanes[s]
	i := sort.Search(len(lane), func(i int) bool { return lane[i].event.ObservedAt > it.event.ObservedAt })
	lane = append(lane, item{})
	copy(lane[i+1:], lane[i:])
	lane[i] = it
	p.lanes[s] = lane
}

// pop removes the next event. Across lanes the head with the earliest
// occurred_at goes first; ties go to Remote, then Local, then synthetic.
func (p *project) pop() (item, bool) {
	type head struct {
		it   item
		take func()
	}
	var heads []head
	for _, s := range []models.Source{models.SourceRemote, models.SourceLocal} {
		if lane := p.lanes[s]; len(lane) > 0 {
			src := s
			heads = append(heads, head{it: lane[0], take: func() { p.lanes[src] = p.lanes[src][1:] }})
		}
	}
	if len(p.admin) > 0 {
		heads = append(heads, head{it: p.admin[0], take: func() { p.admin = p.admin[1:] }})
	}
	if len(heads) == 0 {
		return item{}, false
	}

	best := 0
	for i := 1; i < len(heads); i++ {
		if heads[i].it.event.OccurredAt.Before(heads[best].it.event.OccurredAt) {
			best = i
		}
	}
	heads[best].take()
	return heads[best].it, true
}

// counts returns pending events per lane name.
func (p *project) counts() map[string]int {
	out := make(map[string]int, 3)
	for s, l := range p.lanes {
		if len(l) > 0 {
			out[string(s)] = len(l)
		}
	}
	if len(p.admin) > 0 {
		out["admin"] = len(p.admin)
	}
	return out
}
