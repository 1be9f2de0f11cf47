// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package web

import (
	"sync"
	"time"

	"github.com/relabs-tech/testall/core/panel"
)

type visitor struct {
	panel    *panel.Panel
	lastSeen time.Time
}

// registry keeps one panel per visitor and evicts panels which have been idle too long
type registry struct {
	mutex    sync.Mutex
	visitors map[string]*visitor
	idle     time.Duration
	now      func() time.Time
	create   func() *panel.Panel
}

// get returns the panel of the visitor. created is true if the panel is new.
func (r *registry) get(id string) (p *panel.Panel, created bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	now := r.now()
	r.evict(now)
	v, ok := r.visitors[id]
	if !ok {
		v = &visitor{panel: r.create()}
		r.visitors[id] = v
		created = true
	}
	v.lastSeen = now
	return v.panel, created
}

func (r *registry) evict(now time.Time) {
	for id, v := range r.visitors {
		if now.Sub(v.lastSeen) > r.idle {
			delete(r.visitors, id)
		}
	}
}

func (r *registry) len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.visitors)
}
