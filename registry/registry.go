// Package registry implements Component H: the process-wide mapping from
// global id to live object (node, port, or link) plus the lifecycle
// broadcast every observer listens to (§3 Lifecycles, §6 Registry events).
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package registry

import (
	"sync"

	"github.com/553481221/pipewire/cmn/nlog"
	"github.com/553481221/pipewire/wire"
)

// Listener receives every event the registry broadcasts, in the order
// they occurred.
type Listener func(wire.RegistryEvent)

// object is what the registry tracks about one entry: its kind tag (for
// info_changed/removed fan-out) and a destroy-subscriber set that must be
// notified, and drained, before its memory is released (§3 Lifecycles:
// "removing subscriptions before the object's memory is released").
type object struct {
	id         string
	kind       string
	info       any
	onDestroy  []func()
	subscribed sync.Mutex
}

// Registry is Component H proper. One Registry per daemon, passed in
// explicitly to constructors rather than held as a process-wide singleton
// (§9 "Global state").
type Registry struct {
	mu        sync.RWMutex
	objects   map[string]*object
	listeners []Listener
}

func New() *Registry {
	return &Registry{objects: make(map[string]*object, 64)}
}

// Subscribe registers a listener that receives every future event. It
// returns nothing to unsubscribe with deliberately -- observers in this
// daemon live exactly as long as the registry itself (graph/ owns both).
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) broadcast(ev wire.RegistryEvent) {
	r.mu.RLock()
	ls := append([]Listener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, l := range ls {
		l(ev)
	}
}

// Add registers a new object under id and broadcasts "added" (§6).
func (r *Registry) Add(id, kind string, info any) {
	r.mu.Lock()
	r.objects[id] = &object{id: id, kind: kind, info: info}
	r.mu.Unlock()
	nlog.Infof("registry: added %s %s", kind, id)
	r.broadcast(wire.RegistryEvent{Kind: wire.EvAdded, ID: id, ObjectKind: kind, Info: info})
}

// InfoChanged updates an object's info and broadcasts "info_changed" with
// the given change mask (§6).
func (r *Registry) InfoChanged(id string, changeMask uint32, info any) {
	r.mu.Lock()
	obj, ok := r.objects[id]
	if ok {
		obj.info = info
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.broadcast(wire.RegistryEvent{Kind: wire.EvInfoChanged, ID: id, ObjectKind: obj.kind, ChangeMask: changeMask, Info: info})
}

// LinkStateChanged broadcasts "link_state_changed" (§6); wired directly as
// a link.StateChangeFunc by graph/.
func (r *Registry) LinkStateChanged(id, oldState, newState, errMsg string) {
	r.broadcast(wire.RegistryEvent{Kind: wire.EvLinkStateChanged, ID: id, ObjectKind: "link", OldState: oldState, NewState: newState, Error: errMsg})
}

// OnDestroy registers fn to run when id is removed, before its memory is
// considered released by the registry (§3 Lifecycles). Does nothing if id
// is not registered.
func (r *Registry) OnDestroy(id string, fn func()) {
	r.mu.RLock()
	obj, ok := r.objects[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	obj.subscribed.Lock()
	obj.onDestroy = append(obj.onDestroy, fn)
	obj.subscribed.Unlock()
}

// Remove runs id's destroy subscribers, deletes it from the map, and
// broadcasts "removed" (§6, §3 "destruction cascades through the
// registry, which emits a destroy signal every observer ... must respect").
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	obj, ok := r.objects[id]
	if ok {
		delete(r.objects, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	obj.subscribed.Lock()
	subs := obj.onDestroy
	obj.subscribed.Unlock()
	for _, fn := range subs {
		fn()
	}

	nlog.Infof("registry: removed %s %s", obj.kind, id)
	r.broadcast(wire.RegistryEvent{Kind: wire.EvRemoved, ID: id, ObjectKind: obj.kind})
}

// Find returns the info last recorded for id.
func (r *Registry) Find(id string) (info any, kind string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[id]
	if !ok {
		return nil, "", false
	}
	return obj.info, obj.kind, true
}

// ForEach calls fn for every live object of the given kind ("" for all
// kinds), in an unspecified order.
func (r *Registry) ForEach(kind string, fn func(id string, info any)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, obj := range r.objects {
		if kind == "" || obj.kind == kind {
			fn(id, obj.info)
		}
	}
}

// Count reports how many live objects of the given kind ("" for all
// kinds) are registered.
func (r *Registry) Count(kind string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if kind == "" {
		return len(r.objects)
	}
	n := 0
	for _, obj := range r.objects {
		if obj.kind == kind {
			n++
		}
	}
	return n
}
