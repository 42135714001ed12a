package model

import (
	"github.com/google/uuid"

	"github.com/abworrall/skymodel/pkg/signal"
)

// Update flags say what part of a model changed.
type Update uint

const (
	UpdateSourceList Update = 1 << iota
	UpdateSourceContent
	UpdateTags
	UpdateGroupVis
	UpdateGroupStyle
	UpdateSelectionOnly

	UpdateAll = UpdateSourceList | UpdateSourceContent | UpdateTags | UpdateGroupVis | UpdateGroupStyle
)

// Signal names, as they appear in logs.
const (
	SigUpdated                  = "updated"
	SigSelected                 = "selected"
	SigChangeCurrentSource      = "changeCurrentSource"
	SigChangeGroupingVisibility = "changeGroupingVisibility"
	SigChangeGroupingStyle      = "changeGroupingStyle"
)

// Origin identifies an emitter; listeners never hear their own events.
type Origin string

func NewOrigin() Origin { return Origin(uuid.NewString()) }

type UpdateEvent struct {
	What   Update
	Origin Origin
}

// Deferrer runs fn on a later turn of an event loop.
type Deferrer interface {
	Defer(fn func())
}

// Queue is the default Deferrer: posted functions run when Process is
// called.
type Queue struct {
	fns []func()
}

func (q *Queue) Defer(fn func()) { q.fns = append(q.fns, fn) }

// Process runs everything queued so far, including anything queued while
// running, and returns how many ran.
func (q *Queue) Process() int {
	n := 0
	for len(q.fns) > 0 {
		fns := q.fns
		q.fns = nil
		for _, fn := range fns {
			fn()
			n++
		}
	}
	return n
}

// Bus routes change notifications for one SkyModel.
type Bus struct {
	updated    signal.Signal[UpdateEvent]
	selected   signal.Signal[int]
	current    signal.Signal[*Source]
	groupVis   signal.Signal[*Grouping]
	groupStyle signal.Signal[*Grouping]

	deferrer Deferrer
	queue    Queue

	serial        uint64
	pending       Update
	pendingOrigin Origin
}

func NewBus() *Bus {
	b := &Bus{}
	b.deferrer = &b.queue
	return b
}

// SetDeferrer hooks coalesced updates into an external event loop.
func (b *Bus) SetDeferrer(d Deferrer) { b.deferrer = d }

// ProcessEvents drains the built-in queue (when no external Deferrer is
// set).
func (b *Bus) ProcessEvents() int { return b.queue.Process() }

// ConnectUpdated registers fn for updates whose flags intersect mask. A
// listener is identified by its origin token; duplicates are ignored.
func (b *Bus) ConnectUpdated(listener Origin, mask Update, fn func(UpdateEvent)) bool {
	return b.updated.Connect(string(listener), func(ev UpdateEvent) {
		if ev.What&mask != 0 {
			fn(ev)
		}
	})
}

func (b *Bus) ConnectSelected(listener Origin, fn func(nsel int)) bool {
	return b.selected.Connect(string(listener), fn)
}

func (b *Bus) ConnectCurrentSource(listener Origin, fn func(*Source)) bool {
	return b.current.Connect(string(listener), fn)
}

func (b *Bus) ConnectGroupingVisibility(listener Origin, fn func(*Grouping)) bool {
	return b.groupVis.Connect(string(listener), fn)
}

func (b *Bus) ConnectGroupingStyle(listener Origin, fn func(*Grouping)) bool {
	return b.groupStyle.Connect(string(listener), fn)
}

// Disconnect removes every slot of listener.
func (b *Bus) Disconnect(listener Origin) {
	b.updated.Disconnect(string(listener))
	b.selected.Disconnect(string(listener))
	b.current.Disconnect(string(listener))
	b.groupVis.Disconnect(string(listener))
	b.groupStyle.Disconnect(string(listener))
}

// EmitUpdated delivers immediately.
func (b *Bus) EmitUpdated(what Update, origin Origin) {
	b.updated.EmitFrom(string(origin), UpdateEvent{what, origin})
}

// PostUpdate coalesces: all updates posted before the deferred delivery
// runs are merged into one event. When posters disagree on origin the
// merged event carries no origin, so everyone hears it.
func (b *Bus) PostUpdate(what Update, origin Origin) {
	if b.pending == 0 {
		b.pendingOrigin = origin
	} else if b.pendingOrigin != origin {
		b.pendingOrigin = ""
	}
	b.pending |= what
	b.serial++
	serial := b.serial
	b.deferrer.Defer(func() {
		if serial != b.serial {
			// a newer post will deliver
			return
		}
		what, origin := b.pending, b.pendingOrigin
		b.pending, b.pendingOrigin = 0, ""
		b.EmitUpdated(what, origin)
	})
}

func (b *Bus) emitSelected(nsel int, origin Origin) {
	b.selected.EmitFrom(string(origin), nsel)
}

func (b *Bus) emitCurrent(src *Source, origin Origin) {
	b.current.EmitFrom(string(origin), src)
}
