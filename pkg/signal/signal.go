// Package signal is a small typed observer list. Slots are identified by an
// owner token so duplicate registrations can be suppressed and so an
// emitter can skip its own slots.
package signal

type slot[T any] struct {
	owner string
	fn    func(T)
}

// Signal delivers values of type T to connected slots, in connection order.
// The zero value is ready to use. Not safe for concurrent use.
type Signal[T any] struct {
	slots []slot[T]
}

// Connect adds fn under owner. A second Connect with the same owner is
// ignored and returns false; use Reconnect to replace the slot.
func (s *Signal[T]) Connect(owner string, fn func(T)) bool {
	for _, sl := range s.slots {
		if sl.owner == owner {
			return false
		}
	}
	s.slots = append(s.slots, slot[T]{owner, fn})
	return true
}

// Reconnect replaces owner's slot, or adds it.
func (s *Signal[T]) Reconnect(owner string, fn func(T)) {
	for i, sl := range s.slots {
		if sl.owner == owner {
			s.slots[i].fn = fn
			return
		}
	}
	s.slots = append(s.slots, slot[T]{owner, fn})
}

func (s *Signal[T]) Disconnect(owner string) {
	for i, sl := range s.slots {
		if sl.owner == owner {
			s.slots = append(s.slots[:i], s.slots[i+1:]...)
			return
		}
	}
}

func (s *Signal[T]) Len() int { return len(s.slots) }

// Emit calls every slot.
func (s *Signal[T]) Emit(v T) { s.EmitFrom("", v) }

// EmitFrom calls every slot except the one owned by origin.
func (s *Signal[T]) EmitFrom(origin string, v T) {
	// Slots may connect or disconnect while we iterate.
	slots := append([]slot[T](nil), s.slots...)
	for _, sl := range slots {
		if origin != "" && sl.owner == origin {
			continue
		}
		sl.fn(v)
	}
}
