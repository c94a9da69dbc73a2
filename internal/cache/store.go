package cache

import (
	"context"
	"fmt"
	"sort"
)

// Viewer is implemented by every *Slot[T].
type Viewer interface {
	Kind() Kind
	View(ctx context.Context) (View, bool)
}

// Store groups slots by kind for untyped reads.
type Store struct {
	slots map[Kind]Viewer
}

// NewStore registers slots by their kind; nil slots are skipped.
func NewStore(slots ...Viewer) *Store {
	s := &Store{slots: make(map[Kind]Viewer, len(slots))}
	for _, v := range slots {
		if v != nil {
			s.slots[v.Kind()] = v
		}
	}
	return s
}

// View returns the current view for kind. ok is false when kind was never written.
func (s *Store) View(ctx context.Context, kind Kind) (View, bool, error) {
	v, found := s.slots[kind]
	if !found {
		return View{}, false, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	view, ok := v.View(ctx)
	return view, ok, nil
}

// Kinds lists registered kinds in sorted order.
func (s *Store) Kinds() []Kind {
	out := make([]Kind, 0, len(s.slots))
	for k := range s.slots {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
