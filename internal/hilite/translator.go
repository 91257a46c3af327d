package hilite

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rawblock/entropy-scorer/internal/metrics"
)

// Linked Selection Translator
//
// Keeps two independently selectable endpoints in agreement. A selection
// arriving from one side is recorded, translated through the cluster
// index and handed to the listeners of the other side.
//
// Feedback loops are cut twice:
//   - while a propagation is in flight every inbound event is dropped, so a
//     listener that re-emits "selection changed" synchronously is ignored;
//   - an inbound event whose content equals the selection last sent to that
//     side is an echo and is dropped too, which covers listeners that echo
//     asynchronously (e.g. a browser over the WebSocket stream).
// Either way a selection travels exactly one hop.

// Side names one of the two linked endpoints.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return fmt.Sprintf("side(%d)", int(s))
}

// Opposite returns the other endpoint.
func (s Side) Opposite() Side {
	if s == Left {
		return Right
	}
	return Left
}

// ParseSide accepts "left" or "right".
func ParseSide(s string) (Side, error) {
	switch s {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	}
	return Left, fmt.Errorf("unknown side %q", s)
}

// Universe says what the keys shown by an endpoint identify.
type Universe int

const (
	// Entities endpoints show raw rows keyed by entity id.
	Entities Universe = iota
	// Clusters endpoints show one key per reference cluster label.
	Clusters
)

func (u Universe) String() string {
	if u == Clusters {
		return "clusters"
	}
	return "entities"
}

// ParseUniverse accepts "entities" or "clusters".
func ParseUniverse(s string) (Universe, error) {
	switch s {
	case "entities":
		return Entities, nil
	case "clusters":
		return Clusters, nil
	}
	return Entities, fmt.Errorf("unknown selection universe %q", s)
}

// Event is a selection command delivered to the listeners of Target.
type Event struct {
	Origin Side
	Target Side
	Keys   []string
	Seq    uint64
}

// Listener receives translated selections.
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

// Translator relays selections between the Left and Right endpoints.
// It is safe for concurrent use.
type Translator struct {
	mu        sync.Mutex
	index     *metrics.ClusterIndex
	universe  [2]Universe
	selected  [2][]string
	inFlight  bool
	seq       uint64
	listeners [2][]listenerEntry
	nextID    int
}

// NewTranslator creates a translator whose endpoints show the given
// universes. With no index every translation is the identity.
func NewTranslator(left, right Universe) *Translator {
	return &Translator{universe: [2]Universe{left, right}}
}

// SetIndex installs the correspondence rule for a new run and clears any
// recorded selection on both sides; nothing from the previous run survives.
func (t *Translator) SetIndex(idx *metrics.ClusterIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.index = idx
	t.selected = [2][]string{}
}

// AddListener registers fn for selections delivered to side. The returned
// func removes it again.
func (t *Translator) AddListener(side Side, fn Listener) (remove func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.listeners[side] = append(t.listeners[side], listenerEntry{id: id, fn: fn})
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		entries := t.listeners[side]
		for i, e := range entries {
			if e.id == id {
				t.listeners[side] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// RemoveAllListeners drops every listener of side.
func (t *Translator) RemoveAllListeners(side Side) {
	t.mu.Lock()
	t.listeners[side] = nil
	t.mu.Unlock()
}

// Selection returns the keys currently recorded for side.
func (t *Translator) Selection(side Side) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.selected[side]...)
}

// PropagateFromLeft handles a selection change on the left endpoint.
func (t *Translator) PropagateFromLeft(keys []string) bool {
	return t.Propagate(Left, keys)
}

// PropagateFromRight handles a selection change on the right endpoint.
func (t *Translator) PropagateFromRight(keys []string) bool {
	return t.Propagate(Right, keys)
}

// Propagate records keys as the selection of origin and forwards the
// translated selection to the opposite side. It returns false when the
// event was dropped as re-entrant or as an echo.
func (t *Translator) Propagate(origin Side, keys []string) bool {
	keys = normalize(keys)
	target := origin.Opposite()

	t.mu.Lock()
	if t.inFlight || equal(keys, t.selected[origin]) {
		t.mu.Unlock()
		return false
	}
	t.inFlight = true
	t.selected[origin] = keys
	translated := t.translate(origin, keys)
	t.selected[target] = translated
	t.seq++
	ev := Event{Origin: origin, Target: target, Keys: translated, Seq: t.seq}
	listeners := make([]Listener, 0, len(t.listeners[target]))
	for _, e := range t.listeners[target] {
		listeners = append(listeners, e.fn)
	}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inFlight = false
		t.mu.Unlock()
	}()

	// every listener gets its own keys; t.selected must stay untouched
	for _, fn := range listeners {
		own := ev
		own.Keys = append([]string(nil), ev.Keys...)
		fn(own)
	}
	return true
}

// translate maps keys shown on origin to keys shown on the opposite side.
// Caller holds t.mu.
func (t *Translator) translate(origin Side, keys []string) []string {
	from, to := t.universe[origin], t.universe[origin.Opposite()]
	if from == to || t.index == nil {
		return keys
	}

	var out []string
	switch {
	case from == Clusters && to == Entities:
		for _, k := range keys {
			for _, id := range t.index.Entities(metrics.Label(k)) {
				out = append(out, string(id))
			}
		}
	case from == Entities && to == Clusters:
		// A cluster is selected as soon as any of its entities is.
		for _, k := range keys {
			if l, ok := t.index.LabelOf(metrics.EntityID(k)); ok {
				out = append(out, string(l))
			}
		}
	}
	return normalize(out)
}

// normalize sorts and deduplicates keys. An empty selection is nil.
func normalize(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	out := append([]string(nil), keys...)
	sort.Strings(out)
	j := 0
	for i := range out {
		if i == 0 || out[i] != out[j-1] {
			out[j] = out[i]
			j++
		}
	}
	return out[:j]
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
