package poke

import (
	"encoding/json"
	"fmt"
)

// Assembler accumulates the frames of one in-flight pokeID into a single
// atomic Patch. Frames sharing a pokeID are atomic: the coordinator must
// see either the whole assembled patch or none of it.
type Assembler struct {
	pokeID   string
	baseCookie json.RawMessage
	patch    Patch
	started  bool
}

func NewAssembler() *Assembler { return &Assembler{} }

// Feed consumes one frame. It returns the assembled Patch and true once an
// End frame completes a poke; otherwise it returns false and the caller
// should keep feeding frames.
func (a *Assembler) Feed(f Frame) (Patch, bool, error) {
	switch f.Kind {
	case KindStart:
		a.pokeID = f.PokeID
		a.baseCookie = f.BaseCookie
		a.patch = Patch{BaseCookie: f.BaseCookie, LastMutationIDChanges: map[string]uint64{}}
		a.started = true
		return Patch{}, false, nil

	case KindPart:
		if !a.started || f.PokeID != a.pokeID {
			return Patch{}, false, fmt.Errorf("poke: part for pokeID %q received without a matching start", f.PokeID)
		}
		for clientID, mid := range f.LastMutationIDChanges {
			a.patch.LastMutationIDChanges[clientID] = mid
		}
		a.patch.RowsPatch = append(a.patch.RowsPatch, f.RowsPatch...)
		a.patch.MutationsPatch = append(a.patch.MutationsPatch, f.MutationsPatch...)
		return Patch{}, false, nil

	case KindEnd:
		if !a.started || f.PokeID != a.pokeID {
			return Patch{}, false, fmt.Errorf("poke: end for pokeID %q received without a matching start", f.PokeID)
		}
		a.patch.Cookie = f.Cookie
		result := a.patch
		a.started = false
		a.patch = Patch{}
		return result, true, nil

	default:
		return Patch{}, false, fmt.Errorf("poke: unknown frame kind %d", f.Kind)
	}
}
