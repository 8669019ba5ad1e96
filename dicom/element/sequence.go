package element

import (
	"fmt"
	"strings"

	"github.com/halogenix/dcmcore/dicom/value"
	"github.com/halogenix/dcmcore/dicom/vr"
)

// SequenceValue holds the ordered list of nested Items carried by an
// SQ-valued element. It satisfies value.Value so a sequence element is an
// ordinary Element whose Value happens to recurse back into Items.
//
// SQ has no flat byte encoding of its own: a transfer-syntax-aware writer
// must walk Items() and re-run element encoding for each one. Bytes()
// returns nil for that reason; callers that need SQ on the wire go through
// the dataset codec, not through Value.Bytes().
type SequenceValue struct {
	items []*Item
}

// NewSequenceValue wraps items as a sequence value. A nil or empty slice
// represents a sequence with zero items, which is legal.
func NewSequenceValue(items []*Item) *SequenceValue {
	return &SequenceValue{items: items}
}

// VR always reports SQ.
func (s *SequenceValue) VR() vr.VR { return vr.SequenceOfItems }

// Items returns the nested datasets in encounter order.
func (s *SequenceValue) Items() []*Item { return s.items }

// Bytes is not defined for sequences; see the type doc comment.
func (s *SequenceValue) Bytes() []byte { return nil }

func (s *SequenceValue) String() string {
	if len(s.items) == 0 {
		return "(Sequence with 0 items)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "(Sequence with %d item(s))", len(s.items))
	return sb.String()
}

// Equals compares item-by-item; order matters, since it is significant on the wire.
func (s *SequenceValue) Equals(other value.Value) bool {
	o, ok := other.(*SequenceValue)
	if !ok {
		return false
	}
	if len(s.items) != len(o.items) {
		return false
	}
	for i, item := range s.items {
		if !item.Equal(o.items[i]) {
			return false
		}
	}
	return true
}
