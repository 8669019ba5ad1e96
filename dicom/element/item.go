package element

import (
	"fmt"
	"sort"
	"strings"

	"github.com/halogenix/dcmcore/dicom/tag"
)

// Item is an ordered, tag-indexed collection of elements.
//
// It backs both nested sequence items (the datasets carried by SQ-valued
// elements) and the top-level dataset exposed by the root dicom package, so
// the two share one set of invariants: no duplicate tags, tag-order
// iteration, and recursive nesting for sequences of sequences.
type Item struct {
	elements map[tag.Tag]*Element
}

// NewItem creates an empty item.
func NewItem() *Item {
	return &Item{elements: make(map[tag.Tag]*Element)}
}

// Add inserts or replaces an element.
func (it *Item) Add(elem *Element) error {
	if elem == nil {
		return fmt.Errorf("cannot add nil element")
	}
	it.elements[elem.Tag()] = elem
	return nil
}

// Get retrieves an element by tag.
func (it *Item) Get(t tag.Tag) (*Element, error) {
	elem, ok := it.elements[t]
	if !ok {
		return nil, fmt.Errorf("element with tag %s not found", t)
	}
	return elem, nil
}

// Contains reports whether the tag is present.
func (it *Item) Contains(t tag.Tag) bool {
	_, ok := it.elements[t]
	return ok
}

// Remove deletes an element by tag.
func (it *Item) Remove(t tag.Tag) error {
	if !it.Contains(t) {
		return fmt.Errorf("element with tag %s not found", t)
	}
	delete(it.elements, t)
	return nil
}

// Len returns the number of elements.
func (it *Item) Len() int {
	return len(it.elements)
}

// Tags returns all tags in ascending order.
func (it *Item) Tags() []tag.Tag {
	if len(it.elements) == 0 {
		return []tag.Tag{}
	}
	tags := make([]tag.Tag, 0, len(it.elements))
	for t := range it.elements {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Compare(tags[j]) < 0 })
	return tags
}

// Elements returns all elements ordered by tag.
func (it *Item) Elements() []*Element {
	tags := it.Tags()
	elems := make([]*Element, len(tags))
	for i, t := range tags {
		elems[i] = it.elements[t]
	}
	return elems
}

// Copy returns a shallow copy: the map is duplicated, element pointers are shared
// since elements are treated as immutable after construction.
func (it *Item) Copy() *Item {
	cp := NewItem()
	for t, elem := range it.elements {
		cp.elements[t] = elem
	}
	return cp
}

// Merge overwrites this item's elements with other's.
func (it *Item) Merge(other *Item) error {
	if other == nil {
		return fmt.Errorf("cannot merge nil item")
	}
	for t, elem := range other.elements {
		it.elements[t] = elem
	}
	return nil
}

// Equal reports whether two items contain the same tags mapped to equal elements.
func (it *Item) Equal(other *Item) bool {
	if other == nil {
		return false
	}
	if len(it.elements) != len(other.elements) {
		return false
	}
	for t, elem := range it.elements {
		otherElem, ok := other.elements[t]
		if !ok || !elem.Equals(otherElem) {
			return false
		}
	}
	return true
}

// String renders the item's elements, one per line, without indentation.
func (it *Item) String() string {
	var sb strings.Builder
	for _, elem := range it.Elements() {
		sb.WriteString(elem.String())
		sb.WriteString("\n")
	}
	return sb.String()
}
