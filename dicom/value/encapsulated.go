package value

import (
	"fmt"

	"github.com/halogenix/dcmcore/dicom/pixel/fragments"
	"github.com/halogenix/dcmcore/dicom/vr"
)

// EncapsulatedPixelDataValue represents compressed Pixel Data (7FE0,0010) carried
// in fragments, as used by every transfer syntax whose pixel encoding is not
// Native (JPEG, JPEG 2000, JPEG-LS, RLE Lossless, ...).
//
// It keeps both the exact wire bytes (Item headers included, for lossless
// round-tripping on re-encode) and the parsed fragment/offset-table view so
// callers can pull individual frames without re-parsing.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_A.4
type EncapsulatedPixelDataValue struct {
	vr     vr.VR
	raw    []byte
	parsed *fragments.EncapsulatedPixelData
}

// NewEncapsulatedPixelDataValue parses raw encapsulated pixel data (the
// concatenated Item-framed fragments, Sequence Delimitation Item included)
// into an EncapsulatedPixelDataValue. v must be OB or OW.
func NewEncapsulatedPixelDataValue(v vr.VR, raw []byte) (*EncapsulatedPixelDataValue, error) {
	if v != vr.OtherByte && v != vr.OtherWord {
		return nil, fmt.Errorf("VR %s cannot carry encapsulated pixel data", v.String())
	}

	parsed, err := fragments.ParseEncapsulatedPixelData(raw)
	if err != nil {
		return nil, fmt.Errorf("parse encapsulated pixel data: %w", err)
	}

	return &EncapsulatedPixelDataValue{vr: v, raw: raw, parsed: parsed}, nil
}

// VR returns OB or OW, matching the element's declared VR.
func (e *EncapsulatedPixelDataValue) VR() vr.VR { return e.vr }

// Fragments returns the parsed fragment and basic-offset-table view.
func (e *EncapsulatedPixelDataValue) Fragments() *fragments.EncapsulatedPixelData { return e.parsed }

// Bytes returns the original wire encoding, Item headers and Sequence
// Delimitation Item included, unchanged.
func (e *EncapsulatedPixelDataValue) Bytes() []byte { return e.raw }

// String summarizes frame and fragment counts rather than dumping pixel bytes.
func (e *EncapsulatedPixelDataValue) String() string {
	return fmt.Sprintf("(Encapsulated Pixel Data: %d frame(s), %d fragment(s))",
		e.parsed.NumFrames(), len(e.parsed.Fragments))
}

// Equals compares the raw wire bytes; two encapsulated values with identical
// bytes always parse to identical fragments.
func (e *EncapsulatedPixelDataValue) Equals(other Value) bool {
	o, ok := other.(*EncapsulatedPixelDataValue)
	if !ok {
		return false
	}
	if e.vr != o.vr || len(e.raw) != len(o.raw) {
		return false
	}
	for i := range e.raw {
		if e.raw[i] != o.raw[i] {
			return false
		}
	}
	return true
}

var _ Value = (*EncapsulatedPixelDataValue)(nil)
