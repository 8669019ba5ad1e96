// Package dicom provides DICOM file parsing and manipulation.
package dicom

import (
	"fmt"
	"math"
	"strings"

	"github.com/halogenix/dcmcore/dicom/charset"
	"github.com/halogenix/dcmcore/dicom/element"
	"github.com/halogenix/dcmcore/dicom/tag"
	"github.com/halogenix/dcmcore/dicom/value"
	"github.com/halogenix/dcmcore/dicom/vr"
)

// tagSpecificCharacterSet is (0008,0005), the attribute that selects the
// text decoder for every subsequent charset-affected element in the
// dataset.
var tagSpecificCharacterSet = tag.New(0x0008, 0x0005)

// Delimiter tags used by sequences, items, and encapsulated pixel data.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.5
const (
	itemTagValue            = uint32(0xFFFEE000) // Item
	itemDelimitationTag     = uint32(0xFFFEE00D) // Item Delimitation Item
	sequenceDelimitationTag = uint32(0xFFFEE0DD) // Sequence Delimitation Item
)

// ElementParser reads individual DICOM data elements from a binary stream.
//
// It handles both Explicit VR and Implicit VR encoding based on the Transfer Syntax.
// Element structure varies by VR:
//   - Explicit VR (most VRs): Tag(4) + VR(2) + Length(2) + Value(n)
//   - Explicit VR (OB/OW/SQ/etc): Tag(4) + VR(2) + Reserved(2) + Length(4) + Value(n)
//   - Implicit VR: Tag(4) + Length(4) + Value(n), VR looked up in dictionary
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.1.2
type ElementParser struct {
	reader *Reader
	ts     *TransferSyntax

	// charsetDecoder translates charset-affected text VRs per the most
	// recently read (0008,0005) Specific Character Set element. nil means
	// the default repertoire (ISO-IR 6 / ASCII), which needs no decoding.
	charsetDecoder *charset.Decoder
}

// NewElementParser creates a new element parser with the specified reader and transfer syntax.
func NewElementParser(reader *Reader, ts *TransferSyntax) *ElementParser {
	return &ElementParser{
		reader: reader,
		ts:     ts,
	}
}

// ReadElement reads the next data element from the stream.
//
// Returns an error if the element cannot be parsed or if the stream ends unexpectedly.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.1
func (p *ElementParser) ReadElement() (*element.Element, error) {
	// Read tag (4 bytes: group + element)
	t, err := p.readTag()
	if err != nil {
		return nil, fmt.Errorf("failed to read tag: %w", err)
	}

	return p.readElementBody(t)
}

// readElementBody reads the VR, length, and value of an element whose tag has
// already been consumed. Sequence item parsing needs to inspect a tag before
// deciding whether it starts a nested element or a delimiter, so it reads the
// tag itself and calls this directly instead of ReadElement.
func (p *ElementParser) readElementBody(t tag.Tag) (*element.Element, error) {
	// Read VR based on transfer syntax
	var v vr.VR
	var length uint32
	var err error

	if p.ts.ExplicitVR {
		// Explicit VR: VR is in the file
		v, err = p.readVRExplicit()
		if err != nil {
			return nil, fmt.Errorf("failed to read VR for tag %s: %w", t, err)
		}

		// Read length (2 or 4 bytes depending on VR)
		length, err = p.readLength(v)
		if err != nil {
			return nil, fmt.Errorf("failed to read length for tag %s: %w", t, err)
		}
	} else {
		// Implicit VR: VR must be looked up from tag dictionary
		v, err = p.readVRImplicit(t)
		if err != nil {
			return nil, fmt.Errorf("failed to look up VR for tag %s: %w", t, err)
		}

		// For Implicit VR, length is always 4 bytes
		length, err = p.reader.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("failed to read length for tag %s: %w", t, err)
		}
	}

	// Read value based on VR type
	val, err := p.readValue(t, v, length)
	if err != nil {
		return nil, fmt.Errorf("failed to read value for tag %s: %w", t, err)
	}

	// Create and return element
	elem, err := element.NewElement(t, v, val)
	if err != nil {
		return nil, fmt.Errorf("failed to create element for tag %s: %w", t, err)
	}

	return elem, nil
}

// readTag reads a DICOM tag (group and element).
func (p *ElementParser) readTag() (tag.Tag, error) {
	// Read group (2 bytes)
	group, err := p.reader.ReadUint16()
	if err != nil {
		return tag.Tag{}, fmt.Errorf("failed to read tag group: %w", err)
	}

	// Read element (2 bytes)
	elem, err := p.reader.ReadUint16()
	if err != nil {
		return tag.Tag{}, fmt.Errorf("failed to read tag element: %w", err)
	}

	return tag.New(group, elem), nil
}

// readVRExplicit reads a 2-byte VR in Explicit VR encoding.
func (p *ElementParser) readVRExplicit() (vr.VR, error) {
	// Read 2-byte VR string
	vrStr, err := p.reader.ReadString(2)
	if err != nil {
		return 0, fmt.Errorf("failed to read VR: %w", err)
	}

	// Parse VR string
	v, err := vr.Parse(vrStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVR, vrStr)
	}

	return v, nil
}

// readVRImplicit looks up the VR for a tag from the DICOM data dictionary.
// This is used for Implicit VR transfer syntaxes where VR is not encoded in the file.
//
// For tags with multiple possible VRs (e.g., PixelData can be "OB or OW"),
// this returns the first VR in the list as the default.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.1.2
func (p *ElementParser) readVRImplicit(t tag.Tag) (vr.VR, error) {
	// Look up tag in dictionary
	info, err := tag.Find(t)
	if err != nil {
		// Tag not in dictionary - use UN (Unknown) as fallback
		return vr.Unknown, nil
	}

	// Return first VR (for tags with multiple VRs like "OB or OW", use the first one)
	if len(info.VRs) == 0 {
		return vr.Unknown, nil
	}

	return info.VRs[0], nil
}

// readLength reads the value length field.
//
// Length encoding depends on VR:
//   - Most VRs: 2-byte uint16
//   - OB, OD, OF, OL, OV, OW, SQ, UC, UN, UR, UT: 2-byte reserved (0x0000) + 4-byte uint32
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.1.2
func (p *ElementParser) readLength(v vr.VR) (uint32, error) {
	// Check if this VR uses 32-bit length field
	if v.UsesExplicitLength32() {
		// Read 2-byte reserved field (must be 0x0000)
		reserved, err := p.reader.ReadUint16()
		if err != nil {
			return 0, fmt.Errorf("failed to read reserved field: %w", err)
		}
		if reserved != 0x0000 {
			// Not strictly an error per standard, but log for debugging
			// Standard says it "should" be 0x0000 but implementations may vary
		}

		// Read 4-byte length
		length, err := p.reader.ReadUint32()
		if err != nil {
			return 0, fmt.Errorf("failed to read 32-bit length: %w", err)
		}

		return length, nil
	}

	// Read 2-byte length for standard VRs
	length16, err := p.reader.ReadUint16()
	if err != nil {
		return 0, fmt.Errorf("failed to read 16-bit length: %w", err)
	}

	return uint32(length16), nil
}

// readValue reads and parses the value field based on VR type.
func (p *ElementParser) readValue(t tag.Tag, v vr.VR, length uint32) (value.Value, error) {
	// Handle empty values
	if length == 0 {
		return p.createEmptyValue(v)
	}

	// Handle undefined length (0xFFFFFFFF)
	if length == 0xFFFFFFFF {
		// Sequences with undefined length are delimited by a Sequence
		// Delimitation Item (FFFE,E0DD)
		if v == vr.SequenceOfItems {
			return p.readUndefinedLengthSequence(t)
		}

		// Handle encapsulated pixel data (OB/OW with undefined length)
		// This is used for compressed transfer syntaxes (JPEG, JPEG 2000, RLE, etc.)
		// Per DICOM Part 5, Section A.4: encapsulated data uses undefined length
		// with fragments: Item (FFFE,E000) + data, terminated by Sequence Delimitation (FFFE,E0DD)
		//
		// DICOM Standard Reference:
		// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_A.4
		if (v == vr.OtherByte || v == vr.OtherWord) && t.Group == 0x7FE0 && t.Element == 0x0010 {
			return p.readEncapsulatedPixelData(t, v)
		}

		return nil, fmt.Errorf("%w: undefined length for non-sequence VR %s", ErrUndefinedLength, v.String())
	}

	// Dispatch to VR-specific reader
	// Check sequences first, then float types before numeric types (floats are also numeric)
	switch {
	case v == vr.SequenceOfItems:
		return p.readDefinedLengthSequence(t, length)
	case v.IsStringType():
		return p.readStringValue(t, v, length)
	case v == vr.FloatingPointSingle || v == vr.FloatingPointDouble:
		return p.readFloatValue(v, length)
	case v.IsNumericType():
		return p.readIntValue(v, length)
	case v.IsBinaryType():
		return p.readBytesValue(v, length)
	default:
		// Unknown VR, read as bytes
		return p.readBytesValue(vr.Unknown, length)
	}
}

// createEmptyValue creates an empty value for the given VR.
func (p *ElementParser) createEmptyValue(v vr.VR) (value.Value, error) {
	switch {
	case v == vr.SequenceOfItems:
		return element.NewSequenceValue(nil), nil
	case v.IsStringType():
		return value.NewStringValue(v, []string{})
	case v.IsNumericType():
		return value.NewIntValue(v, []int64{})
	case v == vr.FloatingPointSingle || v == vr.FloatingPointDouble:
		return value.NewFloatValue(v, []float64{})
	case v.IsBinaryType():
		return value.NewBytesValue(v, []byte{})
	default:
		return value.NewBytesValue(vr.Unknown, []byte{})
	}
}

// readStringValue reads a string-based VR value.
//
// DICOM strings may contain multiple values separated by backslash (\).
// String values are space-padded for even length and may have trailing nulls for UI.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_6.2
func (p *ElementParser) readStringValue(t tag.Tag, v vr.VR, length uint32) (*value.StringValue, error) {
	// Read raw bytes
	data, err := p.reader.ReadBytes(int(length))
	if err != nil {
		return nil, fmt.Errorf("failed to read string data: %w", err)
	}

	// Trim trailing null and space padding before charset decoding: the
	// pad byte is always a single-byte 0x00/0x20 regardless of the element's
	// character set.
	raw := trimRightBytes(data, '\x00', ' ')

	str, err := p.decodeText(t, v, raw)
	if err != nil {
		return nil, err
	}

	// Split by backslash for multi-valued elements. Backslash is 0x5C in
	// every character set DICOM allows here, including the multi-byte ones,
	// so splitting after decoding is always safe.
	var values []string
	if str == "" {
		values = []string{}
	} else {
		values = strings.Split(str, "\\")
	}

	// Create string value
	val, err := value.NewStringValue(v, values)
	if err != nil {
		return nil, fmt.Errorf("failed to create string value: %w", err)
	}

	if t.Equals(tagSpecificCharacterSet) {
		decoder, decErr := charset.NewDecoder(values)
		if decErr != nil {
			return nil, fmt.Errorf("failed to configure charset decoder: %w", decErr)
		}
		p.charsetDecoder = decoder
	}

	return val, nil
}

// decodeText translates raw through the parser's current charset decoder
// when v is a VR that Specific Character Set affects; every other VR is
// restricted to the default repertoire and is returned unchanged.
func (p *ElementParser) decodeText(t tag.Tag, v vr.VR, raw []byte) (string, error) {
	if t.Equals(tagSpecificCharacterSet) || p.charsetDecoder == nil || !charset.AffectsVR(v.String()) {
		return string(raw), nil
	}
	if v == vr.PersonName {
		return p.charsetDecoder.DecodePersonName(raw)
	}
	return p.charsetDecoder.Decode(raw)
}

// trimRightBytes trims any of cutset's bytes from the right of data without
// the string round-trip strings.TrimRight would need before charset
// decoding has happened.
func trimRightBytes(data []byte, cutset ...byte) []byte {
	end := len(data)
	for end > 0 {
		trimmed := false
		for _, c := range cutset {
			if data[end-1] == c {
				trimmed = true
				break
			}
		}
		if !trimmed {
			break
		}
		end--
	}
	return data[:end]
}

// readIntValue reads an integer VR value.
//
// Handles: SS (int16), US (uint16), SL (int32), UL (uint32), SV (int64), UV (uint64), AT (tag)
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_6.2
func (p *ElementParser) readIntValue(v vr.VR, length uint32) (*value.IntValue, error) {
	var values []int64

	// Determine bytes per value
	var bytesPerValue int
	switch v {
	case vr.SignedShort, vr.UnsignedShort:
		bytesPerValue = 2
	case vr.SignedLong, vr.UnsignedLong, vr.AttributeTag:
		bytesPerValue = 4
	case vr.SignedVeryLong, vr.UnsignedVeryLong:
		bytesPerValue = 8
	default:
		return nil, fmt.Errorf("unsupported integer VR: %s", v.String())
	}

	// Calculate number of values
	numValues := int(length) / bytesPerValue
	if int(length)%bytesPerValue != 0 {
		return nil, fmt.Errorf("invalid length %d for VR %s (not multiple of %d)", length, v.String(), bytesPerValue)
	}

	// Read each value
	for i := 0; i < numValues; i++ {
		var val int64

		switch v {
		case vr.SignedShort:
			u16, err := p.reader.ReadUint16()
			if err != nil {
				return nil, err
			}
			val = int64(int16(u16))

		case vr.UnsignedShort:
			u16, err := p.reader.ReadUint16()
			if err != nil {
				return nil, err
			}
			val = int64(u16)

		case vr.SignedLong:
			u32, err := p.reader.ReadUint32()
			if err != nil {
				return nil, err
			}
			val = int64(int32(u32))

		case vr.UnsignedLong:
			u32, err := p.reader.ReadUint32()
			if err != nil {
				return nil, err
			}
			val = int64(u32)

		case vr.AttributeTag:
			u32, err := p.reader.ReadUint32()
			if err != nil {
				return nil, err
			}
			val = int64(u32)

		case vr.SignedVeryLong:
			data, err := p.reader.ReadBytes(8)
			if err != nil {
				return nil, err
			}
			val = int64(p.ts.ByteOrder.Uint64(data))

		case vr.UnsignedVeryLong:
			data, err := p.reader.ReadBytes(8)
			if err != nil {
				return nil, err
			}
			val = int64(p.ts.ByteOrder.Uint64(data))
		}

		values = append(values, val)
	}

	// Create int value
	intVal, err := value.NewIntValue(v, values)
	if err != nil {
		return nil, fmt.Errorf("failed to create int value: %w", err)
	}

	return intVal, nil
}

// readFloatValue reads a floating-point VR value.
//
// Handles: FL (float32), FD (float64)
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_6.2
func (p *ElementParser) readFloatValue(v vr.VR, length uint32) (*value.FloatValue, error) {
	var values []float64

	// Determine bytes per value
	var bytesPerValue int
	switch v {
	case vr.FloatingPointSingle:
		bytesPerValue = 4
	case vr.FloatingPointDouble:
		bytesPerValue = 8
	default:
		return nil, fmt.Errorf("unsupported float VR: %s", v.String())
	}

	// Calculate number of values
	numValues := int(length) / bytesPerValue
	if int(length)%bytesPerValue != 0 {
		return nil, fmt.Errorf("invalid length %d for VR %s (not multiple of %d)", length, v.String(), bytesPerValue)
	}

	// Read each value
	for i := 0; i < numValues; i++ {
		if v == vr.FloatingPointSingle {
			// Read float32
			data, err := p.reader.ReadBytes(4)
			if err != nil {
				return nil, err
			}
			bits := p.ts.ByteOrder.Uint32(data)
			f32 := math.Float32frombits(bits)
			values = append(values, float64(f32))
		} else {
			// Read float64
			data, err := p.reader.ReadBytes(8)
			if err != nil {
				return nil, err
			}
			bits := p.ts.ByteOrder.Uint64(data)
			f64 := math.Float64frombits(bits)
			values = append(values, f64)
		}
	}

	// Create float value
	floatVal, err := value.NewFloatValue(v, values)
	if err != nil {
		return nil, fmt.Errorf("failed to create float value: %w", err)
	}

	return floatVal, nil
}

// readBytesValue reads a binary VR value.
//
// Handles: OB, OD, OF, OL, OV, OW, UN
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_6.2
func (p *ElementParser) readBytesValue(v vr.VR, length uint32) (*value.BytesValue, error) {
	// Read raw bytes
	data, err := p.reader.ReadBytes(int(length))
	if err != nil {
		return nil, fmt.Errorf("failed to read binary data: %w", err)
	}

	// Create bytes value
	bytesVal, err := value.NewBytesValue(v, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create bytes value: %w", err)
	}

	return bytesVal, nil
}

// readItem reads a single Item (FFFE,E000) and its content, dispatching on
// whether the item itself uses defined or undefined length.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.5
func (p *ElementParser) readItem() (*element.Item, error) {
	t, err := p.readTag()
	if err != nil {
		return nil, fmt.Errorf("failed to read item tag: %w", err)
	}
	if t.Uint32() != itemTagValue {
		return nil, fmt.Errorf("expected Item tag (FFFE,E000), got %s", t)
	}

	length, err := p.reader.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read item length: %w", err)
	}

	return p.readItemContent(length)
}

// readItemContent parses the elements nested inside an item, given the
// item's declared length (0xFFFFFFFF for undefined length, terminated by an
// Item Delimitation Item).
func (p *ElementParser) readItemContent(length uint32) (*element.Item, error) {
	item := element.NewItem()

	if length == 0xFFFFFFFF {
		for {
			t, err := p.readTag()
			if err != nil {
				return nil, fmt.Errorf("unexpected EOF while reading item content: %w", err)
			}
			if t.Uint32() == itemDelimitationTag {
				if _, err := p.reader.ReadUint32(); err != nil {
					return nil, fmt.Errorf("failed to read item delimitation length: %w", err)
				}
				return item, nil
			}

			elem, err := p.readElementBody(t)
			if err != nil {
				return nil, fmt.Errorf("failed to read element %s in item: %w", t, err)
			}
			if err := item.Add(elem); err != nil {
				return nil, err
			}
		}
	}

	itemEnd := p.reader.Position() + int64(length)
	for p.reader.Position() < itemEnd {
		t, err := p.readTag()
		if err != nil {
			return nil, fmt.Errorf("failed to read tag in item: %w", err)
		}
		elem, err := p.readElementBody(t)
		if err != nil {
			return nil, fmt.Errorf("failed to read element %s in item: %w", t, err)
		}
		if err := item.Add(elem); err != nil {
			return nil, err
		}
	}

	return item, nil
}

// readDefinedLengthSequence parses a sequence whose total content length is
// known, reading Items until that many bytes have been consumed.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.5
func (p *ElementParser) readDefinedLengthSequence(sequenceTag tag.Tag, length uint32) (value.Value, error) {
	endPos := p.reader.Position() + int64(length)
	var items []*element.Item

	for p.reader.Position() < endPos {
		item, err := p.readItem()
		if err != nil {
			return nil, fmt.Errorf("failed to read item in sequence %s: %w", sequenceTag, err)
		}
		items = append(items, item)
	}

	return element.NewSequenceValue(items), nil
}

// readUndefinedLengthSequence parses a sequence terminated by a Sequence
// Delimitation Item (FFFE,E0DD), reading one Item at a time until the
// delimiter is reached.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.5
func (p *ElementParser) readUndefinedLengthSequence(sequenceTag tag.Tag) (value.Value, error) {
	var items []*element.Item

	for {
		t, err := p.readTag()
		if err != nil {
			return nil, fmt.Errorf("unexpected EOF while reading sequence %s: %w", sequenceTag, err)
		}

		tagValue := t.Uint32()
		if tagValue == sequenceDelimitationTag {
			if _, err := p.reader.ReadUint32(); err != nil {
				return nil, fmt.Errorf("failed to read sequence delimitation length: %w", err)
			}
			return element.NewSequenceValue(items), nil
		}

		if tagValue != itemTagValue {
			return nil, fmt.Errorf("unexpected tag %s in sequence %s (expected Item or Sequence Delimitation)", t, sequenceTag)
		}

		itemLength, err := p.reader.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("failed to read item length in sequence %s: %w", sequenceTag, err)
		}

		item, err := p.readItemContent(itemLength)
		if err != nil {
			return nil, fmt.Errorf("failed to read item in sequence %s: %w", sequenceTag, err)
		}
		items = append(items, item)
	}
}

// readEncapsulatedPixelData reads encapsulated pixel data with undefined length.
//
// Encapsulated pixel data is used for compressed transfer syntaxes (JPEG, JPEG 2000, RLE, etc.)
// and uses a structure similar to sequences:
//   - Basic Offset Table: Item (FFFE,E000) + length + data (may be empty)
//   - Pixel Data Fragments: One or more Item (FFFE,E000) + length + compressed data
//   - Sequence Delimitation Item (FFFE,E0DD) with length 0
//
// The wire bytes are kept verbatim (for lossless re-encoding) and handed to
// value.NewEncapsulatedPixelDataValue, which parses them into the fragment
// and basic-offset-table view the pixel package consumes.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_A.4
func (p *ElementParser) readEncapsulatedPixelData(pixelDataTag tag.Tag, pixelVR vr.VR) (value.Value, error) {
	// Buffer to collect all encapsulated data (including item tags and lengths)
	var encapsulatedData []byte

	for {
		// Read next tag
		t, err := p.readTag()
		if err != nil {
			return nil, fmt.Errorf("unexpected EOF while reading encapsulated pixel data %s: %w", pixelDataTag, err)
		}

		tagValue := t.Uint32()

		// Check for sequence delimitation (end of encapsulated data)
		if tagValue == sequenceDelimitationTag {
			// Read and discard length (should be 0)
			_, err = p.reader.ReadUint32()
			if err != nil {
				return nil, fmt.Errorf("failed to read sequence delimitation length: %w", err)
			}

			// Add sequence delimitation tag to encapsulated data
			encapsulatedData = append(encapsulatedData, 0xFE, 0xFF, 0xDD, 0xE0)
			encapsulatedData = append(encapsulatedData, 0x00, 0x00, 0x00, 0x00) // length = 0

			return value.NewEncapsulatedPixelDataValue(pixelVR, encapsulatedData)
		}

		// Should only encounter Item tags in encapsulated pixel data
		if tagValue != itemTagValue {
			return nil, fmt.Errorf("unexpected tag %s while reading encapsulated pixel data (expected Item or Sequence Delimitation)", t)
		}

		// Read item length (4 bytes)
		itemLength, err := p.reader.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("failed to read item length: %w", err)
		}

		// Add item tag to encapsulated data
		encapsulatedData = append(encapsulatedData, 0xFE, 0xFF, 0x00, 0xE0)

		// Add item length (little-endian uint32)
		encapsulatedData = append(encapsulatedData,
			byte(itemLength&0xFF),
			byte((itemLength>>8)&0xFF),
			byte((itemLength>>16)&0xFF),
			byte((itemLength>>24)&0xFF))

		// Read and append the item data
		if itemLength > 0 {
			itemData, err := p.reader.ReadBytes(int(itemLength))
			if err != nil {
				return nil, fmt.Errorf("failed to read item data (%d bytes): %w", itemLength, err)
			}
			encapsulatedData = append(encapsulatedData, itemData...)
		}
	}
}
