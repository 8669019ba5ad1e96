// Package charset decodes DICOM text values according to the Specific
// Character Set (0008,0005) attribute, per DICOM PS3.5 Annex D.6.2.
//
// Only the VRs explicitly affected by Specific Character Set (LO, LT, PN,
// SH, ST, UC, UT) need translation; every other VR is either binary or
// restricted to the default (ISO-IR 6 / ASCII) repertoire.
package charset

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// component identifies which of a Person Name's three component groups
// (alphabetic, ideographic, phonetic) a decoder applies to. Per PS3.5
// Annex D.6.2 only PN actually uses more than the alphabetic slot; every
// other affected VR always decodes through Alphabetic.
type component int

const (
	Alphabetic component = iota
	Ideographic
	Phonetic
)

// htmlEncodingNames maps DICOM Defined Terms for (0008,0005) to the name
// golang.org/x/text/encoding/htmlindex expects. An empty string means the
// default repertoire (7-bit ASCII / ISO-IR 6), which needs no decoder.
var htmlEncodingNames = map[string]string{
	"":                "",
	"ISO_IR 6":        "",
	"ISO 2022 IR 6":   "",
	"ISO_IR 13":       "shift_jis",
	"ISO 2022 IR 13":  "shift_jis",
	"ISO_IR 100":      "iso-8859-1",
	"ISO 2022 IR 100": "iso-8859-1",
	"ISO_IR 101":      "iso-8859-2",
	"ISO 2022 IR 101": "iso-8859-2",
	"ISO_IR 109":      "iso-8859-3",
	"ISO 2022 IR 109": "iso-8859-3",
	"ISO_IR 110":      "iso-8859-4",
	"ISO 2022 IR 110": "iso-8859-4",
	"ISO_IR 126":      "iso-ir-126",
	"ISO 2022 IR 126": "iso-ir-126",
	"ISO_IR 127":      "iso-ir-127",
	"ISO 2022 IR 127": "iso-ir-127",
	"ISO_IR 138":      "iso-ir-138",
	"ISO 2022 IR 138": "iso-ir-138",
	"ISO_IR 144":      "iso-ir-144",
	"ISO 2022 IR 144": "iso-ir-144",
	"ISO_IR 148":      "iso-ir-148",
	"ISO 2022 IR 148": "iso-ir-148",
	"ISO 2022 IR 149": "euc-kr",
	"ISO_IR 149":      "euc-kr",
	"ISO 2022 IR 159": "iso-2022-jp",
	"ISO_IR 166":      "iso-ir-166",
	"ISO 2022 IR 166": "iso-ir-166",
	"ISO 2022 IR 87":  "iso-2022-jp",
	"ISO_IR 192":      "utf-8",
	"GB18030":         "gb18030",
	"GBK":             "gbk",
}

// Decoder translates the raw bytes of a charset-affected element value into
// a UTF-8 string. A code-extension Specific Character Set (one with more
// than one value, or a single ISO 2022 value) assigns up to three decoders
// by component group; every other case uses the same decoder for all three.
type Decoder struct {
	alphabetic  *encoding.Decoder
	ideographic *encoding.Decoder
	phonetic    *encoding.Decoder
}

// Default is the no-op decoder for the default repertoire (ISO-IR 6).
var Default = &Decoder{}

// NewDecoder builds a Decoder from the raw values of a (0008,0005) Specific
// Character Set element. An empty slice returns Default.
func NewDecoder(definedTerms []string) (*Decoder, error) {
	var decoders []*encoding.Decoder
	for _, name := range definedTerms {
		name = strings.TrimSpace(name)
		htmlName, known := htmlEncodingNames[name]
		if !known {
			return nil, fmt.Errorf("charset: unrecognized Specific Character Set term %q", name)
		}
		if htmlName == "" {
			decoders = append(decoders, nil)
			continue
		}
		enc, err := htmlindex.Get(htmlName)
		if err != nil {
			return nil, fmt.Errorf("charset: %q (%s): %w", name, htmlName, err)
		}
		decoders = append(decoders, enc.NewDecoder())
	}

	switch len(decoders) {
	case 0:
		return Default, nil
	case 1:
		return &Decoder{alphabetic: decoders[0], ideographic: decoders[0], phonetic: decoders[0]}, nil
	case 2:
		return &Decoder{alphabetic: decoders[0], ideographic: decoders[1], phonetic: decoders[1]}, nil
	default:
		return &Decoder{alphabetic: decoders[0], ideographic: decoders[1], phonetic: decoders[2]}, nil
	}
}

func (d *Decoder) decoderFor(c component) *encoding.Decoder {
	if d == nil {
		return nil
	}
	switch c {
	case Ideographic:
		return d.ideographic
	case Phonetic:
		return d.phonetic
	default:
		return d.alphabetic
	}
}

// Decode translates raw into a UTF-8 string using the Alphabetic component
// group, the decoder used by every affected VR except PN.
func (d *Decoder) Decode(raw []byte) (string, error) {
	return d.DecodeComponent(raw, Alphabetic)
}

// DecodeComponent translates raw using the decoder assigned to the given PN
// component group.
func (d *Decoder) DecodeComponent(raw []byte, c component) (string, error) {
	dec := d.decoderFor(c)
	if dec == nil {
		return string(raw), nil
	}
	out, err := dec.Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("charset: decode: %w", err)
	}
	return string(out), nil
}

// DecodePersonName translates a PN value's three "=" separated component
// groups (alphabetic=ideographic=phonetic) independently, since each may use
// a different member of a multi-valued Specific Character Set.
func (d *Decoder) DecodePersonName(raw []byte) (string, error) {
	groups := strings.Split(string(raw), "=")
	components := []component{Alphabetic, Ideographic, Phonetic}
	decoded := make([]string, len(groups))
	for i, g := range groups {
		c := Alphabetic
		if i < len(components) {
			c = components[i]
		}
		s, err := d.DecodeComponent([]byte(g), c)
		if err != nil {
			return "", err
		}
		decoded[i] = s
	}
	return strings.Join(decoded, "="), nil
}

// AffectsVR reports whether the given DICOM VR keyword is translated
// through Specific Character Set. AT/CS/DA/DS/DT/IS/TM/UI and all binary VRs
// are restricted to the default repertoire and are never translated.
func AffectsVR(vrKeyword string) bool {
	switch vrKeyword {
	case "LO", "LT", "PN", "SH", "ST", "UC", "UT":
		return true
	default:
		return false
	}
}
