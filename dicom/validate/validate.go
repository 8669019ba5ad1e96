// Package validate checks a DICOM dataset against a configurable conformance
// level before it is written, sent, or accepted by an SCP.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.1
package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/halogenix/dcmcore/dicom"
	"github.com/halogenix/dcmcore/dicom/tag"
	"github.com/halogenix/dcmcore/dicom/uid"
	"github.com/halogenix/dcmcore/dicom/value"
)

// Level selects how thoroughly a dataset is checked.
type Level int

const (
	// LevelMinimal checks only the identifiers required to address an
	// instance (SOP Class/Instance UID).
	LevelMinimal Level = iota
	// LevelStandard additionally requires the core patient/study/series
	// identification attributes.
	LevelStandard
	// LevelStrict additionally requires pixel-data-bearing instances to
	// carry a complete, self-consistent Image Pixel module.
	LevelStrict
)

func (l Level) String() string {
	switch l {
	case LevelMinimal:
		return "minimal"
	case LevelStandard:
		return "standard"
	case LevelStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// Options configures a validation run. The struct itself is checked with
// go-playground/validator before the run starts, so a misconfigured caller
// fails fast instead of producing a confusing empty report.
type Options struct {
	// Level is the conformance level to check against.
	Level Level `validate:"gte=0,lte=2"`

	// AllowedTransferSyntaxes, when non-empty, restricts the dataset's File
	// Meta transfer syntax UID to this allow-list.
	AllowedTransferSyntaxes []string `validate:"omitempty,dive,required"`

	// AdditionalRequiredTags are checked for presence on top of whatever
	// Level already requires.
	AdditionalRequiredTags []tag.Tag

	// TreatWarningsAsErrors promotes every Warning issue produced by the run
	// into an Error, so HasErrors() reports true if either list is non-empty.
	TreatWarningsAsErrors bool `validate:"omitempty"`
}

var structValidator = validator.New()

// Severity classifies an Issue.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Issue describes a single conformance failure.
type Issue struct {
	Tag      tag.Tag
	Message  string
	Severity Severity
}

func (i Issue) String() string {
	if i.Tag == (tag.Tag{}) {
		return fmt.Sprintf("%s: %s", i.Severity, i.Message)
	}
	return fmt.Sprintf("%s: %s %s", i.Severity, i.Tag, i.Message)
}

// Result is the outcome of a validation run.
type Result struct {
	Errors   []Issue
	Warnings []Issue
}

// HasErrors reports whether the dataset failed validation.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error implements the error interface so a Result can be returned directly
// where a failed validation should abort an operation (e.g. before C-STORE).
func (r *Result) Error() string {
	if !r.HasErrors() {
		return "no validation errors"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation error(s):\n", len(r.Errors)))
	for _, issue := range r.Errors {
		sb.WriteString("  ")
		sb.WriteString(issue.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

func (r *Result) addError(t tag.Tag, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Tag: t, Message: fmt.Sprintf(format, args...), Severity: SeverityError})
}

func (r *Result) addWarning(t tag.Tag, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Tag: t, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning})
}

// requiredTagsByLevel lists the attributes that must be present (and
// non-empty) for each conformance level, cumulative from LevelMinimal up.
var requiredTagsByLevel = map[Level][]tag.Tag{
	LevelMinimal: {
		tag.New(0x0008, 0x0016), // SOPClassUID
		tag.New(0x0008, 0x0018), // SOPInstanceUID
	},
	LevelStandard: {
		tag.New(0x0010, 0x0010), // PatientName
		tag.New(0x0010, 0x0020), // PatientID
		tag.New(0x0020, 0x000D), // StudyInstanceUID
		tag.New(0x0020, 0x000E), // SeriesInstanceUID
		tag.New(0x0008, 0x0060), // Modality
	},
}

var (
	tagRows            = tag.New(0x0028, 0x0010)
	tagColumns         = tag.New(0x0028, 0x0011)
	tagBitsAllocated   = tag.New(0x0028, 0x0100)
	tagSamplesPerPixel = tag.New(0x0028, 0x0002)
	tagPixelData       = tag.New(0x7FE0, 0x0010)
	tagPhotometric     = tag.New(0x0028, 0x0028)
	tagTransferSyntax  = tag.New(0x0002, 0x0010)
)

// Validate checks ds against opts and returns the collected issues. An error
// is returned only if opts itself is malformed; conformance failures are
// reported through the returned *Result, not through the error.
func Validate(ds *dicom.DataSet, opts Options) (*Result, error) {
	if err := structValidator.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid validation options: %w", err)
	}

	result := &Result{}

	checkRequiredTags(ds, opts, result)
	checkUIDConformance(ds, result)
	checkTransferSyntaxAllowList(ds, opts, result)

	if opts.Level == LevelStrict {
		checkPixelDataCompleteness(ds, result)
	}

	if opts.TreatWarningsAsErrors {
		for _, w := range result.Warnings {
			w.Severity = SeverityError
			result.Errors = append(result.Errors, w)
		}
		result.Warnings = nil
	}

	return result, nil
}

func checkRequiredTags(ds *dicom.DataSet, opts Options, result *Result) {
	seen := make(map[tag.Tag]bool)

	for level := LevelMinimal; level <= opts.Level; level++ {
		for _, t := range requiredTagsByLevel[level] {
			seen[t] = true
			requireTagPresent(ds, t, result)
		}
	}

	for _, t := range opts.AdditionalRequiredTags {
		if seen[t] {
			continue
		}
		requireTagPresent(ds, t, result)
	}
}

func requireTagPresent(ds *dicom.DataSet, t tag.Tag, result *Result) {
	elem, err := ds.Get(t)
	if err != nil {
		result.addError(t, "required attribute is missing")
		return
	}
	v := elem.Value()
	if v == nil || strings.TrimSpace(v.String()) == "" {
		result.addError(t, "required attribute is present but empty")
	}
}

// checkUIDConformance validates every element whose VR is UI against the
// UID grammar, regardless of conformance level: a malformed UID is never
// acceptable on the wire.
func checkUIDConformance(ds *dicom.DataSet, result *Result) {
	for _, elem := range ds.Elements() {
		sv, ok := elem.Value().(*value.StringValue)
		if !ok {
			continue
		}
		if elem.VR().String() != "UI" {
			continue
		}
		for _, s := range sv.Strings() {
			if s == "" {
				continue
			}
			if !uid.IsValid(s) {
				result.addError(elem.Tag(), "%q is not a conformant UID", s)
			}
		}
	}
}

func checkTransferSyntaxAllowList(ds *dicom.DataSet, opts Options, result *Result) {
	if len(opts.AllowedTransferSyntaxes) == 0 {
		return
	}

	meta := ds.FileMetaInformation()
	if meta == nil {
		return
	}
	elem, err := meta.Get(tagTransferSyntax)
	if err != nil {
		return
	}
	ts := strings.TrimRight(elem.Value().String(), "\x00")

	for _, allowed := range opts.AllowedTransferSyntaxes {
		if ts == allowed {
			return
		}
	}
	result.addError(tagTransferSyntax, "transfer syntax %q is not in the allowed list", ts)
}

// checkPixelDataCompleteness verifies that an instance carrying Pixel Data
// also carries the Image Pixel module attributes needed to decode it, and
// that an encapsulated (compressed) Pixel Data value actually parsed into at
// least one fragment.
func checkPixelDataCompleteness(ds *dicom.DataSet, result *Result) {
	pixelElem, err := ds.Get(tagPixelData)
	if err != nil {
		return // no pixel data, nothing to check
	}

	for _, t := range []tag.Tag{tagRows, tagColumns, tagBitsAllocated, tagSamplesPerPixel, tagPhotometric} {
		if !ds.Contains(t) {
			result.addError(t, "required Image Pixel module attribute is missing alongside PixelData")
		}
	}

	if enc, ok := pixelElem.Value().(*value.EncapsulatedPixelDataValue); ok {
		frags := enc.Fragments()
		if frags == nil || len(frags.Fragments) == 0 {
			result.addError(tagPixelData, "encapsulated pixel data carries no fragments")
		}
		return
	}

	bv, ok := pixelElem.Value().(*value.BytesValue)
	if ok && len(bv.Bytes()) == 0 {
		result.addWarning(tagPixelData, "pixel data element is present but empty")
	}
}
