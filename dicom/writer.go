package dicom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/halogenix/dcmcore/dicom/element"
	"github.com/halogenix/dcmcore/dicom/tag"
	"github.com/halogenix/dcmcore/dicom/uid"
	"github.com/halogenix/dcmcore/dicom/value"
	"github.com/halogenix/dcmcore/dicom/vr"
)

// WriteOptions configures DICOM file writing behavior.
type WriteOptions struct {
	// TransferSyntax specifies the transfer syntax for encoding the dataset.
	// If nil, uses Explicit VR Little Endian (1.2.840.10008.1.2.1)
	TransferSyntax *uid.UID

	// Overwrite allows overwriting existing files.
	// Default: false (error if file exists)
	Overwrite bool

	// CreateDirs creates parent directories if they don't exist.
	// Default: true
	CreateDirs bool

	// Atomic uses atomic write (temp file + rename) to prevent corruption on failure.
	// Default: true
	Atomic bool

	// ValidateAfterWrite re-parses the file after writing to verify integrity.
	// Default: false (for performance)
	ValidateAfterWrite bool
}

// WriteFile writes a DataSet to a DICOM file with proper Part 10 format.
//
// The function automatically generates required File Meta Information if not present:
//   - (0002,0001) File Meta Information Version
//   - (0002,0002) Media Storage SOP Class UID (from dataset 0008,0016)
//   - (0002,0003) Media Storage SOP Instance UID (from dataset 0008,0018)
//   - (0002,0010) Transfer Syntax UID
//   - (0002,0012) Implementation Class UID
//   - (0002,0013) Implementation Version Name
//
// The file structure follows DICOM Part 10:
//  1. 128-byte preamble (zeros)
//  2. "DICM" prefix
//  3. File Meta Information (Group 0002) - Explicit VR Little Endian
//  4. Dataset elements - encoded with specified transfer syntax
//
// Example:
//
//	err := dicom.WriteFile("/path/output.dcm", dataset)
//	if err != nil {
//	    log.Fatal(err)
//	}
func WriteFile(path string, ds *DataSet) error {
	return WriteFileWithOptions(path, ds, WriteOptions{})
}

// WriteFileWithOptions writes a DataSet to a DICOM file with configurable options.
//
// Example:
//
//	opts := dicom.WriteOptions{
//	    TransferSyntax: &uid.ExplicitVRLittleEndian,
//	    Overwrite: true,
//	    CreateDirs: true,
//	    Atomic: true,
//	}
//	err := dicom.WriteFileWithOptions("/path/output.dcm", dataset, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
func WriteFileWithOptions(path string, ds *DataSet, opts WriteOptions) error {
	if ds == nil {
		return fmt.Errorf("cannot write nil dataset")
	}

	// Apply default options
	opts = applyDefaultWriteOptions(opts)

	// Validate required elements
	if err := validateRequiredElements(ds); err != nil {
		return err
	}

	// Create parent directories if needed
	if opts.CreateDirs {
		parentDir := filepath.Dir(path)
		if err := os.MkdirAll(parentDir, 0o755); err != nil {
			return fmt.Errorf("failed to create parent directories: %w", err)
		}
	}

	// Check if file exists and handle overwrite
	if !opts.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s (use Overwrite: true to replace)", path)
		}
	}

	// Write the file
	if opts.Atomic {
		return writeFileAtomic(path, ds, opts)
	}
	return writeFileDirect(path, ds, opts)
}

// applyDefaultWriteOptions fills in missing options with sensible defaults.
func applyDefaultWriteOptions(opts WriteOptions) WriteOptions {
	if opts.TransferSyntax == nil {
		// Default to Explicit VR Little Endian
		explicitVRLE := uid.ExplicitVRLittleEndian
		opts.TransferSyntax = &explicitVRLE
	}

	// Note: CreateDirs and Atomic default behavior is handled at the call site
	// since we can't distinguish explicit false from zero value with bool types.
	// For directory operations, CreateDirs should be true.
	// For atomic writes, Atomic should be true when not explicitly set.

	return opts
}

// validateRequiredElements checks that the dataset has required UIDs for writing.
func validateRequiredElements(ds *DataSet) error {
	// SOPClassUID (0008,0016) is required
	sopClassUIDElem, err := ds.Get(tag.New(0x0008, 0x0016))
	if err != nil {
		return fmt.Errorf("missing required element SOPClassUID (0008,0016): %w", err)
	}
	sopClassUID := extractUIDString(sopClassUIDElem)
	if sopClassUID == "" {
		return fmt.Errorf("SOPClassUID (0008,0016) is empty")
	}

	// SOPInstanceUID (0008,0018) is required
	sopInstanceUIDElem, err := ds.Get(tag.New(0x0008, 0x0018))
	if err != nil {
		return fmt.Errorf("missing required element SOPInstanceUID (0008,0018): %w", err)
	}
	sopInstanceUID := extractUIDString(sopInstanceUIDElem)
	if sopInstanceUID == "" {
		return fmt.Errorf("SOPInstanceUID (0008,0018) is empty")
	}

	// Validate UID format (basic check)
	if !isValidUID(sopClassUID) {
		return fmt.Errorf("invalid SOPClassUID format: %s", sopClassUID)
	}
	if !isValidUID(sopInstanceUID) {
		return fmt.Errorf("invalid SOPInstanceUID format: %s", sopInstanceUID)
	}

	return nil
}

// extractUIDString extracts a UID string from an element value.
// Handles both string values (VR=UI) and bytes values (VR=UN/OB with ASCII text).
func extractUIDString(elem *element.Element) string {
	val := elem.Value()

	// Handle BytesValue - decode bytes to string
	if bytesVal, ok := val.(*value.BytesValue); ok {
		// UID is stored as bytes, decode to string
		data := bytesVal.Bytes()
		// Trim null padding and spaces
		uid := strings.TrimRight(string(data), "\x00 ")
		return strings.TrimSpace(uid)
	}

	// Handle normal string values
	return strings.TrimSpace(val.String())
}

// isValidUID performs basic UID validation.
// UIDs must contain only digits, dots, and be reasonable length.
func isValidUID(uidStr string) bool {
	if uidStr == "" || len(uidStr) > 64 {
		return false
	}

	// Basic validation: should contain digits and dots
	for _, ch := range uidStr {
		if ch != '.' && (ch < '0' || ch > '9') {
			return false
		}
	}

	// Should not start or end with dot
	if uidStr[0] == '.' || uidStr[len(uidStr)-1] == '.' {
		return false
	}

	return true
}

// writeFileAtomic writes the file atomically using temp file + rename pattern.
func writeFileAtomic(path string, ds *DataSet, opts WriteOptions) error {
	// Create temp file in same directory (for atomic rename)
	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, ".dicom-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	// Ensure temp file is cleaned up on error
	defer func() {
		//nolint:errcheck // Best-effort cleanup of temp file
		// If temp file still exists (write failed), remove it
		os.Remove(tempPath)
	}()

	// Write to temp file
	if err := writeDICOMFile(tempFile, ds, opts); err != nil {
		//nolint:errcheck // Error path cleanup, primary error already captured
		tempFile.Close()
		return fmt.Errorf("failed to write DICOM data: %w", err)
	}

	// Sync to disk
	if err := tempFile.Sync(); err != nil {
		//nolint:errcheck // Error path cleanup, primary error already captured
		tempFile.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}

	// Close temp file before rename
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	// Validate after write if requested
	if opts.ValidateAfterWrite {
		if _, err := ParseFile(path); err != nil {
			return fmt.Errorf("validation failed after write: %w", err)
		}
	}

	return nil
}

// writeFileDirect writes the file directly without atomic guarantees.
func writeFileDirect(path string, ds *DataSet, opts WriteOptions) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close file: %w", closeErr)
		}
	}()

	if err := writeDICOMFile(file, ds, opts); err != nil {
		return fmt.Errorf("failed to write DICOM data: %w", err)
	}

	// Validate after write if requested
	if opts.ValidateAfterWrite {
		if _, err := ParseFile(path); err != nil {
			return fmt.Errorf("validation failed after write: %w", err)
		}
	}

	return nil
}

// writeDICOMFile writes the complete DICOM Part 10 file structure to a writer.
func writeDICOMFile(w io.Writer, ds *DataSet, opts WriteOptions) error {
	// 1. Write 128-byte preamble (null bytes)
	preamble := make([]byte, 128)
	if _, err := w.Write(preamble); err != nil {
		return fmt.Errorf("failed to write preamble: %w", err)
	}

	// 2. Write "DICM" prefix
	if _, err := w.Write([]byte("DICM")); err != nil {
		return fmt.Errorf("failed to write DICM prefix: %w", err)
	}

	// 3. Generate and write File Meta Information
	fileMetaInfo, err := generateFileMetaInformation(ds, opts.TransferSyntax)
	if err != nil {
		return fmt.Errorf("failed to generate file meta information: %w", err)
	}

	if err := writeFileMetaInformation(w, fileMetaInfo); err != nil {
		return fmt.Errorf("failed to write file meta information: %w", err)
	}

	// 4. Write dataset elements
	if err := writeDataSetElements(w, ds, opts.TransferSyntax); err != nil {
		return fmt.Errorf("failed to write dataset elements: %w", err)
	}

	return nil
}

// generateFileMetaInformation creates the File Meta Information group (0002).
func generateFileMetaInformation(ds *DataSet, transferSyntax *uid.UID) (*DataSet, error) {
	metaInfo := NewDataSet()

	// (0002,0001) File Meta Information Version - required, value is always [00\01]
	versionValue, err := value.NewBytesValue(vr.OtherByte, []byte{0x00, 0x01})
	if err != nil {
		return nil, fmt.Errorf("failed to create version value: %w", err)
	}
	versionElem, err := element.NewElement(tag.New(0x0002, 0x0001), vr.OtherByte, versionValue)
	if err != nil {
		return nil, fmt.Errorf("failed to create version element: %w", err)
	}
	if err := metaInfo.Add(versionElem); err != nil {
		return nil, fmt.Errorf("failed to add version element: %w", err)
	}

	// (0002,0002) Media Storage SOP Class UID - from dataset (0008,0016)
	sopClassUIDElem, err := ds.Get(tag.New(0x0008, 0x0016))
	if err != nil {
		return nil, fmt.Errorf("missing SOPClassUID: %w", err)
	}
	sopClassUID := sopClassUIDElem.Value().String()
	sopClassValue, err := value.NewStringValue(vr.UniqueIdentifier, []string{sopClassUID})
	if err != nil {
		return nil, fmt.Errorf("failed to create sop class value: %w", err)
	}
	mediaSOPClassElem, err := element.NewElement(tag.New(0x0002, 0x0002), vr.UniqueIdentifier, sopClassValue)
	if err != nil {
		return nil, fmt.Errorf("failed to create media sop class element: %w", err)
	}
	if err := metaInfo.Add(mediaSOPClassElem); err != nil {
		return nil, fmt.Errorf("failed to add media sop class element: %w", err)
	}

	// (0002,0003) Media Storage SOP Instance UID - from dataset (0008,0018)
	sopInstanceUIDElem, err := ds.Get(tag.New(0x0008, 0x0018))
	if err != nil {
		return nil, fmt.Errorf("missing SOPInstanceUID: %w", err)
	}
	sopInstanceUID := sopInstanceUIDElem.Value().String()
	sopInstanceValue, err := value.NewStringValue(vr.UniqueIdentifier, []string{sopInstanceUID})
	if err != nil {
		return nil, fmt.Errorf("failed to create sop instance value: %w", err)
	}
	mediaSOPInstanceElem, err := element.NewElement(tag.New(0x0002, 0x0003), vr.UniqueIdentifier, sopInstanceValue)
	if err != nil {
		return nil, fmt.Errorf("failed to create media sop instance element: %w", err)
	}
	if err := metaInfo.Add(mediaSOPInstanceElem); err != nil {
		return nil, fmt.Errorf("failed to add media sop instance element: %w", err)
	}

	// (0002,0010) Transfer Syntax UID
	transferSyntaxStr := transferSyntax.String()
	transferSyntaxValue, err := value.NewStringValue(vr.UniqueIdentifier, []string{transferSyntaxStr})
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer syntax value: %w", err)
	}
	transferSyntaxElem, err := element.NewElement(tag.New(0x0002, 0x0010), vr.UniqueIdentifier, transferSyntaxValue)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer syntax element: %w", err)
	}
	if err := metaInfo.Add(transferSyntaxElem); err != nil {
		return nil, fmt.Errorf("failed to add transfer syntax element: %w", err)
	}

	// (0002,0012) Implementation Class UID
	implClassUID := "1.2.826.0.1.3680043.10.1451" // implementation UID
	implClassValue, err := value.NewStringValue(vr.UniqueIdentifier, []string{implClassUID})
	if err != nil {
		return nil, fmt.Errorf("failed to create impl class value: %w", err)
	}
	implClassElem, err := element.NewElement(tag.New(0x0002, 0x0012), vr.UniqueIdentifier, implClassValue)
	if err != nil {
		return nil, fmt.Errorf("failed to create impl class element: %w", err)
	}
	if err := metaInfo.Add(implClassElem); err != nil {
		return nil, fmt.Errorf("failed to add impl class element: %w", err)
	}

	// (0002,0013) Implementation Version Name
	implVersionName := "DCMCORE_1_0"
	implVersionValue, err := value.NewStringValue(vr.ShortString, []string{implVersionName})
	if err != nil {
		return nil, fmt.Errorf("failed to create impl version value: %w", err)
	}
	implVersionElem, err := element.NewElement(tag.New(0x0002, 0x0013), vr.ShortString, implVersionValue)
	if err != nil {
		return nil, fmt.Errorf("failed to create impl version element: %w", err)
	}
	if err := metaInfo.Add(implVersionElem); err != nil {
		return nil, fmt.Errorf("failed to add impl version element: %w", err)
	}

	return metaInfo, nil
}

// writeFileMetaInformation writes the File Meta Information group to a writer.
// File Meta Information is always written in Explicit VR Little Endian.
func writeFileMetaInformation(w io.Writer, metaInfo *DataSet) error {
	// File Meta Information is always Explicit VR Little Endian
	// We need to write each element in the proper format

	// Get all elements from metaInfo and sort by tag
	elements := metaInfo.Elements()

	for _, elem := range elements {
		if err := writeElement(w, elem, true, binary.LittleEndian); err != nil {
			return fmt.Errorf("failed to write meta info element %s: %w", elem.Tag(), err)
		}
	}

	return nil
}

// writeDataSetElements writes all dataset elements to a writer.
func writeDataSetElements(w io.Writer, ds *DataSet, transferSyntax *uid.UID) error {
	// Determine if we should use explicit VR based on transfer syntax
	useExplicitVR := isExplicitVRTransferSyntax(transferSyntax)
	byteOrder := transferSyntaxByteOrder(transferSyntax)

	// Get all elements and write them
	elements := ds.Elements()

	for _, elem := range elements {
		// Skip File Meta Information group (0002) in dataset
		if elem.Tag().Group == 0x0002 {
			continue
		}

		if err := writeElement(w, elem, useExplicitVR, byteOrder); err != nil {
			return fmt.Errorf("failed to write element %s: %w", elem.Tag(), err)
		}
	}

	return nil
}

// isExplicitVRTransferSyntax determines if a transfer syntax uses explicit VR.
func isExplicitVRTransferSyntax(ts *uid.UID) bool {
	if ts == nil {
		return true // Default to explicit
	}

	tsStr := ts.String()

	// Implicit VR Little Endian
	if tsStr == "1.2.840.10008.1.2" {
		return false
	}

	// Most other transfer syntaxes use Explicit VR
	return true
}

// transferSyntaxByteOrder returns the byte order a transfer syntax encodes
// its dataset in. Only Explicit VR Big Endian (retired, but still readable)
// differs from the little-endian default.
func transferSyntaxByteOrder(ts *uid.UID) binary.ByteOrder {
	if ts != nil && ts.String() == "1.2.840.10008.1.2.2" {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// encodeItemElements encodes every element of an item in tag order,
// returning the concatenated bytes ready to be wrapped in an Item header.
func encodeItemElements(item *element.Item, explicitVR bool, byteOrder binary.ByteOrder) ([]byte, error) {
	var buf bytes.Buffer
	for _, elem := range item.Elements() {
		if err := writeElement(&buf, elem, explicitVR, byteOrder); err != nil {
			return nil, fmt.Errorf("failed to encode item element %s: %w", elem.Tag(), err)
		}
	}
	return buf.Bytes(), nil
}

// encodeSequenceItems encodes a sequence's items as a run of Item
// (FFFE,E000) + length + content, each item using a defined length.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.5
func encodeSequenceItems(items []*element.Item, explicitVR bool, byteOrder binary.ByteOrder) ([]byte, error) {
	var buf bytes.Buffer
	for _, item := range items {
		content, err := encodeItemElements(item, explicitVR, byteOrder)
		if err != nil {
			return nil, err
		}
		// Item (FFFE,E000) and its length are tag/length fields, always
		// encoded in the dataset's byte order, same as any other element.
		binary.Write(&buf, byteOrder, uint16(0xFFFE))
		binary.Write(&buf, byteOrder, uint16(0xE000))
		binary.Write(&buf, byteOrder, uint32(len(content)))
		buf.Write(content)
	}
	return buf.Bytes(), nil
}

// writeElement writes a single DICOM element to a writer, encoding tag,
// length and value according to byteOrder (little-endian for every
// transfer syntax except the retired Explicit VR Big Endian).
func writeElement(w io.Writer, elem *element.Element, explicitVR bool, byteOrder binary.ByteOrder) error {
	t := elem.Tag()
	v := elem.VR()
	val := elem.Value()

	// Write tag (group, element)
	if err := binary.Write(w, byteOrder, t.Group); err != nil {
		return fmt.Errorf("failed to write tag group: %w", err)
	}
	if err := binary.Write(w, byteOrder, t.Element); err != nil {
		return fmt.Errorf("failed to write tag element: %w", err)
	}

	// Get value bytes. Sequences and encapsulated pixel data don't have a
	// flat Value.Bytes() encoding, so they're handled separately.
	var valueBytes []byte
	forceUndefinedLength := false

	switch concrete := val.(type) {
	case *element.SequenceValue:
		encoded, err := encodeSequenceItems(concrete.Items(), explicitVR, byteOrder)
		if err != nil {
			return fmt.Errorf("failed to encode sequence %s: %w", t, err)
		}
		valueBytes = encoded
	case *value.EncapsulatedPixelDataValue:
		// Already the full wire encoding: Item-framed fragments plus the
		// trailing Sequence Delimitation Item. Encapsulated pixel data is
		// only ever seen under little-endian transfer syntaxes.
		valueBytes = concrete.Bytes()
		forceUndefinedLength = true
	case *value.IntValue:
		valueBytes = concrete.BytesWithOrder(byteOrder)
	case *value.FloatValue:
		valueBytes = concrete.BytesWithOrder(byteOrder)
	default:
		valueBytes = val.Bytes()
	}

	valueLength := uint32(len(valueBytes))
	if forceUndefinedLength {
		valueLength = 0xFFFFFFFF
	}

	if explicitVR {
		// Write VR (2 bytes)
		vrBytes := []byte(v.String())
		if len(vrBytes) != 2 {
			return fmt.Errorf("invalid VR length: %s", v.String())
		}
		if _, err := w.Write(vrBytes); err != nil {
			return fmt.Errorf("failed to write VR: %w", err)
		}

		// Check if VR needs 4-byte length (OB, OD, OF, OL, OW, SQ, UC, UN, UR, UT)
		needsLongLength := v == vr.OtherByte || v == vr.OtherDouble || v == vr.OtherFloat || v == vr.OtherLong ||
			v == vr.OtherWord || v == vr.SequenceOfItems || v == vr.UnlimitedCharacters || v == vr.Unknown ||
			v == vr.UniversalResourceIdentifier || v == vr.UnlimitedText

		if needsLongLength {
			// Write 2 reserved bytes (0x0000)
			if err := binary.Write(w, byteOrder, uint16(0)); err != nil {
				return fmt.Errorf("failed to write reserved bytes: %w", err)
			}
			// Write 4-byte length
			if err := binary.Write(w, byteOrder, valueLength); err != nil {
				return fmt.Errorf("failed to write value length: %w", err)
			}
		} else {
			// Write 2-byte length
			if valueLength > 0xFFFF {
				return fmt.Errorf("value length %d exceeds 2-byte limit for VR %s", valueLength, v.String())
			}
			if err := binary.Write(w, byteOrder, uint16(valueLength)); err != nil {
				return fmt.Errorf("failed to write value length: %w", err)
			}
		}
	} else {
		// Implicit VR: just write 4-byte length
		if err := binary.Write(w, binary.LittleEndian, valueLength); err != nil {
			return fmt.Errorf("failed to write value length: %w", err)
		}
	}

	// Write value bytes
	if len(valueBytes) > 0 {
		if _, err := w.Write(valueBytes); err != nil {
			return fmt.Errorf("failed to write value bytes: %w", err)
		}
	}

	return nil
}
