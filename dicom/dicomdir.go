package dicom

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/halogenix/dcmcore/dicom/element"
	"github.com/halogenix/dcmcore/dicom/tag"
	"github.com/halogenix/dcmcore/dicom/uid"
	"github.com/halogenix/dcmcore/dicom/value"
	"github.com/halogenix/dcmcore/dicom/vr"
)

// DirectoryRecordType is the value of a directory record's (0004,1430)
// Directory Record Type attribute, per PS3.3 Annex F.
type DirectoryRecordType string

const (
	RecordPatient DirectoryRecordType = "PATIENT"
	RecordStudy   DirectoryRecordType = "STUDY"
	RecordSeries  DirectoryRecordType = "SERIES"
	RecordImage   DirectoryRecordType = "IMAGE"
)

// mediaStorageDirectoryStorage is the SOP Class UID identifying a DICOMDIR
// media storage directory file.
const mediaStorageDirectoryStorage = "1.2.840.10008.1.3.10"

var (
	tagFileSetID           = tag.New(0x0004, 0x1130)
	tagFirstRootOffset     = tag.New(0x0004, 0x1200)
	tagLastRootOffset      = tag.New(0x0004, 0x1202)
	tagDirectoryRecordSeq  = tag.New(0x0004, 0x1220)
	tagNextRecordOffset    = tag.New(0x0004, 0x1400)
	tagRecordInUseFlag     = tag.New(0x0004, 0x1410)
	tagLowerLevelOffset    = tag.New(0x0004, 0x1420)
	tagDirectoryRecordType = tag.New(0x0004, 0x1430)
	tagReferencedFileID    = tag.New(0x0004, 0x1500)
	tagReferencedSOPClass  = tag.New(0x0004, 0x1510)
	tagReferencedSOPInst   = tag.New(0x0004, 0x1511)
	tagReferencedTS        = tag.New(0x0004, 0x1512)

	tagPatientName       = tag.New(0x0010, 0x0010)
	tagPatientID         = tag.New(0x0010, 0x0020)
	tagStudyDate         = tag.New(0x0008, 0x0020)
	tagStudyTime         = tag.New(0x0008, 0x0030)
	tagStudyID           = tag.New(0x0020, 0x0010)
	tagStudyInstanceUID  = tag.New(0x0020, 0x000D)
	tagAccessionNumber   = tag.New(0x0008, 0x0050)
	tagModality          = tag.New(0x0008, 0x0060)
	tagSeriesInstanceUID = tag.New(0x0020, 0x000E)
	tagSeriesNumber      = tag.New(0x0020, 0x0011)
	tagSOPClassUID       = tag.New(0x0008, 0x0016)
	tagSOPInstanceUID    = tag.New(0x0008, 0x0018)
	tagInstanceNumber    = tag.New(0x0020, 0x0013)
	tagTransferSyntaxUID = tag.New(0x0002, 0x0010)
)

// DirectoryRecord is one node of the PATIENT -> STUDY -> SERIES -> IMAGE
// directory record tree carried by a DICOMDIR's (0004,1220) Directory
// Record Sequence.
type DirectoryRecord struct {
	Type     DirectoryRecordType
	Item     *element.Item
	Children []*DirectoryRecord

	offset uint32 // filled in by BuildDICOMDIR/assignOffsets
}

// ReferencedFileIDs returns the ReferencedFileID path components of an IMAGE
// record, or nil for any other record type.
func (r *DirectoryRecord) ReferencedFileIDs() []string {
	elem, err := r.Item.Get(tagReferencedFileID)
	if err != nil {
		return nil
	}
	sv, ok := elem.Value().(*value.StringValue)
	if !ok {
		return nil
	}
	return sv.Strings()
}

// BuildDICOMDIR constructs a DICOMDIR dataset (File Meta Information plus a
// PATIENT/STUDY/SERIES/IMAGE directory record tree) describing every
// instance in collection. fileIDFor maps a dataset to the ReferencedFileID
// path components (relative to the file-set root) that a reader should open
// to retrieve that instance, e.g. []string{"DICOM", "IM0001"}.
func BuildDICOMDIR(collection *DataSetCollection, fileSetID string, fileIDFor func(*DataSet) ([]string, error)) (*DataSet, error) {
	root, err := buildPatientRecords(collection, fileIDFor)
	if err != nil {
		return nil, err
	}

	flat := flatten(root)
	if err := assignOffsets(flat); err != nil {
		return nil, fmt.Errorf("assign directory record offsets: %w", err)
	}

	items := make([]*element.Item, len(flat))
	for i, rec := range flat {
		items[i] = rec.Item
	}

	ds := NewDataSet()
	if err := addMediaStorageFileMeta(ds); err != nil {
		return nil, err
	}

	if err := addString(ds, tagFileSetID, vr.CodeString, fileSetID); err != nil {
		return nil, err
	}
	var firstOffset, lastOffset uint32
	if len(flat) > 0 {
		firstOffset = flat[0].offset
		lastOffset = root[len(root)-1].offset
	}
	if err := addUint32(ds, tagFirstRootOffset, firstOffset); err != nil {
		return nil, err
	}
	if err := addUint32(ds, tagLastRootOffset, lastOffset); err != nil {
		return nil, err
	}

	seqElem, err := element.NewElement(tagDirectoryRecordSeq, vr.SequenceOfItems, element.NewSequenceValue(items))
	if err != nil {
		return nil, fmt.Errorf("build directory record sequence: %w", err)
	}
	if err := ds.Add(seqElem); err != nil {
		return nil, err
	}

	return ds, nil
}

// ReadDICOMDIR reconstructs the directory record tree from a parsed
// DICOMDIR dataset.
func ReadDICOMDIR(ds *DataSet) ([]*DirectoryRecord, error) {
	elem, err := ds.Get(tagDirectoryRecordSeq)
	if err != nil {
		return nil, fmt.Errorf("dataset has no Directory Record Sequence: %w", err)
	}
	seq, ok := elem.Value().(*element.SequenceValue)
	if !ok {
		return nil, fmt.Errorf("(0004,1220) is not a sequence value")
	}

	byOffset := make(map[uint32]*DirectoryRecord, len(seq.Items()))
	records := make([]*DirectoryRecord, 0, len(seq.Items()))
	var runningOffset uint32
	for _, item := range seq.Items() {
		rec, err := newRecordFromItem(item)
		if err != nil {
			return nil, err
		}
		// The record's own on-disk offset is not stored in the item itself;
		// it is inferred the same way BuildDICOMDIR assigned it, by walking
		// items in sequence order and accumulating encoded length.
		byOffset[runningOffset] = rec
		records = append(records, rec)
		encoded, err := encodeItemElements(item, true, binary.LittleEndian)
		if err != nil {
			return nil, fmt.Errorf("re-measure directory record length: %w", err)
		}
		runningOffset += itemHeaderSize + uint32(len(encoded))
	}

	for _, rec := range records {
		lower, _ := getUint32(rec.Item, tagLowerLevelOffset)
		if lower == 0 {
			continue
		}
		child, ok := byOffset[lower]
		if !ok {
			continue
		}
		for {
			rec.Children = append(rec.Children, child)
			next, _ := getUint32(child.Item, tagNextRecordOffset)
			if next == 0 {
				break
			}
			sibling, ok := byOffset[next]
			if !ok {
				break
			}
			child = sibling
		}
	}

	// Roots are every PATIENT record; PATIENT records never appear as a
	// child in the loop above.
	claimed := make(map[*DirectoryRecord]bool)
	for _, rec := range records {
		for _, child := range rec.Children {
			claimed[child] = true
		}
	}
	var roots []*DirectoryRecord
	for _, rec := range records {
		if !claimed[rec] {
			roots = append(roots, rec)
		}
	}

	return roots, nil
}

const itemHeaderSize = 8 // (FFFE,E000) tag + 4-byte length

func buildPatientRecords(collection *DataSetCollection, fileIDFor func(*DataSet) ([]string, error)) ([]*DirectoryRecord, error) {
	byPatient := make(map[string][]*DataSet)
	var patientOrder []string
	for _, ds := range collection.DataSets() {
		patientID, _ := extractString(ds, tagPatientID)
		if _, ok := byPatient[patientID]; !ok {
			patientOrder = append(patientOrder, patientID)
		}
		byPatient[patientID] = append(byPatient[patientID], ds)
	}
	sort.Strings(patientOrder)

	var patients []*DirectoryRecord
	for _, patientID := range patientOrder {
		patientName, _ := extractString(byPatient[patientID][0], tagPatientName)

		item := element.NewItem()
		if err := addItemString(item, tagDirectoryRecordType, vr.CodeString, string(RecordPatient)); err != nil {
			return nil, err
		}
		if err := addRecordLinkageFields(item); err != nil {
			return nil, err
		}
		if err := addItemString(item, tagPatientName, vr.PersonName, patientName); err != nil {
			return nil, err
		}
		if err := addItemString(item, tagPatientID, vr.LongString, patientID); err != nil {
			return nil, err
		}

		studies, err := buildStudyRecords(byPatient[patientID], fileIDFor)
		if err != nil {
			return nil, err
		}

		patients = append(patients, &DirectoryRecord{Type: RecordPatient, Item: item, Children: studies})
	}
	return patients, nil
}

func buildStudyRecords(datasets []*DataSet, fileIDFor func(*DataSet) ([]string, error)) ([]*DirectoryRecord, error) {
	byStudy := make(map[string][]*DataSet)
	var order []string
	for _, ds := range datasets {
		studyUID, _ := extractString(ds, tagStudyInstanceUID)
		if _, ok := byStudy[studyUID]; !ok {
			order = append(order, studyUID)
		}
		byStudy[studyUID] = append(byStudy[studyUID], ds)
	}
	sort.Strings(order)

	var studies []*DirectoryRecord
	for _, studyUID := range order {
		first := byStudy[studyUID][0]
		studyDate, _ := extractString(first, tagStudyDate)
		studyTime, _ := extractString(first, tagStudyTime)
		studyID, _ := extractString(first, tagStudyID)
		accession, _ := extractString(first, tagAccessionNumber)

		item := element.NewItem()
		if err := addItemString(item, tagDirectoryRecordType, vr.CodeString, string(RecordStudy)); err != nil {
			return nil, err
		}
		if err := addRecordLinkageFields(item); err != nil {
			return nil, err
		}
		if err := addItemString(item, tagStudyDate, vr.Date, studyDate); err != nil {
			return nil, err
		}
		if err := addItemString(item, tagStudyTime, vr.Time, studyTime); err != nil {
			return nil, err
		}
		if err := addItemString(item, tagStudyID, vr.ShortString, studyID); err != nil {
			return nil, err
		}
		if err := addItemString(item, tagStudyInstanceUID, vr.UniqueIdentifier, studyUID); err != nil {
			return nil, err
		}
		if err := addItemString(item, tagAccessionNumber, vr.ShortString, accession); err != nil {
			return nil, err
		}

		series, err := buildSeriesRecords(byStudy[studyUID], fileIDFor)
		if err != nil {
			return nil, err
		}

		studies = append(studies, &DirectoryRecord{Type: RecordStudy, Item: item, Children: series})
	}
	return studies, nil
}

func buildSeriesRecords(datasets []*DataSet, fileIDFor func(*DataSet) ([]string, error)) ([]*DirectoryRecord, error) {
	bySeries := make(map[string][]*DataSet)
	var order []string
	for _, ds := range datasets {
		seriesUID, _ := extractString(ds, tagSeriesInstanceUID)
		if _, ok := bySeries[seriesUID]; !ok {
			order = append(order, seriesUID)
		}
		bySeries[seriesUID] = append(bySeries[seriesUID], ds)
	}
	sort.Strings(order)

	var series []*DirectoryRecord
	for _, seriesUID := range order {
		first := bySeries[seriesUID][0]
		modality, _ := extractString(first, tagModality)
		seriesNumber, _ := extractString(first, tagSeriesNumber)

		item := element.NewItem()
		if err := addItemString(item, tagDirectoryRecordType, vr.CodeString, string(RecordSeries)); err != nil {
			return nil, err
		}
		if err := addRecordLinkageFields(item); err != nil {
			return nil, err
		}
		if err := addItemString(item, tagModality, vr.CodeString, modality); err != nil {
			return nil, err
		}
		if err := addItemString(item, tagSeriesInstanceUID, vr.UniqueIdentifier, seriesUID); err != nil {
			return nil, err
		}
		if err := addItemString(item, tagSeriesNumber, vr.IntegerString, seriesNumber); err != nil {
			return nil, err
		}

		images, err := buildImageRecords(bySeries[seriesUID], fileIDFor)
		if err != nil {
			return nil, err
		}

		series = append(series, &DirectoryRecord{Type: RecordSeries, Item: item, Children: images})
	}
	return series, nil
}

func buildImageRecords(datasets []*DataSet, fileIDFor func(*DataSet) ([]string, error)) ([]*DirectoryRecord, error) {
	sorted := make([]*DataSet, len(datasets))
	copy(sorted, datasets)
	sort.Slice(sorted, func(i, j int) bool {
		uidI, _ := extractString(sorted[i], tagSOPInstanceUID)
		uidJ, _ := extractString(sorted[j], tagSOPInstanceUID)
		return uidI < uidJ
	})

	var images []*DirectoryRecord
	for _, ds := range sorted {
		sopClassUID, _ := extractString(ds, tagSOPClassUID)
		sopInstanceUID, _ := extractString(ds, tagSOPInstanceUID)
		instanceNumber, _ := extractString(ds, tagInstanceNumber)

		fileID, err := fileIDFor(ds)
		if err != nil {
			return nil, fmt.Errorf("resolve referenced file ID for %s: %w", sopInstanceUID, err)
		}

		item := element.NewItem()
		if err := addItemString(item, tagDirectoryRecordType, vr.CodeString, string(RecordImage)); err != nil {
			return nil, err
		}
		if err := addRecordLinkageFields(item); err != nil {
			return nil, err
		}
		fileIDValue, err := value.NewStringValue(vr.CodeString, fileID)
		if err != nil {
			return nil, err
		}
		fileIDElem, err := element.NewElement(tagReferencedFileID, vr.CodeString, fileIDValue)
		if err != nil {
			return nil, err
		}
		if err := item.Add(fileIDElem); err != nil {
			return nil, err
		}
		if err := addItemString(item, tagReferencedSOPClass, vr.UniqueIdentifier, sopClassUID); err != nil {
			return nil, err
		}
		if err := addItemString(item, tagReferencedSOPInst, vr.UniqueIdentifier, sopInstanceUID); err != nil {
			return nil, err
		}
		if err := addItemString(item, tagInstanceNumber, vr.IntegerString, instanceNumber); err != nil {
			return nil, err
		}

		images = append(images, &DirectoryRecord{Type: RecordImage, Item: item})
	}
	return images, nil
}

// addRecordLinkageFields adds the (0004,1400)/(0004,1410)/(0004,1420)
// placeholder fields every directory record carries; their real values are
// filled in by assignOffsets once the whole tree's layout is known.
func addRecordLinkageFields(item *element.Item) error {
	if err := addUint32ToItem(item, tagNextRecordOffset, 0); err != nil {
		return err
	}
	if err := addUint16ToItem(item, tagRecordInUseFlag, 0xFFFF); err != nil {
		return err
	}
	return addUint32ToItem(item, tagLowerLevelOffset, 0)
}

// flatten walks the tree depth-first (a record immediately followed by its
// first child, its child's siblings, then its own next sibling) which is
// the physical storage order assignOffsets computes linkage against.
func flatten(records []*DirectoryRecord) []*DirectoryRecord {
	var out []*DirectoryRecord
	var walk func([]*DirectoryRecord)
	walk = func(recs []*DirectoryRecord) {
		for _, r := range recs {
			out = append(out, r)
			walk(r.Children)
		}
	}
	walk(records)
	return out
}

// assignOffsets computes each record's byte offset (relative to the first
// byte of the Directory Record Sequence's value field) from its position in
// flat, then rewrites every record's (0004,1400) and (0004,1420) fields to
// point at its next sibling and first child respectively.
func assignOffsets(flat []*DirectoryRecord) error {
	var offset uint32
	for _, rec := range flat {
		rec.offset = offset
		encoded, err := encodeItemElements(rec.Item, true, binary.LittleEndian)
		if err != nil {
			return err
		}
		offset += itemHeaderSize + uint32(len(encoded))
	}

	bySiblingParent := make(map[*DirectoryRecord][]*DirectoryRecord)
	var collect func([]*DirectoryRecord, *DirectoryRecord)
	collect = func(recs []*DirectoryRecord, parent *DirectoryRecord) {
		bySiblingParent[parent] = recs
		for _, r := range recs {
			collect(r.Children, r)
		}
	}

	roots := rootsOf(flat)
	collect(roots, nil)

	for _, siblings := range bySiblingParent {
		for i, rec := range siblings {
			if i+1 < len(siblings) {
				if err := setUint32(rec.Item, tagNextRecordOffset, siblings[i+1].offset); err != nil {
					return err
				}
			}
			if len(rec.Children) > 0 {
				if err := setUint32(rec.Item, tagLowerLevelOffset, rec.Children[0].offset); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// rootsOf recovers the top-level record list from a flattened slice: a
// record is a root iff no other record in flat lists it as a child.
func rootsOf(flat []*DirectoryRecord) []*DirectoryRecord {
	claimed := make(map[*DirectoryRecord]bool)
	for _, rec := range flat {
		for _, child := range rec.Children {
			claimed[child] = true
		}
	}
	var roots []*DirectoryRecord
	for _, rec := range flat {
		if !claimed[rec] {
			roots = append(roots, rec)
		}
	}
	return roots
}

func newRecordFromItem(item *element.Item) (*DirectoryRecord, error) {
	elem, err := item.Get(tagDirectoryRecordType)
	if err != nil {
		return nil, fmt.Errorf("directory record missing (0004,1430): %w", err)
	}
	sv, ok := elem.Value().(*value.StringValue)
	if !ok || len(sv.Strings()) == 0 {
		return nil, fmt.Errorf("(0004,1430) has no value")
	}
	return &DirectoryRecord{Type: DirectoryRecordType(strings.TrimSpace(sv.Strings()[0])), Item: item}, nil
}

func addMediaStorageFileMeta(ds *DataSet) error {
	if err := addString(ds, tag.New(0x0002, 0x0002), vr.UniqueIdentifier, mediaStorageDirectoryStorage); err != nil {
		return err
	}
	if err := addString(ds, tag.New(0x0002, 0x0003), vr.UniqueIdentifier, uid.Generate()); err != nil {
		return err
	}
	return addString(ds, tagTransferSyntaxUID, vr.UniqueIdentifier, "1.2.840.10008.1.2.1")
}

func addString(ds *DataSet, t tag.Tag, v vr.VR, s string) error {
	val, err := value.NewStringValue(v, []string{s})
	if err != nil {
		return err
	}
	elem, err := element.NewElement(t, v, val)
	if err != nil {
		return err
	}
	return ds.Add(elem)
}

func addItemString(item *element.Item, t tag.Tag, v vr.VR, s string) error {
	val, err := value.NewStringValue(v, []string{s})
	if err != nil {
		return err
	}
	elem, err := element.NewElement(t, v, val)
	if err != nil {
		return err
	}
	return item.Add(elem)
}

func addUint32(ds *DataSet, t tag.Tag, n uint32) error {
	val, err := value.NewIntValue(vr.UnsignedLong, []int64{int64(n)})
	if err != nil {
		return err
	}
	elem, err := element.NewElement(t, vr.UnsignedLong, val)
	if err != nil {
		return err
	}
	return ds.Add(elem)
}

func addUint32ToItem(item *element.Item, t tag.Tag, n uint32) error {
	val, err := value.NewIntValue(vr.UnsignedLong, []int64{int64(n)})
	if err != nil {
		return err
	}
	elem, err := element.NewElement(t, vr.UnsignedLong, val)
	if err != nil {
		return err
	}
	return item.Add(elem)
}

func addUint16ToItem(item *element.Item, t tag.Tag, n uint16) error {
	val, err := value.NewIntValue(vr.UnsignedShort, []int64{int64(n)})
	if err != nil {
		return err
	}
	elem, err := element.NewElement(t, vr.UnsignedShort, val)
	if err != nil {
		return err
	}
	return item.Add(elem)
}

func setUint32(item *element.Item, t tag.Tag, n uint32) error {
	val, err := value.NewIntValue(vr.UnsignedLong, []int64{int64(n)})
	if err != nil {
		return err
	}
	elem, err := item.Get(t)
	if err != nil {
		return err
	}
	return elem.SetValue(val)
}

func getUint32(item *element.Item, t tag.Tag) (uint32, bool) {
	elem, err := item.Get(t)
	if err != nil {
		return 0, false
	}
	iv, ok := elem.Value().(*value.IntValue)
	if !ok || len(iv.Ints()) == 0 {
		return 0, false
	}
	return uint32(iv.Ints()[0]), true
}

func extractString(ds *DataSet, t tag.Tag) (string, error) {
	elem, err := ds.Get(t)
	if err != nil {
		return "", err
	}
	sv, ok := elem.Value().(*value.StringValue)
	if !ok || len(sv.Strings()) == 0 {
		return "", fmt.Errorf("tag %s has no string value", t)
	}
	return sv.Strings()[0], nil
}
