package scp

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/halogenix/dcmcore/dicom"
	"github.com/halogenix/dcmcore/dicom/tag"
)

// InformationModel identifies which DICOM Query/Retrieve Information Model
// a C-FIND/C-GET/C-MOVE SOP Class UID belongs to, per PS3.4 Annex C.
type InformationModel int

const (
	ModelUnknown InformationModel = iota
	ModelPatientRoot
	ModelStudyRoot
	ModelPatientStudyOnly
)

func (m InformationModel) String() string {
	switch m {
	case ModelPatientRoot:
		return "Patient Root"
	case ModelStudyRoot:
		return "Study Root"
	case ModelPatientStudyOnly:
		return "Patient/Study Only"
	default:
		return "unknown"
	}
}

// findSOPClassModels maps the well-known Query/Retrieve FIND SOP Class UIDs
// to their Information Model. C-GET/C-MOVE share the same three models under
// their own distinct SOP Class UIDs, which resolve to the same model here.
var findSOPClassModels = map[string]InformationModel{
	"1.2.840.10008.5.1.4.1.2.1.1": ModelPatientRoot,      // Patient Root FIND
	"1.2.840.10008.5.1.4.1.2.1.2": ModelPatientRoot,      // Patient Root MOVE
	"1.2.840.10008.5.1.4.1.2.1.3": ModelPatientRoot,      // Patient Root GET
	"1.2.840.10008.5.1.4.1.2.2.1": ModelStudyRoot,        // Study Root FIND
	"1.2.840.10008.5.1.4.1.2.2.2": ModelStudyRoot,        // Study Root MOVE
	"1.2.840.10008.5.1.4.1.2.2.3": ModelStudyRoot,        // Study Root GET
	"1.2.840.10008.5.1.4.1.2.3.1": ModelPatientStudyOnly, // Patient/Study Only FIND
	"1.2.840.10008.5.1.4.1.2.3.2": ModelPatientStudyOnly, // Patient/Study Only MOVE
	"1.2.840.10008.5.1.4.1.2.3.3": ModelPatientStudyOnly, // Patient/Study Only GET
}

// InformationModelForSOPClass resolves a Query/Retrieve SOP Class UID to its
// Information Model, or ModelUnknown for an unrecognized UID.
func InformationModelForSOPClass(sopClassUID string) InformationModel {
	return findSOPClassModels[sopClassUID]
}

// tagQueryRetrieveLevel is (0008,0052), the attribute every C-FIND/C-GET/
// C-MOVE identifier must carry to say which level of the model it queries.
var tagQueryRetrieveLevel = tag.New(0x0008, 0x0052)

// queryRetrieveLevel reads (0008,0052) from a query identifier.
func queryRetrieveLevel(query *dicom.DataSet) (string, error) {
	level, err := getStringFromDataSet(query, tagQueryRetrieveLevel)
	if err != nil {
		return "", fmt.Errorf("query identifier has no (0008,0052) QueryRetrieveLevel: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(level)), nil
}

// levelsByModel lists the QueryRetrieveLevel values each Information Model
// permits, per PS3.4 Annex C.
var levelsByModel = map[InformationModel]map[string]bool{
	ModelPatientRoot:      {"PATIENT": true, "STUDY": true, "SERIES": true, "IMAGE": true},
	ModelStudyRoot:        {"STUDY": true, "SERIES": true, "IMAGE": true},
	ModelPatientStudyOnly: {"PATIENT": true, "STUDY": true},
}

// ValidateQueryLevel checks that level is a level the given Information
// Model supports. An unrecognized model accepts any non-empty level, since
// a caller-defined private SOP Class has no standard level table to check
// against.
func ValidateQueryLevel(model InformationModel, level string) error {
	if level == "" {
		return fmt.Errorf("query identifier has an empty QueryRetrieveLevel")
	}
	allowed, ok := levelsByModel[model]
	if !ok {
		return nil
	}
	if !allowed[level] {
		return fmt.Errorf("%s Information Model does not support QueryRetrieveLevel %q", model, level)
	}
	return nil
}

// MatchesQuery reports whether candidate satisfies every matching key
// present in query, per PS3.4 Annex C.2. Each element present in query with
// a non-(0008,0052) tag is a matching key; the candidate must carry a
// matching value for every key query specifies a value for. A key with a
// zero-length value is universal matching (always satisfied); a key entirely
// absent from candidate never matches a non-universal key.
func MatchesQuery(query, candidate *dicom.DataSet) bool {
	for _, queryElem := range query.Elements() {
		t := queryElem.Tag()
		if t.Equals(tagQueryRetrieveLevel) {
			continue
		}

		queryValue := queryElem.Value()
		if queryValue == nil {
			continue
		}
		rawQuery := queryValue.String()
		if strings.TrimSpace(rawQuery) == "" {
			continue // universal matching: present but empty always matches
		}

		candidateElem, err := candidate.Get(t)
		if err != nil {
			return false
		}
		candidateValue := candidateElem.Value()
		if candidateValue == nil {
			return false
		}

		if !matchesAttribute(rawQuery, candidateValue.String()) {
			return false
		}
	}
	return true
}

// matchesAttribute applies single-value, list, range, and wildcard matching
// to one attribute's query key against one candidate value, per PS3.4
// C.2.2.2.1-4. A query key may itself be a backslash-separated list of
// alternatives (OR), each of which may independently be a wildcard or range
// expression.
func matchesAttribute(query, candidateRaw string) bool {
	for _, alternative := range strings.Split(query, `\`) {
		if matchesSingleKey(alternative, candidateRaw) {
			return true
		}
	}
	return false
}

func matchesSingleKey(key, candidateRaw string) bool {
	if strings.Contains(key, "-") && looksLikeRange(key) {
		return matchesRange(key, candidateRaw)
	}
	if strings.ContainsAny(key, "*?") {
		return matchesWildcard(key, candidateRaw)
	}
	return strings.EqualFold(strings.TrimSpace(key), strings.TrimSpace(candidateRaw))
}

// looksLikeRange restricts range matching to a single embedded hyphen, so a
// UID or other hyphen-bearing value doesn't get misread as a range.
func looksLikeRange(key string) bool {
	return strings.Count(key, "-") == 1 && !strings.ContainsAny(key, "*?")
}

// matchesRange implements PS3.4 C.2.2.2.3's lo-hi date/time range matching.
// An empty bound means unbounded on that side. Values compare lexically,
// which is correct for DICOM's fixed-width DA (YYYYMMDD) and TM (HHMMSS...)
// encodings.
func matchesRange(key, candidateRaw string) bool {
	parts := strings.SplitN(key, "-", 2)
	lo, hi := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	candidate := strings.TrimSpace(candidateRaw)
	if lo != "" && candidate < lo {
		return false
	}
	if hi != "" && candidate > hi {
		return false
	}
	return true
}

// matchesWildcard implements PS3.4 C.2.2.2.4: "*" matches any sequence of
// characters (including none), "?" matches exactly one character.
func matchesWildcard(pattern, candidateRaw string) bool {
	re := wildcardToRegexp(pattern)
	return re.MatchString(strings.TrimSpace(candidateRaw))
}

func wildcardToRegexp(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}
