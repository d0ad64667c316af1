package provenance

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/akam1o/arca-dataops/pkg/opserr"
)

// CommentVersion prefixes every comment written by EncodeComment.
const CommentVersion = "dataops-lineage/v1"

const commentTag = "dataops-lineage/"

// Comment keys of the v1 encoding.
const (
	keyCreatedBy      = "createdBy"
	keyOperation      = "op"
	keySourceScope    = "sourceScope"
	keySourceVolume   = "sourceVolume"
	keySourceSnapshot = "sourceSnapshot"
	keyCloneVolume    = "cloneVolume"
	keyCloneSnapshot  = "cloneSnapshot"
)

// legacyComment matches
// PARENTSVM:<svm>,PARENTVOL:<vol>,CLONESVM:<svm>,CLONENAME:<name>[ SNAP:<snap>] netapp-dataops
var legacyComment = regexp.MustCompile(
	`^PARENTSVM:([^,\s]*),PARENTVOL:([^,\s]*),CLONESVM:([^,\s]*),CLONENAME:([^,\s]*)(?: SNAP:(\S+))? ` +
		regexp.QuoteMeta(LegacyCreatedBy) + `$`)

// EncodeComment serializes l for the array backend's free-text comment field:
// a version tag followed by a query-escaped key/value blob, e.g.
//
//	dataops-lineage/v1?createdBy=arca-dataops&op=clone&sourceScope=svm0&sourceVolume=vol1
func EncodeComment(l Lineage) string {
	if l.IsZero() {
		return ""
	}
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set(keyCreatedBy, l.CreatedBy)
	set(keyOperation, string(l.Operation))
	set(keySourceScope, l.SourceScope)
	set(keySourceVolume, l.SourceVolume)
	set(keySourceSnapshot, l.SourceSnapshot)
	set(keyCloneVolume, l.CloneVolume)
	set(keyCloneSnapshot, l.CloneSnapshot)
	return CommentVersion + "?" + v.Encode()
}

// DecodeComment parses a comment written by EncodeComment or by the legacy
// grammar. ok is false when the comment carries no lineage at all.
func DecodeComment(comment string) (l Lineage, ok bool, err error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return Lineage{}, false, nil
	}

	if strings.HasPrefix(comment, commentTag) {
		version, blob, _ := strings.Cut(comment, "?")
		if version != CommentVersion {
			return Lineage{}, false, opserr.Newf(opserr.ErrValidation, "decode lineage", "",
				"unsupported lineage version %q", strings.TrimPrefix(version, commentTag))
		}
		v, err := url.ParseQuery(blob)
		if err != nil {
			return Lineage{}, false, opserr.New(opserr.ErrValidation, "decode lineage", "", err)
		}
		l = Lineage{
			CreatedBy:      v.Get(keyCreatedBy),
			Operation:      Operation(v.Get(keyOperation)),
			SourceScope:    v.Get(keySourceScope),
			SourceVolume:   v.Get(keySourceVolume),
			SourceSnapshot: v.Get(keySourceSnapshot),
			CloneVolume:    v.Get(keyCloneVolume),
			CloneSnapshot:  v.Get(keyCloneSnapshot),
		}
		if l.Operation != "" && !l.Operation.Valid() {
			return Lineage{}, false, opserr.Newf(opserr.ErrValidation, "decode lineage", "",
				"unknown operation %q", l.Operation)
		}
		return l, true, nil
	}

	if m := legacyComment.FindStringSubmatch(comment); m != nil {
		return Lineage{
			CreatedBy:      LegacyCreatedBy,
			Operation:      OperationClone,
			SourceScope:    m[1],
			SourceVolume:   m[2],
			SourceSnapshot: m[5],
		}, true, nil
	}

	// Free text written by someone else.
	return Lineage{}, false, nil
}

// EncodeLegacyComment renders l in the legacy grammar. It exists so volumes
// can be compared against comments written by older tooling.
func EncodeLegacyComment(l Lineage, cloneScope, cloneName string) string {
	s := fmt.Sprintf("PARENTSVM:%s,PARENTVOL:%s,CLONESVM:%s,CLONENAME:%s",
		l.SourceScope, l.SourceVolume, cloneScope, cloneName)
	if l.SourceSnapshot != "" {
		s += " SNAP:" + l.SourceSnapshot
	}
	return s + " " + LegacyCreatedBy
}
