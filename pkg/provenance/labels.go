package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
)

// Label and annotation keys used on claim objects. Labels hold a selector-safe
// (possibly shortened) value; annotations hold the exact value.
const (
	LabelPrefix = "dataops.arca.io/"

	LabelCreatedBy      = LabelPrefix + "created-by"
	LabelOperation      = LabelPrefix + "created-by-operation"
	LabelSourceVolume   = LabelPrefix + "source-volume"
	LabelSourceSnapshot = LabelPrefix + "source-snapshot"
	LabelSourceScope    = LabelPrefix + "source-namespace"

	AnnotationCloneVolume   = LabelPrefix + "clone-volume"
	AnnotationCloneSnapshot = LabelPrefix + "clone-snapshot"
)

// Keys written by the previous toolkit generation.
const (
	legacyLabelCreatedBy      = "created-by"
	legacyLabelOperation      = "created-by-operation"
	legacyLabelSourceVolume   = "source-pvc"
	legacyLabelSourceSnapshot = "source-volume-snapshot"
)

// Metadata is the claim-object encoding of a lineage.
type Metadata struct {
	Labels      map[string]string
	Annotations map[string]string
}

// EncodeMetadata renders l as labels and annotations.
func EncodeMetadata(l Lineage) Metadata {
	md := Metadata{Labels: map[string]string{}, Annotations: map[string]string{}}
	put := func(key, value string) {
		if value == "" {
			return
		}
		md.Labels[key] = LabelValue(value)
		md.Annotations[key] = value
	}
	put(LabelCreatedBy, l.CreatedBy)
	put(LabelOperation, string(l.Operation))
	put(LabelSourceVolume, l.SourceVolume)
	put(LabelSourceSnapshot, l.SourceSnapshot)
	for key, value := range map[string]string{
		LabelSourceScope:        l.SourceScope,
		AnnotationCloneVolume:   l.CloneVolume,
		AnnotationCloneSnapshot: l.CloneSnapshot,
	} {
		if value != "" {
			md.Annotations[key] = value
		}
	}
	return md
}

// DecodeMetadata reads a lineage back from labels and annotations, accepting
// the legacy unprefixed label keys too. ok is false when nothing was recorded.
func DecodeMetadata(labels, annotations map[string]string) (Lineage, bool) {
	get := func(key, legacy string) string {
		if v := annotations[key]; v != "" {
			return v
		}
		if v := labels[key]; v != "" {
			return v
		}
		if legacy != "" {
			return labels[legacy]
		}
		return ""
	}

	l := Lineage{
		CreatedBy:      get(LabelCreatedBy, legacyLabelCreatedBy),
		Operation:      Operation(get(LabelOperation, legacyLabelOperation)),
		SourceScope:    annotations[LabelSourceScope],
		SourceVolume:   get(LabelSourceVolume, legacyLabelSourceVolume),
		SourceSnapshot: get(LabelSourceSnapshot, legacyLabelSourceSnapshot),
		CloneVolume:    annotations[AnnotationCloneVolume],
		CloneSnapshot:  annotations[AnnotationCloneSnapshot],
	}
	return l, !l.IsZero()
}

// SelectorValue returns the label value written for a source name, for use in
// label selectors.
func SelectorValue(name string) string {
	return LabelValue(name)
}

// LabelValue returns value unchanged when it is a valid label value, and a
// deterministic shortened form (prefix plus a hash of the full value) when not.
func LabelValue(value string) string {
	if len(validation.IsValidLabelValue(value)) == 0 {
		return value
	}

	h := sha256.Sum256([]byte(value))
	suffix := hex.EncodeToString(h[:5])

	prefix := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '-'
	}, value)
	if limit := validation.LabelValueMaxLength - len(suffix) - 1; len(prefix) > limit {
		prefix = prefix[:limit]
	}
	prefix = strings.TrimRight(strings.TrimLeft(prefix, "-_."), "-_.")
	if prefix == "" {
		return suffix
	}
	return prefix + "-" + suffix
}
