package kube

import (
	snapshotv1 "github.com/kubernetes-csi/external-snapshotter/client/v8/apis/volumesnapshot/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/ptr"

	"github.com/akam1o/arca-dataops/pkg/provenance"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

func toVolume(pvc *corev1.PersistentVolumeClaim) volume.Volume {
	ref := volume.Ref{Scope: pvc.Namespace, Name: pvc.Name}
	out := volume.Volume{
		Ref:          ref,
		StorageClass: ptr.Deref(pvc.Spec.StorageClassName, ""),
		UID:          string(pvc.UID),
		CreatedAt:    pvc.CreationTimestamp.Time,
	}
	if len(pvc.Spec.AccessModes) > 0 {
		out.AccessMode = string(pvc.Spec.AccessModes[0])
	}

	// Bound capacity wins over the request.
	size, ok := pvc.Status.Capacity[corev1.ResourceStorage]
	if !ok {
		size, ok = pvc.Spec.Resources.Requests[corev1.ResourceStorage]
	}
	if ok {
		out.Size = size.String()
		out.SizeBytes = size.Value()
	}

	switch pvc.Status.Phase {
	case corev1.ClaimBound:
		out.Status = volume.StatusBound
	case corev1.ClaimLost:
		out.Status = volume.StatusError
		out.StatusMessage = "claim lost its backing volume"
	default:
		out.Status = volume.StatusPending
	}
	if pvc.DeletionTimestamp != nil {
		out.Status = volume.StatusPending
	}

	if lineage, ok := provenance.DecodeMetadata(pvc.Labels, pvc.Annotations); ok {
		out.Lineage = lineage
	}

	if ds := pvc.Spec.DataSource; ds != nil {
		switch ds.Kind {
		case "VolumeSnapshot":
			out.IsClone = true
			snap := &volume.SnapshotRef{Name: ds.Name, Volume: volume.Ref{Scope: pvc.Namespace}}
			if out.Lineage.SourceVolume != "" && out.Lineage.SourceSnapshot == ds.Name {
				snap.Volume.Name = out.Lineage.SourceVolume
			}
			out.SourceSnapshot = snap
			if snap.Volume.Name != "" {
				parent := snap.Volume
				out.SourceVolume = &parent
			}
		case "PersistentVolumeClaim":
			out.IsClone = true
			out.SourceVolume = &volume.Ref{Scope: pvc.Namespace, Name: ds.Name}
		}
	}
	return out
}

func toSnapshot(vs *snapshotv1.VolumeSnapshot) volume.Snapshot {
	out := volume.Snapshot{
		Ref: volume.SnapshotRef{
			Volume: volume.Ref{Scope: vs.Namespace, Name: ptr.Deref(vs.Spec.Source.PersistentVolumeClaimName, "")},
			Name:   vs.Name,
		},
		CreatedAt:        vs.CreationTimestamp.Time,
		ReplicationLabel: vs.Labels[LabelReplicationLabel],
		UID:              string(vs.UID),
	}

	if st := vs.Status; st != nil {
		out.ReadyToUse = ptr.Deref(st.ReadyToUse, false)
		if st.CreationTime != nil {
			out.CreatedAt = st.CreationTime.Time
		}
		if st.RestoreSize != nil {
			out.RestoreSizeBytes = st.RestoreSize.Value()
		}
		if st.Error != nil && st.Error.Message != nil {
			out.Error = *st.Error.Message
		}
	}
	return out
}
