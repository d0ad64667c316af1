// SPDX-License-Identifier: Apache-2.0

// Package kube drives persistent volume claims and CSI volume snapshots as
// an orchestrator backend.
package kube

import (
	"context"
	"fmt"
	"time"

	snapshotv1 "github.com/kubernetes-csi/external-snapshotter/client/v8/apis/volumesnapshot/v1"
	corev1 "k8s.io/api/core/v1"
	apiextensionsclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/rest"
	"k8s.io/klog/v2"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/provenance"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

const (
	// DefaultAccessMode is used for claims created without an access mode.
	DefaultAccessMode = corev1.ReadWriteMany

	// LabelReplicationLabel carries the replication label of a snapshot.
	LabelReplicationLabel = provenance.LabelPrefix + "replication-label"

	crudTimeout = 10 * time.Second
)

// RequiredCRDs are the snapshot CRDs the backend needs installed.
var RequiredCRDs = []string{
	"volumesnapshots.snapshot.storage.k8s.io",
	"volumesnapshotcontents.snapshot.storage.k8s.io",
	"volumesnapshotclasses.snapshot.storage.k8s.io",
}

// Options configures a Backend. Zero values select defaults.
type Options struct {
	// Namespace is used for refs without a scope.
	Namespace     string
	StorageClass  string
	SnapshotClass string
	AccessMode    string
}

// Backend stores volumes as PersistentVolumeClaims and snapshots as
// VolumeSnapshots.
type Backend struct {
	client client.Client
	opts   Options
}

// NewScheme returns a scheme with the core and snapshot API groups registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("failed to add core/v1 to scheme: %w", err)
	}
	if err := snapshotv1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("failed to add snapshot/v1 to scheme: %w", err)
	}
	return scheme, nil
}

// NewForConfig creates a controller-runtime client for config and verifies
// the snapshot CRDs are installed.
func NewForConfig(ctx context.Context, config *rest.Config, opts Options) (*Backend, error) {
	scheme, err := NewScheme()
	if err != nil {
		return nil, err
	}

	c, err := client.New(config, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create controller-runtime client: %w", err)
	}

	apiextClient, err := apiextensionsclientset.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create apiextensions client: %w", err)
	}
	if err := VerifyCRDs(ctx, apiextClient); err != nil {
		return nil, err
	}

	return NewBackend(c, opts), nil
}

// VerifyCRDs checks that every CRD in RequiredCRDs exists.
func VerifyCRDs(ctx context.Context, apiextClient apiextensionsclientset.Interface) error {
	ctx, cancel := context.WithTimeout(ctx, crudTimeout)
	defer cancel()

	for _, crdName := range RequiredCRDs {
		_, err := apiextClient.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, crdName, metav1.GetOptions{})
		if err != nil {
			return opserr.New(opserr.ErrConfiguration, "verify crds", crdName,
				fmt.Errorf("CRD %s not found, install the external-snapshotter CRDs first: %w", crdName, err))
		}
	}

	klog.V(4).Info("All required snapshot CRDs are installed")
	return nil
}

// NewBackend wraps an existing client. The client's scheme must include the
// types registered by NewScheme.
func NewBackend(c client.Client, opts Options) *Backend {
	if opts.Namespace == "" {
		opts.Namespace = metav1.NamespaceDefault
	}
	if opts.AccessMode == "" {
		opts.AccessMode = string(DefaultAccessMode)
	}
	return &Backend{client: c, opts: opts}
}

func (b *Backend) Kind() volume.Kind { return volume.KindClaim }

func (b *Backend) Capabilities() volume.Capabilities {
	return volume.Capabilities{SnapshotsOutliveVolume: true}
}

func (b *Backend) namespace(scope string) string {
	if scope == "" {
		return b.opts.Namespace
	}
	return scope
}

func (b *Backend) key(ref volume.Ref) types.NamespacedName {
	return types.NamespacedName{Namespace: b.namespace(ref.Scope), Name: ref.Name}
}

// CreateVolume creates a claim, sourced from a snapshot when
// spec.SourceSnapshot is set.
func (b *Backend) CreateVolume(ctx context.Context, spec volume.Spec) (*volume.Volume, error) {
	const op = "create volume"
	key := b.key(spec.Ref)
	resource := key.String()

	if spec.Size == "" {
		return nil, opserr.Newf(opserr.ErrValidation, op, resource, "claim size is required")
	}
	size, err := volume.ParseClaimSize(spec.Size)
	if err != nil {
		return nil, err
	}

	storageClass := spec.StorageClass
	if storageClass == "" {
		storageClass = b.opts.StorageClass
	}
	accessMode := spec.AccessMode
	if accessMode == "" {
		accessMode = b.opts.AccessMode
	}

	md := provenance.EncodeMetadata(spec.Lineage)
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:        key.Name,
			Namespace:   key.Namespace,
			Labels:      md.Labels,
			Annotations: md.Annotations,
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.PersistentVolumeAccessMode(accessMode)},
			VolumeMode:  ptr.To(corev1.PersistentVolumeFilesystem),
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: size},
			},
		},
	}
	if storageClass != "" {
		pvc.Spec.StorageClassName = ptr.To(storageClass)
	}

	if src := spec.SourceSnapshot; src != nil {
		if ns := b.namespace(src.Volume.Scope); ns != key.Namespace {
			return nil, opserr.Newf(opserr.ErrValidation, op, resource,
				"source snapshot must be in namespace %s, not %s", key.Namespace, ns)
		}
		pvc.Spec.DataSource = &corev1.TypedLocalObjectReference{
			APIGroup: ptr.To(snapshotv1.GroupName),
			Kind:     "VolumeSnapshot",
			Name:     src.Name,
		}
	}

	if err := b.client.Create(ctx, pvc); err != nil {
		return nil, mapKubernetesError(err, op, resource)
	}
	klog.V(4).Infof("Created PersistentVolumeClaim %s (size=%s, class=%q)", resource, size.String(), storageClass)

	out := toVolume(pvc)
	return &out, nil
}

func (b *Backend) GetVolume(ctx context.Context, ref volume.Ref) (*volume.Volume, error) {
	key := b.key(ref)
	pvc := &corev1.PersistentVolumeClaim{}
	if err := b.client.Get(ctx, key, pvc); err != nil {
		return nil, mapKubernetesError(err, "get volume", key.String())
	}
	out := toVolume(pvc)
	return &out, nil
}

func (b *Backend) ListVolumes(ctx context.Context, scope string) ([]volume.Volume, error) {
	ns := b.namespace(scope)
	list := &corev1.PersistentVolumeClaimList{}
	if err := b.client.List(ctx, list, client.InNamespace(ns)); err != nil {
		return nil, mapKubernetesError(err, "list volumes", ns)
	}
	out := make([]volume.Volume, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, toVolume(&list.Items[i]))
	}
	return out, nil
}

func (b *Backend) DeleteVolume(ctx context.Context, ref volume.Ref) error {
	key := b.key(ref)
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: key.Name, Namespace: key.Namespace},
	}
	if err := b.client.Delete(ctx, pvc); err != nil {
		return mapKubernetesError(err, "delete volume", key.String())
	}
	return nil
}

func (b *Backend) CreateSnapshot(ctx context.Context, spec volume.SnapshotSpec) (*volume.Snapshot, error) {
	const op = "create snapshot"
	ns := b.namespace(spec.Ref.Volume.Scope)

	vs := &snapshotv1.VolumeSnapshot{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Ref.Name,
			Namespace: ns,
		},
		Spec: snapshotv1.VolumeSnapshotSpec{
			Source: snapshotv1.VolumeSnapshotSource{
				PersistentVolumeClaimName: ptr.To(spec.Ref.Volume.Name),
			},
		},
	}
	class := spec.SnapshotClass
	if class == "" {
		class = b.opts.SnapshotClass
	}
	if class != "" {
		vs.Spec.VolumeSnapshotClassName = ptr.To(class)
	}
	if spec.ReplicationLabel != "" {
		vs.Labels = map[string]string{LabelReplicationLabel: provenance.LabelValue(spec.ReplicationLabel)}
	}

	if err := b.client.Create(ctx, vs); err != nil {
		return nil, mapKubernetesError(err, op, spec.Ref.String())
	}
	klog.V(4).Infof("Created VolumeSnapshot %s/%s of claim %s", ns, vs.Name, spec.Ref.Volume.Name)

	out := toSnapshot(vs)
	return &out, nil
}

// GetSnapshot returns the snapshot when it exists and belongs to ref.Volume.
func (b *Backend) GetSnapshot(ctx context.Context, ref volume.SnapshotRef) (*volume.Snapshot, error) {
	const op = "get snapshot"
	key := types.NamespacedName{Namespace: b.namespace(ref.Volume.Scope), Name: ref.Name}

	vs := &snapshotv1.VolumeSnapshot{}
	if err := b.client.Get(ctx, key, vs); err != nil {
		return nil, mapKubernetesError(err, op, ref.String())
	}
	if claim := ptr.Deref(vs.Spec.Source.PersistentVolumeClaimName, ""); claim != ref.Volume.Name {
		return nil, opserr.Newf(opserr.ErrNotFound, op, ref.String(), "snapshot belongs to claim %q", claim)
	}
	out := toSnapshot(vs)
	return &out, nil
}

func (b *Backend) ListSnapshots(ctx context.Context, ref volume.Ref) ([]volume.Snapshot, error) {
	ns := b.namespace(ref.Scope)
	list := &snapshotv1.VolumeSnapshotList{}
	if err := b.client.List(ctx, list, client.InNamespace(ns)); err != nil {
		return nil, mapKubernetesError(err, "list snapshots", ns)
	}

	out := make([]volume.Snapshot, 0, len(list.Items))
	for i := range list.Items {
		vs := &list.Items[i]
		if ref.Name != "" && ptr.Deref(vs.Spec.Source.PersistentVolumeClaimName, "") != ref.Name {
			continue
		}
		out = append(out, toSnapshot(vs))
	}
	return out, nil
}

func (b *Backend) DeleteSnapshot(ctx context.Context, ref volume.SnapshotRef) error {
	vs := &snapshotv1.VolumeSnapshot{
		ObjectMeta: metav1.ObjectMeta{Name: ref.Name, Namespace: b.namespace(ref.Volume.Scope)},
	}
	if err := b.client.Delete(ctx, vs); err != nil {
		return mapKubernetesError(err, "delete snapshot", ref.String())
	}
	return nil
}

func (b *Backend) RevertToSnapshot(_ context.Context, ref volume.SnapshotRef) error {
	return opserr.Newf(opserr.ErrUnsupported, "revert volume", ref.String(), "claims cannot be reverted in place")
}

func (b *Backend) SplitClone(_ context.Context, ref volume.Ref) error {
	return opserr.Newf(opserr.ErrUnsupported, "split clone", ref.String(), "claims have no clone split")
}

func (b *Backend) VolumeExists(ctx context.Context, scope, name string) (bool, error) {
	_, err := b.GetVolume(ctx, volume.Ref{Scope: scope, Name: name})
	return exists(err)
}

func (b *Backend) SnapshotExists(ctx context.Context, scope, vol, name string) (bool, error) {
	_, err := b.GetSnapshot(ctx, volume.SnapshotRef{Volume: volume.Ref{Scope: scope, Name: vol}, Name: name})
	return exists(err)
}

func exists(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case opserr.IsNotFound(err):
		return false, nil
	}
	return false, err
}
