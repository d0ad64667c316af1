// Package lock serializes work on one volume across processes with
// coordination.k8s.io Leases.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
	"k8s.io/utils/ptr"

	"github.com/akam1o/arca-dataops/pkg/opserr"
)

const (
	// DefaultTTL is the lease duration when none is configured.
	DefaultTTL = 30 * time.Second

	// MinTTL is the shortest lease duration honored. Leases carry whole
	// seconds and are renewed every third of the TTL.
	MinTTL = 3 * time.Second

	// AnnotationResource records the locked resource on the lease.
	AnnotationResource = "dataops.arca.io/locked-resource"

	leasePrefix = "dataops-lock-"
)

// Manager manages distributed locks using Kubernetes Leases
type Manager struct {
	clientset     kubernetes.Interface
	namespace     string
	identity      string
	ttl           time.Duration
	retryInterval time.Duration
	clock         clock.WithTicker
}

// Lock represents an acquired lock
type Lock struct {
	manager   *Manager
	leaseName string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the lease duration. The lease is renewed every third of it.
// Durations below MinTTL are raised to it.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		switch {
		case ttl <= 0:
		case ttl < MinTTL:
			klog.Warningf("Lock TTL %s is below the minimum, using %s", ttl, MinTTL)
			m.ttl = MinTTL
		default:
			m.ttl = ttl
		}
	}
}

// WithRetryInterval sets how often a held lease is re-checked while waiting.
func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) { m.retryInterval = d }
}

// WithClock replaces the clock used for lease timestamps, retry waits and
// renewal ticks.
func WithClock(c clock.WithTicker) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a new lock manager
func NewManager(clientset kubernetes.Interface, namespace, identity string, opts ...Option) *Manager {
	m := &Manager{
		clientset:     clientset,
		namespace:     namespace,
		identity:      identity,
		ttl:           DefaultTTL,
		retryInterval: time.Second,
		clock:         clock.RealClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LeaseName returns the lease used to lock resource. Resource names may
// contain characters leases do not allow, so the name is hashed.
func LeaseName(resource string) string {
	h := sha256.Sum256([]byte(resource))
	return leasePrefix + hex.EncodeToString(h[:8])
}

// Acquire blocks until the lock for resource is held or ctx is done, and
// returns the function that releases it.
func (m *Manager) Acquire(ctx context.Context, resource string) (func(context.Context) error, error) {
	lock, err := m.AcquireLock(ctx, resource)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

// AcquireLock acquires a distributed lock for the given resource
func (m *Manager) AcquireLock(ctx context.Context, resource string) (*Lock, error) {
	leaseName := LeaseName(resource)

	for {
		acquired, err := m.tryAcquireLease(ctx, leaseName, resource)
		if err != nil {
			return nil, opserr.New(opserr.ErrConnection, "acquire lock", resource, fmt.Errorf("failed to acquire lease: %w", err))
		}

		if acquired {
			lockCtx, cancel := context.WithCancel(context.Background())
			lock := &Lock{
				manager:   m,
				leaseName: leaseName,
				ctx:       lockCtx,
				cancel:    cancel,
				done:      make(chan struct{}),
			}
			// Start renewing the lease in background
			go lock.renewLoop(resource)
			klog.V(4).Infof("Acquired lock for %s (lease: %s)", resource, leaseName)
			return lock, nil
		}

		klog.V(4).Infof("Lock for %s is held elsewhere, waiting", resource)
		select {
		case <-m.clock.After(m.retryInterval):
		case <-ctx.Done():
			return nil, opserr.New(opserr.ErrTimeout, "acquire lock", resource, ctx.Err())
		}
	}
}

// tryAcquireLease attempts to acquire or update a lease
func (m *Manager) tryAcquireLease(ctx context.Context, leaseName, resource string) (bool, error) {
	leaseDuration := int32(m.ttl.Seconds())
	now := metav1.NewMicroTime(m.clock.Now())

	leaseClient := m.clientset.CoordinationV1().Leases(m.namespace)

	// Try to get existing lease
	lease, err := leaseClient.Get(ctx, leaseName, metav1.GetOptions{})
	if err == nil {
		// Lease exists - check if we own it or it's expired
		if ptr.Deref(lease.Spec.HolderIdentity, "") == m.identity {
			// We own it - renew
			lease.Spec.RenewTime = &now
			_, err = leaseClient.Update(ctx, lease, metav1.UpdateOptions{})
			return err == nil, err
		}

		// Check if expired
		if lease.Spec.RenewTime != nil && lease.Spec.LeaseDurationSeconds != nil {
			expiryTime := lease.Spec.RenewTime.Add(time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second)
			if m.clock.Now().After(expiryTime) {
				klog.Warningf("Lease %s held by %s expired, taking over", leaseName, ptr.Deref(lease.Spec.HolderIdentity, ""))
				lease.Spec.HolderIdentity = ptr.To(m.identity)
				lease.Spec.AcquireTime = &now
				lease.Spec.RenewTime = &now
				lease.Spec.LeaseDurationSeconds = &leaseDuration
				_, err = leaseClient.Update(ctx, lease, metav1.UpdateOptions{})
				if apierrors.IsConflict(err) {
					// Another waiter took it over first
					return false, nil
				}
				return err == nil, err
			}
		}

		// Someone else owns it and it's not expired
		return false, nil
	}

	// Check if error is NotFound (expected) vs other errors
	if !apierrors.IsNotFound(err) {
		// Real error (RBAC, network) - don't mask it
		return false, fmt.Errorf("failed to get lease: %w", err)
	}

	// Lease doesn't exist - create it
	lease = &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:        leaseName,
			Namespace:   m.namespace,
			Annotations: map[string]string{AnnotationResource: resource},
		},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       ptr.To(m.identity),
			LeaseDurationSeconds: &leaseDuration,
			AcquireTime:          &now,
			RenewTime:            &now,
		},
	}

	_, err = leaseClient.Create(ctx, lease, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return false, nil
	}
	return err == nil, err
}

// renewLoop renews the lease periodically
func (l *Lock) renewLoop(resource string) {
	defer close(l.done)
	ticker := l.manager.clock.NewTicker(l.manager.ttl / 3) // Renew at 1/3 of TTL
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			held, err := l.manager.tryAcquireLease(l.ctx, l.leaseName, resource)
			switch {
			case err != nil:
				klog.Warningf("Failed to renew lease %s: %v", l.leaseName, err)
			case !held:
				klog.Warningf("Lost lease %s for %s", l.leaseName, resource)
			}
		case <-l.ctx.Done():
			return
		}
	}
}

// Release releases the lock
func (l *Lock) Release(ctx context.Context) error {
	l.cancel() // Stop renewal
	<-l.done

	// Delete the lease
	leaseClient := l.manager.clientset.CoordinationV1().Leases(l.manager.namespace)
	err := leaseClient.Delete(ctx, l.leaseName, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		klog.Warningf("Failed to delete lease %s: %v", l.leaseName, err)
		return err
	}

	klog.V(4).Infof("Released lock (lease: %s)", l.leaseName)
	return nil
}
