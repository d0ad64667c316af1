package main

import (
	"context"
	"fmt"
	"os"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"

	"github.com/akam1o/arca-dataops/pkg/arca"
	"github.com/akam1o/arca-dataops/pkg/config"
	"github.com/akam1o/arca-dataops/pkg/kube"
	"github.com/akam1o/arca-dataops/pkg/lock"
	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/orchestrator"
)

// buildBackend connects to the backend named in cfg and, when restore
// locking is enabled, creates a lease-based locker.
func buildBackend(ctx context.Context, cfg *config.Config, kubeconfig string) (orchestrator.Backend, orchestrator.Locker, error) {
	if kubeconfig == "" {
		kubeconfig = cfg.Kubernetes.Kubeconfig
	}

	var (
		k8sConfig *rest.Config
		k8sClient kubernetes.Interface
	)
	if cfg.Backend == config.BackendClaim || cfg.Orchestrator.Lock.Enabled {
		c, cs, err := createKubernetesClient(kubeconfig)
		if err != nil {
			return nil, nil, opserr.New(opserr.ErrConfiguration, "connect", "kubernetes", err)
		}
		k8sConfig, k8sClient = c, cs
	}

	var backend orchestrator.Backend
	switch cfg.Backend {
	case config.BackendArray:
		arcaClient, err := arca.NewClient(cfg.ToArcaClientConfig())
		if err != nil {
			return nil, nil, opserr.New(opserr.ErrConfiguration, "connect", cfg.ARCA.BaseURL, err)
		}
		svm, err := arcaClient.GetSVM(ctx, cfg.ARCA.SVM)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to verify SVM %s: %w", cfg.ARCA.SVM, err)
		}
		klog.V(2).Infof("Connected to ARCA API %s (SVM %s, state %s)", cfg.ARCA.BaseURL, svm.Name, svm.State)
		backend = arca.NewBackend(arcaClient, cfg.ToArcaDefaults())
	case config.BackendClaim:
		b, err := kube.NewForConfig(ctx, k8sConfig, cfg.ToKubeOptions())
		if err != nil {
			return nil, nil, err
		}
		backend = b
	default:
		return nil, nil, opserr.Newf(opserr.ErrConfiguration, "connect", "", "unknown backend %q", cfg.Backend)
	}

	if !cfg.Orchestrator.Lock.Enabled {
		return backend, nil, nil
	}

	identity, err := lockIdentity()
	if err != nil {
		return nil, nil, opserr.New(opserr.ErrConfiguration, "connect", "lock", err)
	}
	klog.V(2).Infof("Using lock identity %s in namespace %s", identity, cfg.Orchestrator.Lock.Namespace)
	locker := lock.NewManager(k8sClient, cfg.Orchestrator.Lock.Namespace, identity,
		lock.WithTTL(cfg.Orchestrator.Lock.TTL.Duration))
	return backend, locker, nil
}

// lockIdentity prefers the pod name and falls back to the hostname.
func lockIdentity() (string, error) {
	if identity := os.Getenv("POD_NAME"); identity != "" {
		return identity, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to determine lock identity: %w", err)
	}
	return hostname, nil
}

// createKubernetesClient creates a Kubernetes clientset
func createKubernetesClient(kubeconfigPath string) (*rest.Config, *kubernetes.Clientset, error) {
	var config *rest.Config
	var err error

	if kubeconfigPath != "" {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build config from kubeconfig: %w", err)
		}
		klog.V(2).Infof("Using kubeconfig: %s", kubeconfigPath)
	} else {
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get in-cluster config: %w", err)
		}
		klog.V(2).Info("Using in-cluster Kubernetes configuration")
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return config, clientset, nil
}
