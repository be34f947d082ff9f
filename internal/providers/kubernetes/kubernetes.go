package kubernetes

import (
	"fmt"
	"log/slog"
	"sync"

	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/otterscale/otterscale-watch/internal/core"
)

// InCluster is the cluster name that selects the service account
// credentials of the pod the watch server runs in.
const InCluster = "in-cluster"

// Kubeconfig is the path of the kubeconfig file whose contexts name the
// clusters that can be watched. An empty path uses the default loading
// rules ($KUBECONFIG, then ~/.kube/config).
type Kubeconfig string

// Kubernetes resolves cluster names to API clients. Each cluster is a
// kubeconfig context; clients are built once and shared by every
// collection of that cluster.
type Kubernetes struct {
	rules *clientcmd.ClientConfigLoadingRules

	configs    sync.Map // map[string]*rest.Config, keyed by cluster name
	dynamics   sync.Map // map[string]dynamic.Interface
	discoverys sync.Map // map[string]discovery.DiscoveryInterface
}

func New(kubeconfig Kubeconfig) *Kubernetes {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = string(kubeconfig)
	}
	return &Kubernetes{
		rules: rules,
	}
}

// restConfig returns the client configuration for cluster. The empty
// name selects the kubeconfig's current context, or the in-cluster
// configuration when running in a pod without a kubeconfig.
func (k *Kubernetes) restConfig(cluster string) (*rest.Config, error) {
	if cfg, ok := k.configs.Load(cluster); ok {
		return cfg.(*rest.Config), nil
	}

	cfg, err := k.loadConfig(cluster)
	if err != nil {
		return nil, err
	}

	actual, _ := k.configs.LoadOrStore(cluster, cfg)
	return actual.(*rest.Config), nil
}

func (k *Kubernetes) loadConfig(cluster string) (*rest.Config, error) {
	if cluster == InCluster {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, &core.ErrClusterNotFound{Cluster: cluster}
		}
		return cfg, nil
	}

	overrides := &clientcmd.ConfigOverrides{CurrentContext: cluster}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(k.rules, overrides).ClientConfig()
	switch {
	case err == nil:
		return cfg, nil

	case clientcmd.IsContextNotFound(err):
		return nil, &core.ErrClusterNotFound{Cluster: cluster}

	case cluster == "" && clientcmd.IsEmptyConfig(err):
		slog.Warn("kubeconfig not available, falling back to in-cluster config", "error", err)
		cfg, inErr := rest.InClusterConfig()
		if inErr != nil {
			return nil, fmt.Errorf("no kubeconfig and no in-cluster config: %w", inErr)
		}
		return cfg, nil

	default:
		return nil, fmt.Errorf("failed to load config for cluster %q: %w", cluster, err)
	}
}

// dynamic returns the shared dynamic client for cluster.
func (k *Kubernetes) dynamic(cluster string) (dynamic.Interface, error) {
	if c, ok := k.dynamics.Load(cluster); ok {
		return c.(dynamic.Interface), nil
	}

	cfg, err := k.restConfig(cluster)
	if err != nil {
		return nil, err
	}

	// Watches are long-lived; the client-side timeout must not cut them.
	cfg = rest.CopyConfig(cfg)
	cfg.Timeout = 0

	c, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client for cluster %q: %w", cluster, err)
	}

	actual, _ := k.dynamics.LoadOrStore(cluster, dynamic.Interface(c))
	return actual.(dynamic.Interface), nil
}

// discovery returns the shared discovery client for cluster.
func (k *Kubernetes) discovery(cluster string) (discovery.DiscoveryInterface, error) {
	if c, ok := k.discoverys.Load(cluster); ok {
		return c.(discovery.DiscoveryInterface), nil
	}

	cfg, err := k.restConfig(cluster)
	if err != nil {
		return nil, err
	}

	c, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client for cluster %q: %w", cluster, err)
	}

	actual, _ := k.discoverys.LoadOrStore(cluster, discovery.DiscoveryInterface(c))
	return actual.(discovery.DiscoveryInterface), nil
}
