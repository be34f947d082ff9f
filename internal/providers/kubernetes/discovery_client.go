package kubernetes

import (
	"context"

	"github.com/otterscale/otterscale-watch/internal/core"
)

// DiscoveryClient implements core.ServerVersioner by asking the
// discovery API of the target cluster.
type DiscoveryClient struct {
	kubernetes *Kubernetes
}

// NewDiscoveryClient returns the uncached ServerVersioner. Wrap it in a
// cache.VersionCache before handing it to the watch use case.
func NewDiscoveryClient(kubernetes *Kubernetes) *DiscoveryClient {
	return &DiscoveryClient{
		kubernetes: kubernetes,
	}
}

var _ core.ServerVersioner = (*DiscoveryClient)(nil)

// ServerVersion returns the Kubernetes git version of the target
// cluster, for example "v1.34.1".
func (d *DiscoveryClient) ServerVersion(ctx context.Context, cluster string) (string, error) {
	client, err := d.kubernetes.discovery(cluster)
	if err != nil {
		return "", err
	}

	info, err := client.ServerVersion()
	if err != nil {
		return "", wrapK8sError(err)
	}
	return info.String(), nil
}
