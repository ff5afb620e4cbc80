package executor

import (
	"context"
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/maremma-monitoring/maremma/internal/status"
	"github.com/maremma-monitoring/maremma/internal/types"
)

// KubernetesExecutor confirms a cluster's API server is reachable and
// answering by calling Discovery().ServerVersion(), the cheapest
// authenticated round trip client-go exposes.
type KubernetesExecutor struct{}

// NewKubernetesExecutor returns a KubernetesExecutor.
func NewKubernetesExecutor() *KubernetesExecutor { return &KubernetesExecutor{} }

func (e *KubernetesExecutor) Kind() types.ServiceType { return types.ServiceTypeKubernetes }

func (e *KubernetesExecutor) Execute(ctx context.Context, target Target) status.Result {
	kubeconfig := configString(target.Config, "kubeconfig_path", "")
	contextName := configString(target.Config, "context", "")

	timeout := effectiveTimeout(target.Service)
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	restConfig, err := loadKubeconfig(kubeconfig, contextName)
	if err != nil {
		return errorResult(err)
	}
	restConfig.Timeout = timeout

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return errorResult(err)
	}

	version, err := client.Discovery().ServerVersion()
	if err != nil {
		if checkCtx.Err() != nil {
			return timeoutResult(timeout)
		}
		return status.Result{Status: status.Critical, Text: fmt.Sprintf("querying server version: %v", err)}
	}

	return status.Result{Status: status.Ok, Text: fmt.Sprintf("cluster reachable, server version %s", version.String())}
}

// loadKubeconfig resolves a client-go rest.Config either from an explicit
// kubeconfig path (out-of-cluster, the only mode maremma supports: it is
// not expected to run inside the clusters it monitors) or from the default
// discovery rules client-go's clientcmd already implements.
func loadKubeconfig(path, contextName string) (*rest.Config, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		loadingRules.ExplicitPath = path
	}
	overrides := &clientcmd.ConfigOverrides{}
	if contextName != "" {
		overrides.CurrentContext = contextName
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
}
