package executor

import (
	"fmt"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Preflight verifies the local Kubernetes API is reachable with the
// credentials kubectl will use and returns its version. Running commands
// against an unreachable cluster would only produce a stream of failure
// results, so the agent refuses to start instead.
func Preflight(cfg *Config) (string, error) {
	restCfg, err := clusterConfig(cfg.Kubeconfig)
	if err != nil {
		return "", fmt.Errorf("failed to load cluster config: %w", err)
	}
	restCfg.Timeout = 10 * time.Second

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return "", fmt.Errorf("failed to build cluster client: %w", err)
	}
	version, err := client.Discovery().ServerVersion()
	if err != nil {
		return "", fmt.Errorf("cluster API unreachable: %w", err)
	}
	return version.GitVersion, nil
}

// clusterConfig prefers an explicit kubeconfig, then the in-cluster service
// account, then the default loading rules for local runs.
func clusterConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
}
