package kubeutil

import (
	"log"
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// ConnectToK8s builds a *kubernetes.Clientset for the cluster this
// daemon should talk to.
//
// The kubeconfig is taken from, in increasing priority:
// `~/.kube/config`, the envvar `KUBECONFIG`, then the first existing
// file in searchPath. When none exist, the in-cluster config is used
// (the normal case for a deployed podgend).
//
// Connecting is a precondition of everything else the daemon does,
// so failure is fatal.
func ConnectToK8s(searchPath ...string) *kubernetes.Clientset {
	kubeconfig := ""
	if home := homedir.HomeDir(); home != "" {
		kubeconfig = existingFile(filepath.Join(home, ".kube", "config"), kubeconfig)
	}
	kubeconfig = existingFile(os.Getenv("KUBECONFIG"), kubeconfig)
	for _, p := range searchPath {
		if found := existingFile(p, ""); found != "" {
			kubeconfig = found
			break
		}
	}

	var conf *rest.Config
	var err error
	if kubeconfig == "" {
		conf, err = rest.InClusterConfig()
	} else {
		conf, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		log.Fatalf("cannot configure the connection to kubernetes: %v", err)
	}

	clientset, err := kubernetes.NewForConfig(conf)
	if err != nil {
		log.Fatalf("cannot connect to kubernetes: %v", err)
	}
	return clientset
}

func existingFile(path string, fallback string) string {
	if path == "" {
		return fallback
	}
	if s, err := os.Stat(path); err == nil && !s.IsDir() {
		return path
	}
	return fallback
}
