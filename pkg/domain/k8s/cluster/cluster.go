package cluster

import (
	"context"
	"fmt"
	"io"

	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8s "k8s.io/client-go/kubernetes"

	kerr "github.com/sievelab/podgen/pkg/domain/errors"
	k8serrors "github.com/sievelab/podgen/pkg/domain/errors/k8serrors"
)

// subset of k8s.Clientset
type K8sClient interface {
	CreatePod(ctx context.Context, namespace string, spec *kubecore.Pod) (*kubecore.Pod, error)
	GetPod(ctx context.Context, namespace string, name string) (*kubecore.Pod, error)
	DeletePod(ctx context.Context, namespace string, name string) error
	FindPods(ctx context.Context, namespace string, labelSelector LabelSelector) ([]kubecore.Pod, error)

	Log(ctx context.Context, namespace string, podname string, container string) (io.ReadCloser, error)
}

// A wrapper for the type k8s.Clientset; because it does not prefer method chain-style invocations of that type.
type k8sClient struct {
	client *k8s.Clientset
}

// type check: k8sClient implements K8sClient
var _ K8sClient = &k8sClient{}

func (k *k8sClient) CreatePod(ctx context.Context, namespace string, pod *kubecore.Pod) (*kubecore.Pod, error) {
	return k.client.CoreV1().Pods(namespace).Create(ctx, pod, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) GetPod(ctx context.Context, namespace string, name string) (*kubecore.Pod, error) {
	return k.client.CoreV1().Pods(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) DeletePod(ctx context.Context, namespace string, podname string) error {
	return k.client.CoreV1().Pods(namespace).Delete(ctx, podname, *kubeapimeta.NewDeleteOptions(0))
}

func (k *k8sClient) FindPods(ctx context.Context, namespace string, labels LabelSelector) ([]kubecore.Pod, error) {
	resp, err := k.client.CoreV1().Pods(namespace).List(ctx, kubeapimeta.ListOptions{
		LabelSelector: labels.QueryString(),
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (k *k8sClient) Log(ctx context.Context, namespace string, podname string, container string) (io.ReadCloser, error) {
	return k.client.
		CoreV1().
		Pods(namespace).
		GetLogs(podname, &kubecore.PodLogOptions{Container: container}).
		Stream(ctx)
}

func WrapK8sClient(c *k8s.Clientset) K8sClient {
	return &k8sClient{client: c}
}

// Phase of a platform pod, as far as this orchestrator cares.
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
	PhaseUnknown   Phase = "Unknown"
)

func asPhase(p kubecore.PodPhase) Phase {
	switch p {
	case kubecore.PodPending:
		return PhasePending
	case kubecore.PodRunning:
		return PhaseRunning
	case kubecore.PodSucceeded:
		return PhaseSucceeded
	case kubecore.PodFailed:
		return PhaseFailed
	default:
		return PhaseUnknown
	}
}

// Terminal: true for Succeeded and Failed.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// name of the single workload container in pods this orchestrator creates.
const MainContainerName = "main"

// Cluster is the pod-management surface of the orchestration platform.
type Cluster interface {
	Namespace() string

	// Spawn submits a pod creation request.
	//
	// # Returns
	//
	// - string : the name of the created pod.
	//
	// - error :
	//
	//   - k8serrors.ErrConflict : a pod with that name already exists.
	//
	//   - k8serrors.ErrRejected : the platform rejected the spec
	//     (quota, invalid or forbidden). Permanent; do not retry.
	//
	//   - k8serrors.ErrUnavailable : transient API failure. Retriable.
	Spawn(ctx context.Context, spec *kubecore.Pod) (string, error)

	// Phase reports the current phase of a pod.
	//
	// Fails with k8serrors.ErrMissing when the pod no longer exists,
	// or k8serrors.ErrUnavailable on transient API failure.
	Phase(ctx context.Context, name string) (Phase, error)

	// Log opens the output stream of the pod's main container.
	// The pod must have reached a terminal phase.
	//
	// Fails with kerr.ErrResultUnavailable while the pod is still
	// running, k8serrors.ErrMissing when the pod no longer exists,
	// or k8serrors.ErrUnavailable on transient API failure.
	Log(ctx context.Context, name string) (io.ReadCloser, error)

	// Remove deletes a pod. Idempotent: removing a pod which is
	// already gone is not an error.
	Remove(ctx context.Context, name string) error

	// FindPods lists pods matching the label selector.
	FindPods(ctx context.Context, ls LabelSelector) ([]kubecore.Pod, error)
}

type k8sCluster struct {
	client    K8sClient
	namespace string
}

// type check: k8sCluster implements Cluster
var _ Cluster = &k8sCluster{}

// Attach kubernetes cluster.
//
// args:
//   - client: k8s clientset
//   - namespace: k8s namespace where workload pods are placed
func AttachCluster(client K8sClient, namespace string) Cluster {
	return &k8sCluster{client: client, namespace: namespace}
}

func (c *k8sCluster) Namespace() string {
	return c.namespace
}

func (c *k8sCluster) Spawn(ctx context.Context, spec *kubecore.Pod) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	pod, err := c.client.CreatePod(ctx, c.namespace, spec)
	if err != nil {
		switch {
		case kubeerr.IsAlreadyExists(err):
			return "", k8serrors.NewConflictCausedBy(spec.ObjectMeta.Name, err)
		case kubeerr.IsInvalid(err), kubeerr.IsBadRequest(err), kubeerr.IsForbidden(err):
			return "", k8serrors.NewRejectedCausedBy(spec.ObjectMeta.Name, err)
		default:
			return "", k8serrors.NewUnavailableCausedBy(spec.ObjectMeta.Name, err)
		}
	}
	return pod.ObjectMeta.Name, nil
}

func (c *k8sCluster) Phase(ctx context.Context, name string) (Phase, error) {
	pod, err := c.client.GetPod(ctx, c.namespace, name)
	if err != nil {
		if kubeerr.IsNotFound(err) {
			return PhaseUnknown, k8serrors.NewMissingCausedBy(name, err)
		}
		return PhaseUnknown, k8serrors.NewUnavailableCausedBy(name, err)
	}
	return asPhase(pod.Status.Phase), nil
}

func (c *k8sCluster) Log(ctx context.Context, name string) (io.ReadCloser, error) {
	pod, err := c.client.GetPod(ctx, c.namespace, name)
	if err != nil {
		if kubeerr.IsNotFound(err) {
			return nil, k8serrors.NewMissingCausedBy(name, err)
		}
		return nil, k8serrors.NewUnavailableCausedBy(name, err)
	}
	if !asPhase(pod.Status.Phase).Terminal() {
		return nil, fmt.Errorf("%w: pod %s is %s", kerr.ErrResultUnavailable, name, pod.Status.Phase)
	}

	stream, err := c.client.Log(ctx, c.namespace, name, MainContainerName)
	if err != nil {
		if kubeerr.IsNotFound(err) {
			return nil, k8serrors.NewMissingCausedBy(name, err)
		}
		return nil, k8serrors.NewUnavailableCausedBy(name, err)
	}
	return stream, nil
}

func (c *k8sCluster) Remove(ctx context.Context, name string) error {
	err := c.client.DeletePod(ctx, c.namespace, name)
	if err != nil && !kubeerr.IsNotFound(err) {
		return k8serrors.NewUnavailableCausedBy(name, err)
	}
	return nil
}

func (c *k8sCluster) FindPods(ctx context.Context, ls LabelSelector) ([]kubecore.Pod, error) {
	pods, err := c.client.FindPods(ctx, c.namespace, ls)
	if err != nil {
		return nil, k8serrors.NewUnavailableCausedBy(ls.QueryString(), err)
	}
	return pods, nil
}
