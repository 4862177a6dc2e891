package mock

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/sievelab/podgen/pkg/domain/k8s/cluster"
	kubecore "k8s.io/api/core/v1"
)

// get mocked cluster.Cluster
//
// # returns
//
//   - cluster.Cluster : using *MockClient as base client
//   - *MockClient : mock object.
//     you can fake k8s behaviours or spy its usage.
func NewCluster() (cluster.Cluster, *MockClient) {
	client := NewMockClient()
	return cluster.AttachCluster(client, "fake-namespace"), client
}

type MockClient struct {
	Impl struct {
		CreatePod func(ctx context.Context, namespace string, pod *kubecore.Pod) (*kubecore.Pod, error)
		GetPod    func(ctx context.Context, namespace string, name string) (*kubecore.Pod, error)
		DeletePod func(ctx context.Context, namespace string, name string) error
		FindPods  func(ctx context.Context, namespace string, ls cluster.LabelSelector) ([]kubecore.Pod, error)

		Log func(ctx context.Context, namespace string, pod string, container string) (io.ReadCloser, error)
	}
	// call counters. concurrent supervision tasks share one mock,
	// so counting must be atomic.
	Called struct {
		CreatePod atomic.Uint64
		GetPod    atomic.Uint64
		DeletePod atomic.Uint64
		FindPods  atomic.Uint64

		Log atomic.Uint64
	}
}

// MockClient implements cluster.K8sClient
var _ cluster.K8sClient = &MockClient{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) CreatePod(ctx context.Context, namespace string, pod *kubecore.Pod) (*kubecore.Pod, error) {
	m.Called.CreatePod.Add(1)
	if m.Impl.CreatePod == nil {
		return nil, errors.New("[MOCK] not implemented: CreatePod")
	}
	return m.Impl.CreatePod(ctx, namespace, pod)
}

func (m *MockClient) GetPod(ctx context.Context, namespace string, name string) (*kubecore.Pod, error) {
	m.Called.GetPod.Add(1)
	if m.Impl.GetPod == nil {
		return nil, errors.New("[MOCK] not implemented: GetPod")
	}
	return m.Impl.GetPod(ctx, namespace, name)
}

func (m *MockClient) DeletePod(ctx context.Context, namespace string, name string) error {
	m.Called.DeletePod.Add(1)
	if m.Impl.DeletePod == nil {
		return errors.New("[MOCK] not implemented: DeletePod")
	}
	return m.Impl.DeletePod(ctx, namespace, name)
}

func (m *MockClient) FindPods(ctx context.Context, namespace string, ls cluster.LabelSelector) ([]kubecore.Pod, error) {
	m.Called.FindPods.Add(1)
	if m.Impl.FindPods == nil {
		return nil, errors.New("[MOCK] not implemented: FindPods")
	}
	return m.Impl.FindPods(ctx, namespace, ls)
}

func (m *MockClient) Log(ctx context.Context, namespace string, pod string, container string) (io.ReadCloser, error) {
	m.Called.Log.Add(1)
	if m.Impl.Log == nil {
		return nil, errors.New("[MOCK] not implemented: Log")
	}
	return m.Impl.Log(ctx, namespace, pod, container)
}
