package dispatch_test

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/sievelab/podgen/pkg/domain"
	"github.com/sievelab/podgen/pkg/domain/dispatch"
	kerr "github.com/sievelab/podgen/pkg/domain/errors"
	"github.com/sievelab/podgen/pkg/domain/instance"
	"github.com/sievelab/podgen/pkg/domain/k8s/cluster"
	"github.com/sievelab/podgen/pkg/domain/k8s/cluster/mock"
	"github.com/sievelab/podgen/pkg/domain/workload"
	"github.com/sievelab/podgen/pkg/utils/pointer"
	"github.com/sievelab/podgen/pkg/utils/try"
)

func testRegistry(t *testing.T) workload.Registry {
	t.Helper()
	return try.To(workload.New([]domain.WorkloadDefinition{
		{Kind: "sieve", Image: "registry.example.com/sieve:1.0", Timeout: 10 * time.Second},
	})).OrFatal(t)
}

func testConfig() dispatch.Config {
	return dispatch.Config{
		MaxConcurrent:  5,
		PollInterval:   10 * time.Millisecond,
		InitialBackoff: time.Millisecond,
		MaxAttempts:    3,
		Retention:      time.Hour,
		PurgeInterval:  time.Hour,
		MaxPodAge:      time.Hour,
	}
}

func quiet() dispatch.Option {
	return dispatch.WithLogger(log.New(io.Discard, "", 0))
}

var podsResource = schema.GroupResource{Resource: "pods"}

func succeededPod(name string) *kubecore.Pod {
	return &kubecore.Pod{
		ObjectMeta: kubeapimeta.ObjectMeta{Name: name},
		Status:     kubecore.PodStatus{Phase: kubecore.PodSucceeded},
	}
}

func runningPod(name string) *kubecore.Pod {
	return &kubecore.Pod{
		ObjectMeta: kubeapimeta.ObjectMeta{Name: name},
		Status:     kubecore.PodStatus{Phase: kubecore.PodRunning},
	}
}

func TestDispatcher_happyPath(t *testing.T) {
	t.Run("it runs an instance to Reclaimed and keeps the result", func(t *testing.T) {
		clu, client := mock.NewCluster()
		client.Impl.CreatePod = func(_ context.Context, _ string, pod *kubecore.Pod) (*kubecore.Pod, error) {
			return pod, nil
		}
		client.Impl.GetPod = func(_ context.Context, _ string, name string) (*kubecore.Pod, error) {
			return succeededPod(name), nil
		}
		client.Impl.Log = func(_ context.Context, _ string, _ string, container string) (io.ReadCloser, error) {
			if container != cluster.MainContainerName {
				t.Errorf("logs read from container %s, not %s", container, cluster.MainContainerName)
			}
			return io.NopCloser(strings.NewReader("2,3,5,7")), nil
		}
		client.Impl.DeletePod = func(_ context.Context, _ string, _ string) error {
			return nil
		}

		d := dispatch.New(clu, testRegistry(t), testConfig(), quiet())
		id := try.To(d.Launch(
			context.Background(), domain.LaunchRequest{Kind: "sieve"},
		)).OrFatal(t)
		if id == "" {
			t.Fatal("launch returned an empty instance id")
		}
		d.Wait()

		got := try.To(d.Result(id)).OrFatal(t)
		if got.Status != domain.Reclaimed {
			t.Errorf("status: got %s, want %s", got.Status, domain.Reclaimed)
		}
		if string(got.Result) != "2,3,5,7" {
			t.Errorf("result payload: got %q, want %q", string(got.Result), "2,3,5,7")
		}
		if got.Exit != nil {
			t.Errorf("unexpected exit detail: %+v", got.Exit)
		}
		if got.PodName == "" || !strings.HasPrefix(got.PodName, "podgen-worker-") {
			t.Errorf("unexpected pod name: %q", got.PodName)
		}
		if client.Called.DeletePod.Load() != 1 {
			t.Errorf("DeletePod was called %d times, want exactly once", client.Called.DeletePod.Load())
		}
	})

	t.Run("it assigns a distinct id to every launch, even in a concurrent burst", func(t *testing.T) {
		clu, client := mock.NewCluster()
		client.Impl.CreatePod = func(_ context.Context, _ string, pod *kubecore.Pod) (*kubecore.Pod, error) {
			return pod, nil
		}
		client.Impl.GetPod = func(_ context.Context, _ string, name string) (*kubecore.Pod, error) {
			return succeededPod(name), nil
		}
		client.Impl.Log = func(_ context.Context, _ string, _ string, _ string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("")), nil
		}
		client.Impl.DeletePod = func(_ context.Context, _ string, _ string) error {
			return nil
		}

		conf := testConfig()
		conf.MaxConcurrent = 20
		d := dispatch.New(clu, testRegistry(t), conf, quiet())

		ids := make(chan string, 20)
		wg := sync.WaitGroup{}
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := d.Launch(
					context.Background(), domain.LaunchRequest{Kind: "sieve"},
				)
				if err != nil {
					t.Error(err)
					return
				}
				ids <- id
			}()
		}
		wg.Wait()
		close(ids)
		d.Wait()

		seen := map[string]bool{}
		for id := range ids {
			if seen[id] {
				t.Errorf("instance id %s was assigned twice", id)
			}
			seen[id] = true
		}
		if len(seen) != 20 {
			t.Errorf("got %d distinct instance ids, want 20", len(seen))
		}
	})
}

func TestDispatcher_rejections(t *testing.T) {
	t.Run("an unknown kind is rejected without touching the platform", func(t *testing.T) {
		clu, client := mock.NewCluster()
		d := dispatch.New(clu, testRegistry(t), testConfig(), quiet())

		_, err := d.Launch(context.Background(), domain.LaunchRequest{Kind: "no-such-kind"})
		if !errors.Is(err, kerr.ErrUnknownWorkload) {
			t.Errorf("got error %v, want %v", err, kerr.ErrUnknownWorkload)
		}
		d.Wait()
		if client.Called.CreatePod.Load() != 0 {
			t.Errorf("CreatePod was called %d times for a rejected launch", client.Called.CreatePod.Load())
		}
	})

	t.Run("a launch over the concurrency ceiling is rejected", func(t *testing.T) {
		clu, client := mock.NewCluster()
		client.Impl.CreatePod = func(_ context.Context, _ string, pod *kubecore.Pod) (*kubecore.Pod, error) {
			return pod, nil
		}
		client.Impl.GetPod = func(_ context.Context, _ string, name string) (*kubecore.Pod, error) {
			return runningPod(name), nil
		}
		client.Impl.DeletePod = func(_ context.Context, _ string, _ string) error {
			return nil
		}

		conf := testConfig()
		conf.MaxConcurrent = 1
		d := dispatch.New(clu, testRegistry(t), conf, quiet())

		first := try.To(d.Launch(
			context.Background(), domain.LaunchRequest{Kind: "sieve"},
		)).OrFatal(t)

		if _, err := d.Launch(
			context.Background(), domain.LaunchRequest{Kind: "sieve"},
		); !errors.Is(err, kerr.ErrLimitExceeded) {
			t.Errorf("got error %v, want %v", err, kerr.ErrLimitExceeded)
		}

		if err := d.Cancel(first); err != nil {
			t.Fatal(err)
		}
		d.Wait()

		// the slot is free again once the first instance is reclaimed
		second := try.To(d.Launch(
			context.Background(), domain.LaunchRequest{Kind: "sieve"},
		)).OrFatal(t)
		try.To(0, d.Cancel(second)).OrFatal(t)
		d.Wait()
	})

	t.Run("a concurrent burst gets exactly ceiling acceptances", func(t *testing.T) {
		clu, client := mock.NewCluster()
		release := make(chan struct{})
		client.Impl.CreatePod = func(_ context.Context, _ string, pod *kubecore.Pod) (*kubecore.Pod, error) {
			return pod, nil
		}
		client.Impl.GetPod = func(_ context.Context, _ string, name string) (*kubecore.Pod, error) {
			// instances stay non-terminal until the burst is over
			select {
			case <-release:
				return succeededPod(name), nil
			default:
				return runningPod(name), nil
			}
		}
		client.Impl.Log = func(_ context.Context, _ string, _ string, _ string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("")), nil
		}
		client.Impl.DeletePod = func(_ context.Context, _ string, _ string) error {
			return nil
		}

		conf := testConfig()
		conf.MaxConcurrent = 3
		d := dispatch.New(clu, testRegistry(t), conf, quiet())

		type outcome struct {
			id  string
			err error
		}
		outcomes := make(chan outcome, 50)
		wg := sync.WaitGroup{}
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := d.Launch(
					context.Background(), domain.LaunchRequest{Kind: "sieve"},
				)
				outcomes <- outcome{id: id, err: err}
			}()
		}
		wg.Wait()
		close(outcomes)

		accepted := map[string]bool{}
		rejected := 0
		for o := range outcomes {
			if o.err == nil {
				if accepted[o.id] {
					t.Errorf("instance id %s was assigned twice", o.id)
				}
				accepted[o.id] = true
				continue
			}
			if !errors.Is(o.err, kerr.ErrLimitExceeded) {
				t.Errorf("got error %v, want %v", o.err, kerr.ErrLimitExceeded)
			}
			rejected += 1
		}
		if len(accepted) != 3 {
			t.Errorf("%d launches were accepted, want exactly the ceiling (3)", len(accepted))
		}
		if rejected != 47 {
			t.Errorf("%d launches were rejected, want 47", rejected)
		}

		close(release)
		d.Wait()
	})
}

func TestDispatcher_failureCauses(t *testing.T) {
	t.Run("a permanent platform rejection fails the instance without retry", func(t *testing.T) {
		clu, client := mock.NewCluster()
		client.Impl.CreatePod = func(_ context.Context, _ string, pod *kubecore.Pod) (*kubecore.Pod, error) {
			return nil, kubeerr.NewForbidden(podsResource, pod.ObjectMeta.Name, errors.New("quota exceeded"))
		}
		client.Impl.DeletePod = func(_ context.Context, _ string, name string) error {
			return kubeerr.NewNotFound(podsResource, name)
		}

		d := dispatch.New(clu, testRegistry(t), testConfig(), quiet())
		id := try.To(d.Launch(
			context.Background(), domain.LaunchRequest{Kind: "sieve"},
		)).OrFatal(t)
		d.Wait()

		got := try.To(d.Result(id)).OrFatal(t)
		if got.Exit == nil || got.Exit.Cause != domain.CauseSchedulingError {
			t.Errorf("exit: got %+v, want cause %s", got.Exit, domain.CauseSchedulingError)
		}
		if client.Called.CreatePod.Load() != 1 {
			t.Errorf("CreatePod was called %d times, want exactly once", client.Called.CreatePod.Load())
		}
	})

	t.Run("a transient platform failure is retried until it clears", func(t *testing.T) {
		clu, client := mock.NewCluster()
		attempts := 0
		client.Impl.CreatePod = func(_ context.Context, _ string, pod *kubecore.Pod) (*kubecore.Pod, error) {
			attempts += 1
			if attempts < 3 {
				return nil, kubeerr.NewServiceUnavailable("apiserver is down")
			}
			return pod, nil
		}
		client.Impl.GetPod = func(_ context.Context, _ string, name string) (*kubecore.Pod, error) {
			return succeededPod(name), nil
		}
		client.Impl.Log = func(_ context.Context, _ string, _ string, _ string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("ok")), nil
		}
		client.Impl.DeletePod = func(_ context.Context, _ string, _ string) error {
			return nil
		}

		d := dispatch.New(clu, testRegistry(t), testConfig(), quiet())
		id := try.To(d.Launch(
			context.Background(), domain.LaunchRequest{Kind: "sieve"},
		)).OrFatal(t)
		d.Wait()

		got := try.To(d.Result(id)).OrFatal(t)
		if got.Exit != nil {
			t.Errorf("unexpected exit detail: %+v", got.Exit)
		}
		if string(got.Result) != "ok" {
			t.Errorf("result payload: got %q, want %q", string(got.Result), "ok")
		}
		if client.Called.CreatePod.Load() != 3 {
			t.Errorf("CreatePod was called %d times, want 3", client.Called.CreatePod.Load())
		}
	})

	t.Run("a transient failure which never clears fails the instance", func(t *testing.T) {
		clu, client := mock.NewCluster()
		client.Impl.CreatePod = func(_ context.Context, _ string, _ *kubecore.Pod) (*kubecore.Pod, error) {
			return nil, kubeerr.NewServiceUnavailable("apiserver is down")
		}
		client.Impl.DeletePod = func(_ context.Context, _ string, name string) error {
			return kubeerr.NewNotFound(podsResource, name)
		}

		d := dispatch.New(clu, testRegistry(t), testConfig(), quiet())
		id := try.To(d.Launch(
			context.Background(), domain.LaunchRequest{Kind: "sieve"},
		)).OrFatal(t)
		d.Wait()

		got := try.To(d.Result(id)).OrFatal(t)
		if got.Exit == nil || got.Exit.Cause != domain.CausePlatformUnavailable {
			t.Errorf("exit: got %+v, want cause %s", got.Exit, domain.CausePlatformUnavailable)
		}
	})

	t.Run("an instance past its timeout fails with cause Timeout", func(t *testing.T) {
		clu, client := mock.NewCluster()
		client.Impl.CreatePod = func(_ context.Context, _ string, pod *kubecore.Pod) (*kubecore.Pod, error) {
			return pod, nil
		}
		client.Impl.GetPod = func(_ context.Context, _ string, name string) (*kubecore.Pod, error) {
			return runningPod(name), nil
		}
		client.Impl.DeletePod = func(_ context.Context, _ string, _ string) error {
			return nil
		}

		d := dispatch.New(clu, testRegistry(t), testConfig(), quiet())
		id := try.To(d.Launch(context.Background(), domain.LaunchRequest{
			Kind:    "sieve",
			Timeout: pointer.Ref(30 * time.Millisecond),
		})).OrFatal(t)
		d.Wait()

		got := try.To(d.Result(id)).OrFatal(t)
		if got.Status != domain.Reclaimed {
			t.Errorf("status: got %s, want %s", got.Status, domain.Reclaimed)
		}
		if got.Exit == nil || got.Exit.Cause != domain.CauseTimeout {
			t.Errorf("exit: got %+v, want cause %s", got.Exit, domain.CauseTimeout)
		}
		if client.Called.DeletePod.Load() != 1 {
			t.Errorf("DeletePod was called %d times, want exactly once", client.Called.DeletePod.Load())
		}
	})

	t.Run("a pod which vanishes mid-flight fails with cause PodLost", func(t *testing.T) {
		clu, client := mock.NewCluster()
		client.Impl.CreatePod = func(_ context.Context, _ string, pod *kubecore.Pod) (*kubecore.Pod, error) {
			return pod, nil
		}
		client.Impl.GetPod = func(_ context.Context, _ string, name string) (*kubecore.Pod, error) {
			return nil, kubeerr.NewNotFound(podsResource, name)
		}
		client.Impl.DeletePod = func(_ context.Context, _ string, name string) error {
			return kubeerr.NewNotFound(podsResource, name)
		}

		d := dispatch.New(clu, testRegistry(t), testConfig(), quiet())
		id := try.To(d.Launch(
			context.Background(), domain.LaunchRequest{Kind: "sieve"},
		)).OrFatal(t)
		d.Wait()

		got := try.To(d.Result(id)).OrFatal(t)
		if got.Exit == nil || got.Exit.Cause != domain.CausePodLost {
			t.Errorf("exit: got %+v, want cause %s", got.Exit, domain.CausePodLost)
		}
	})

	t.Run("a pod which exits non-zero fails with cause PodFailed", func(t *testing.T) {
		clu, client := mock.NewCluster()
		client.Impl.CreatePod = func(_ context.Context, _ string, pod *kubecore.Pod) (*kubecore.Pod, error) {
			return pod, nil
		}
		client.Impl.GetPod = func(_ context.Context, _ string, name string) (*kubecore.Pod, error) {
			return &kubecore.Pod{
				ObjectMeta: kubeapimeta.ObjectMeta{Name: name},
				Status:     kubecore.PodStatus{Phase: kubecore.PodFailed},
			}, nil
		}
		client.Impl.DeletePod = func(_ context.Context, _ string, _ string) error {
			return nil
		}

		d := dispatch.New(clu, testRegistry(t), testConfig(), quiet())
		id := try.To(d.Launch(
			context.Background(), domain.LaunchRequest{Kind: "sieve"},
		)).OrFatal(t)
		d.Wait()

		got := try.To(d.Result(id)).OrFatal(t)
		if got.Exit == nil || got.Exit.Cause != domain.CausePodFailed {
			t.Errorf("exit: got %+v, want cause %s", got.Exit, domain.CausePodFailed)
		}
		if client.Called.Log.Load() != 0 {
			t.Errorf("logs were read %d times from a failed pod", client.Called.Log.Load())
		}
	})
}

func TestDispatcher_queries(t *testing.T) {
	t.Run("Status and Result of an unknown id fail with ErrMissing", func(t *testing.T) {
		clu, _ := mock.NewCluster()
		d := dispatch.New(clu, testRegistry(t), testConfig(), quiet())

		if _, err := d.Status("no-such-id"); !errors.Is(err, kerr.ErrMissing) {
			t.Errorf("Status: got error %v, want %v", err, kerr.ErrMissing)
		}
		if _, err := d.Result("no-such-id"); !errors.Is(err, kerr.ErrMissing) {
			t.Errorf("Result: got error %v, want %v", err, kerr.ErrMissing)
		}
		if err := d.Cancel("no-such-id"); !errors.Is(err, kerr.ErrMissing) {
			t.Errorf("Cancel: got error %v, want %v", err, kerr.ErrMissing)
		}
	})

	t.Run("Result of a non-terminal instance fails with ErrNotReady", func(t *testing.T) {
		clu, client := mock.NewCluster()
		client.Impl.CreatePod = func(_ context.Context, _ string, pod *kubecore.Pod) (*kubecore.Pod, error) {
			return pod, nil
		}
		client.Impl.GetPod = func(_ context.Context, _ string, name string) (*kubecore.Pod, error) {
			return runningPod(name), nil
		}
		client.Impl.DeletePod = func(_ context.Context, _ string, _ string) error {
			return nil
		}

		d := dispatch.New(clu, testRegistry(t), testConfig(), quiet())
		id := try.To(d.Launch(
			context.Background(), domain.LaunchRequest{Kind: "sieve"},
		)).OrFatal(t)

		if _, err := d.Result(id); !errors.Is(err, kerr.ErrNotReady) {
			t.Errorf("got error %v, want %v", err, kerr.ErrNotReady)
		}

		try.To(0, d.Cancel(id)).OrFatal(t)
		d.Wait()

		got := try.To(d.Result(id)).OrFatal(t)
		if got.Exit == nil || got.Exit.Cause != domain.CauseCancelled {
			t.Errorf("exit: got %+v, want cause %s", got.Exit, domain.CauseCancelled)
		}
	})
}

func TestDispatcher_Reconcile(t *testing.T) {
	t.Run("it deletes stray managed pods and spares live ones", func(t *testing.T) {
		old := kubeapimeta.NewTime(time.Now().Add(-3 * time.Hour))
		fresh := kubeapimeta.NewTime(time.Now())

		tracker := instance.NewTracker()
		live := try.To(tracker.Register(domain.Instance{
			Id: "live-instance", Kind: "sieve", Image: "registry.example.com/sieve:1.0",
		})).OrFatal(t)

		clu, client := mock.NewCluster()
		client.Impl.FindPods = func(_ context.Context, _ string, ls cluster.LabelSelector) ([]kubecore.Pod, error) {
			want := workload.ManagedPods().QueryString()
			if got := ls.QueryString(); got != want {
				t.Errorf("label selector: got %q, want %q", got, want)
			}
			return []kubecore.Pod{
				{ObjectMeta: kubeapimeta.ObjectMeta{
					Name:              "podgen-worker-stray",
					CreationTimestamp: old,
					Labels:            map[string]string{workload.LabelInstanceId: "gone-instance"},
				}},
				{ObjectMeta: kubeapimeta.ObjectMeta{
					Name:              "podgen-worker-fresh",
					CreationTimestamp: fresh,
					Labels:            map[string]string{workload.LabelInstanceId: "other-instance"},
				}},
				{ObjectMeta: kubeapimeta.ObjectMeta{
					Name:              "podgen-worker-live",
					CreationTimestamp: old,
					Labels:            map[string]string{workload.LabelInstanceId: live.Id},
				}},
			}, nil
		}
		deleted := []string{}
		client.Impl.DeletePod = func(_ context.Context, _ string, name string) error {
			deleted = append(deleted, name)
			return nil
		}

		d := dispatch.New(
			clu, testRegistry(t), testConfig(),
			quiet(), dispatch.WithTracker(tracker),
		)
		if err := d.Reconcile(context.Background()); err != nil {
			t.Fatal(err)
		}

		if len(deleted) != 1 || deleted[0] != "podgen-worker-stray" {
			t.Errorf("deleted pods: got %v, want [podgen-worker-stray]", deleted)
		}
	})
}
