package workload_test

import (
	"errors"
	"testing"
	"time"

	kubecore "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/sievelab/podgen/pkg/domain"
	kerr "github.com/sievelab/podgen/pkg/domain/errors"
	"github.com/sievelab/podgen/pkg/domain/k8s/cluster"
	"github.com/sievelab/podgen/pkg/domain/workload"
	"github.com/sievelab/podgen/pkg/utils/cmp"
	"github.com/sievelab/podgen/pkg/utils/try"
)

func TestRegistry(t *testing.T) {
	t.Run("it resolves registered kinds and lists them sorted", func(t *testing.T) {
		testee := try.To(workload.New([]domain.WorkloadDefinition{
			{Kind: "sieve", Image: "registry.example.com/sieve:1.0", Timeout: 5 * time.Minute},
			{Kind: "echo", Image: "registry.example.com/echo:2.0", Timeout: 30 * time.Second},
		})).OrFatal(t)

		def := try.To(testee.Resolve("sieve")).OrFatal(t)
		if def.Image != "registry.example.com/sieve:1.0" || def.Timeout != 5*time.Minute {
			t.Errorf("unexpected definition: %+v", def)
		}

		if kinds := testee.Kinds(); !cmp.SliceEq(kinds, []string{"echo", "sieve"}) {
			t.Errorf("kinds: got %v", kinds)
		}
	})

	t.Run("it fails with ErrUnknownWorkload for an unregistered kind", func(t *testing.T) {
		testee := try.To(workload.New([]domain.WorkloadDefinition{
			{Kind: "sieve", Image: "registry.example.com/sieve:1.0", Timeout: 5 * time.Minute},
		})).OrFatal(t)

		if _, err := testee.Resolve("no-such-kind"); !errors.Is(err, kerr.ErrUnknownWorkload) {
			t.Errorf("got error %v, want %v", err, kerr.ErrUnknownWorkload)
		}
	})

	for name, defs := range map[string][]domain.WorkloadDefinition{
		"when a kind is empty": {
			{Kind: "", Image: "registry.example.com/sieve:1.0", Timeout: time.Minute},
		},
		"when a kind is defined twice": {
			{Kind: "sieve", Image: "registry.example.com/sieve:1.0", Timeout: time.Minute},
			{Kind: "sieve", Image: "registry.example.com/sieve:2.0", Timeout: time.Minute},
		},
		"when an image reference is broken": {
			{Kind: "sieve", Image: "UPPER CASE!!/is not image", Timeout: time.Minute},
		},
		"when a timeout is missing": {
			{Kind: "sieve", Image: "registry.example.com/sieve:1.0"},
		},
	} {
		t.Run("it rejects the configuration "+name, func(t *testing.T) {
			if _, err := workload.New(defs); err == nil {
				t.Error("New did not fail")
			}
		})
	}
}

func TestBuilder(t *testing.T) {
	t.Run("it builds a pod spec for a launch", func(t *testing.T) {
		def := domain.WorkloadDefinition{
			Kind:  "sieve",
			Image: "registry.example.com/sieve:1.0",
			Resources: map[string]resource.Quantity{
				"cpu":    resource.MustParse("500m"),
				"memory": resource.MustParse("128Mi"),
			},
			Timeout: 5 * time.Minute,
		}
		testee := workload.Of("instance-1", def, map[string]string{
			"N": "100", "ALGO": "eratosthenes",
		})

		if testee.Instance() != "podgen-worker-instance-1" {
			t.Errorf("pod name: got %s", testee.Instance())
		}

		pod := testee.Build("podgen-testing")

		if pod.ObjectMeta.Name != "podgen-worker-instance-1" {
			t.Errorf("pod name: got %s", pod.ObjectMeta.Name)
		}
		if pod.ObjectMeta.Namespace != "podgen-testing" {
			t.Errorf("namespace: got %s", pod.ObjectMeta.Namespace)
		}
		if !cmp.MapEq(pod.ObjectMeta.Labels, map[string]string{
			"app.kubernetes.io/managed-by": "podgen",
			"app.kubernetes.io/component":  "worker",
			"app.kubernetes.io/instance":   "podgen-worker-instance-1",
			"podgen/kind":                  "sieve",
			"podgen/instance-id":           "instance-1",
		}) {
			t.Errorf("labels: got %v", pod.ObjectMeta.Labels)
		}

		if pod.Spec.RestartPolicy != kubecore.RestartPolicyNever {
			t.Errorf("restart policy: got %s", pod.Spec.RestartPolicy)
		}
		if pod.Spec.AutomountServiceAccountToken == nil || *pod.Spec.AutomountServiceAccountToken {
			t.Error("service account token should not be mounted")
		}

		if len(pod.Spec.Containers) != 1 {
			t.Fatalf("containers: got %d, want 1", len(pod.Spec.Containers))
		}
		container := pod.Spec.Containers[0]
		if container.Name != "main" {
			t.Errorf("container name: got %s", container.Name)
		}
		if container.Image != def.Image {
			t.Errorf("image: got %s", container.Image)
		}

		// params become env vars, sorted by name
		if !cmp.SliceEq(container.Env, []kubecore.EnvVar{
			{Name: "ALGO", Value: "eratosthenes"},
			{Name: "N", Value: "100"},
		}) {
			t.Errorf("env: got %v", container.Env)
		}

		if cpu, ok := container.Resources.Limits[kubecore.ResourceCPU]; !ok || !cpu.Equal(resource.MustParse("500m")) {
			t.Errorf("cpu limit: got %v", container.Resources.Limits)
		}
		if mem, ok := container.Resources.Limits[kubecore.ResourceMemory]; !ok || !mem.Equal(resource.MustParse("128Mi")) {
			t.Errorf("memory limit: got %v", container.Resources.Limits)
		}
	})

	t.Run("the managed-pods selector matches the labels it puts", func(t *testing.T) {
		def := domain.WorkloadDefinition{
			Kind: "sieve", Image: "registry.example.com/sieve:1.0", Timeout: time.Minute,
		}
		pod := workload.Of("instance-1", def, nil).Build("podgen-testing")

		for label, matcher := range workload.ManagedPods() {
			value, ok := pod.ObjectMeta.Labels[label]
			if !ok {
				t.Errorf("pod has no label %s", label)
				continue
			}
			if !matcher.Equal(cluster.Eq(value)) {
				t.Errorf("label %s = %s does not match the selector", label, value)
			}
		}
	})
}
