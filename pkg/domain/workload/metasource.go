package workload

import (
	"sort"

	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/sievelab/podgen/pkg/domain"
	"github.com/sievelab/podgen/pkg/domain/k8s/cluster"
	"github.com/sievelab/podgen/pkg/utils/pointer"
)

// labels put on every pod this orchestrator creates.
//
// https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
const (
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelComponent = "app.kubernetes.io/component"
	LabelInstance  = "app.kubernetes.io/instance"

	LabelKind       = "podgen/kind"
	LabelInstanceId = "podgen/instance-id"

	ManagedByValue = "podgen"
	ComponentValue = "worker"
)

// ManagedPods selects every pod created by this orchestrator.
func ManagedPods() cluster.LabelSelector {
	return cluster.LabelSelector{
		LabelManagedBy: cluster.Eq(ManagedByValue),
		LabelComponent: cluster.Eq(ComponentValue),
	}
}

// Builder builds the k8s pod spec for one launch.
type Builder struct {
	id     string
	def    domain.WorkloadDefinition
	params map[string]string
}

func Of(instanceId string, def domain.WorkloadDefinition, params map[string]string) Builder {
	return Builder{id: instanceId, def: def, params: params}
}

func (b Builder) Id() string {
	return b.id
}

func (b Builder) Kind() string {
	return b.def.Kind
}

// Instance is the pod name: unique per launch.
func (b Builder) Instance() string {
	return "podgen-worker-" + b.id
}

func (b Builder) ObjectMeta(namespace string) kubeapimeta.ObjectMeta {
	return kubeapimeta.ObjectMeta{
		Name:      b.Instance(),
		Namespace: namespace,
		Labels: map[string]string{
			LabelManagedBy:  ManagedByValue,
			LabelComponent:  ComponentValue,
			LabelInstance:   b.Instance(),
			LabelKind:       b.def.Kind,
			LabelInstanceId: b.id,
		},
	}
}

// Build the pod spec.
//
// Launch params become environment variables of the main container,
// in stable (sorted) order.
func (b Builder) Build(namespace string) *kubecore.Pod {
	envNames := make([]string, 0, len(b.params))
	for k := range b.params {
		envNames = append(envNames, k)
	}
	sort.Strings(envNames)

	env := make([]kubecore.EnvVar, 0, len(envNames))
	for _, k := range envNames {
		env = append(env, kubecore.EnvVar{Name: k, Value: b.params[k]})
	}

	limits := kubecore.ResourceList{}
	for k, v := range b.def.Resources {
		limits[kubecore.ResourceName(k)] = v.DeepCopy()
	}

	return &kubecore.Pod{
		ObjectMeta: b.ObjectMeta(namespace),
		Spec: kubecore.PodSpec{
			RestartPolicy:                kubecore.RestartPolicyNever,
			AutomountServiceAccountToken: pointer.Ref(false),
			Containers: []kubecore.Container{
				{
					Name:  cluster.MainContainerName,
					Image: b.def.Image,
					Env:   env,
					Resources: kubecore.ResourceRequirements{
						Limits: limits,
					},
				},
			},
		},
	}
}
