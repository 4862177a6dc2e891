package daemon

import (
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

type Marshalled[S any] interface {
	trySeal(string) S
}

// seal marshalled object.
//
// this function CAN CAUSE PANIC if misconfiguration is found.
//
// All types named `pkg/configs/daemon.XxxMarshall` are `Marshalled[*Xxx]` .
func TrySeal[S any](conf Marshalled[S]) S {
	return conf.trySeal("(root)")
}

type DaemonConfigMarshall struct {
	Port     int32                     `yaml:"port,omitempty"`
	Cluster  *ClusterConfigMarshall    `yaml:"cluster"`
	Dispatch *DispatchConfigMarshall   `yaml:"dispatch,omitempty"`
	Workload []*WorkloadConfigMarshall `yaml:"workloads"`
}

var _ Marshalled[*DaemonConfig] = &DaemonConfigMarshall{}

func (d *DaemonConfigMarshall) trySeal(path string) *DaemonConfig {
	port := d.Port
	if port == 0 {
		port = 8080
	}

	if len(d.Workload) == 0 {
		panic(path + ".workloads is required")
	}
	workload := make([]*WorkloadConfig, 0, len(d.Workload))
	for n, w := range d.Workload {
		workload = append(workload, w.trySeal(fmt.Sprintf("%s.workloads[%d]", path, n)))
	}

	dispatch := d.Dispatch
	if dispatch == nil {
		dispatch = &DispatchConfigMarshall{}
	}

	return &DaemonConfig{
		port:     port,
		cluster:  nonnil(d.Cluster, path+".cluster").trySeal(path + ".cluster"),
		dispatch: dispatch.trySeal(path + ".dispatch"),
		workload: workload,
	}
}

// Configuration of the orchestration platform.
//
// This type is marshalling value and mutable.
// Consider to use immutable version, `ClusterConfig`.
// You can get `ClusterConfig` instance with `TrySeal()`.
type ClusterConfigMarshall struct {
	Namespace string `yaml:"namespace"`
}

func (c *ClusterConfigMarshall) trySeal(path string) *ClusterConfig {
	return &ClusterConfig{
		namespace: required(c.Namespace, path+".namespace"),
	}
}

type DispatchConfigMarshall struct {
	MaxConcurrent  int    `yaml:"maxConcurrent,omitempty"`
	PollInterval   string `yaml:"pollInterval,omitempty"`
	InitialBackoff string `yaml:"initialBackoff,omitempty"`
	MaxAttempts    int    `yaml:"maxAttempts,omitempty"`
	Retention      string `yaml:"retention,omitempty"`
	PurgeInterval  string `yaml:"purgeInterval,omitempty"`
	MaxPodAge      string `yaml:"maxPodAge,omitempty"`
}

func (d *DispatchConfigMarshall) trySeal(path string) *DispatchConfig {
	return &DispatchConfig{
		maxConcurrent:  positive(d.MaxConcurrent, 10, path+".maxConcurrent"),
		pollInterval:   duration(d.PollInterval, 3*time.Second, path+".pollInterval"),
		initialBackoff: duration(d.InitialBackoff, 500*time.Millisecond, path+".initialBackoff"),
		maxAttempts:    positive(d.MaxAttempts, 5, path+".maxAttempts"),
		retention:      duration(d.Retention, 1*time.Hour, path+".retention"),
		purgeInterval:  duration(d.PurgeInterval, 1*time.Minute, path+".purgeInterval"),
		maxPodAge:      duration(d.MaxPodAge, 2*time.Hour, path+".maxPodAge"),
	}
}

type WorkloadConfigMarshall struct {
	Kind      string            `yaml:"kind"`
	Image     string            `yaml:"image"`
	Timeout   string            `yaml:"timeout"`
	Resources map[string]string `yaml:"resources,omitempty"`
}

func (w *WorkloadConfigMarshall) trySeal(path string) *WorkloadConfig {
	resources := map[string]resource.Quantity{}
	for typ, quantity := range w.Resources {
		q, err := resource.ParseQuantity(quantity)
		if err != nil {
			panic(fmt.Errorf("%s.resources.%s can not be parsed: %w", path, typ, err))
		}
		resources[typ] = q
	}

	return &WorkloadConfig{
		kind:      required(w.Kind, path+".kind"),
		image:     required(w.Image, path+".image"),
		timeout:   duration(w.Timeout, 0, path+".timeout"),
		resources: resources,
	}
}

// ApplyEnvOverrides rewrites workload image references from the environment:
//
//   - `<KIND>_IMAGE` (kind uppercased, non-alphanumerics as "_")
//     replaces the image of that kind;
//   - `CONTAINER_REGISTRY_BASE_PATH` is prepended to image references
//     which do not name a registry.
//
// Call before TrySeal; getenv is os.Getenv outside of tests.
func (d *DaemonConfigMarshall) ApplyEnvOverrides(getenv func(string) string) {
	base := getenv("CONTAINER_REGISTRY_BASE_PATH")
	for _, w := range d.Workload {
		if w == nil {
			continue
		}
		if img := getenv(imageEnvName(w.Kind)); img != "" {
			w.Image = img
		}
		w.Image = qualifyImage(base, w.Image)
	}
}

func imageEnvName(kind string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
			return r
		default:
			return '_'
		}
	}, kind)
	return strings.ToUpper(mapped) + "_IMAGE"
}

// qualifyImage prepends base to image references without a registry
// host. The first path segment is taken as a host when it looks like
// one (contains "." or ":", or is "localhost"), same as the container
// runtime does.
func qualifyImage(base string, image string) string {
	if base == "" {
		return image
	}
	head, _, found := strings.Cut(image, "/")
	if found && (strings.ContainsAny(head, ".:") || head == "localhost") {
		return image
	}
	return strings.TrimSuffix(base, "/") + "/" + image
}

func nonnil[T any](v *T, path string) *T {
	if v == nil {
		panic(path + " is required")
	}
	return v
}

func required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}

func positive(v int, fallback int, path string) int {
	if v == 0 {
		return fallback
	}
	if v < 0 {
		panic(path + " should be positive")
	}
	return v
}

func duration(v string, fallback time.Duration, path string) time.Duration {
	if v == "" {
		if fallback <= 0 {
			panic(path + " is required")
		}
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Errorf("%s can not be parsed as duration: %w", path, err))
	}
	if d <= 0 {
		panic(path + " should be positive")
	}
	return d
}
