package daemon

import (
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

type DaemonConfig struct {
	port     int32
	cluster  *ClusterConfig
	dispatch *DispatchConfig
	workload []*WorkloadConfig
}

func (c *DaemonConfig) Port() int32 {
	return c.port
}

func (c *DaemonConfig) Cluster() *ClusterConfig {
	return c.cluster
}

func (c *DaemonConfig) Dispatch() *DispatchConfig {
	return c.dispatch
}

func (c *DaemonConfig) Workload() []*WorkloadConfig {
	return c.workload
}

// Configuration for the orchestration platform.
//
// to get `ClusterConfig` instance, use `DaemonConfigMarshall.TrySeal()` .
type ClusterConfig struct {
	namespace string
}

// k8s namespace where workload pods are placed.
func (c *ClusterConfig) Namespace() string {
	return c.namespace
}

// Tuning of the launch supervision loop.
type DispatchConfig struct {
	maxConcurrent  int
	pollInterval   time.Duration
	initialBackoff time.Duration
	maxAttempts    int
	retention      time.Duration
	purgeInterval  time.Duration
	maxPodAge      time.Duration
}

// ceiling of simultaneously non-terminal instances. default = 10
func (d *DispatchConfig) MaxConcurrent() int {
	return d.maxConcurrent
}

// interval between pod status observations. default = 3s
func (d *DispatchConfig) PollInterval() time.Duration {
	return d.pollInterval
}

// first wait of the retry backoff. default = 500ms
func (d *DispatchConfig) InitialBackoff() time.Duration {
	return d.initialBackoff
}

// retry attempt ceiling. default = 5
func (d *DispatchConfig) MaxAttempts() int {
	return d.maxAttempts
}

// how long reclaimed instance records are kept. default = 1h
func (d *DispatchConfig) Retention() time.Duration {
	return d.retention
}

// interval of the record purge loop. default = 1m
func (d *DispatchConfig) PurgeInterval() time.Duration {
	return d.purgeInterval
}

// startup sweep: managed pods older than this are deleted. default = 2h
func (d *DispatchConfig) MaxPodAge() time.Duration {
	return d.maxPodAge
}

// One launchable workload kind.
type WorkloadConfig struct {
	kind      string
	image     string
	timeout   time.Duration
	resources map[string]resource.Quantity
}

func (w *WorkloadConfig) Kind() string {
	return w.kind
}

// image reference, after registry-base and env overrides.
func (w *WorkloadConfig) Image() string {
	return w.image
}

// default per-instance timeout of this kind.
func (w *WorkloadConfig) Timeout() time.Duration {
	return w.timeout
}

// resource limits of the workload container.
func (w *WorkloadConfig) Resources() map[string]resource.Quantity {
	return w.resources
}
