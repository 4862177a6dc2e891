package domain

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Status of a tracked Instance.
type Status string

const (
	// identity allocated, platform pod not yet requested.
	Pending Status = "Pending"

	// pod creation submitted, awaiting confirmation from the platform.
	Provisioning Status = "Provisioning"

	// the platform reports the pod running.
	Running Status = "Running"

	// terminal: workload finished and its result has been recorded.
	Succeeded Status = "Succeeded"

	// terminal: workload failed, timed out, was canceled,
	// or the platform rejected it. Exit carries the cause.
	Failed Status = "Failed"

	// terminal-terminal: the platform pod has been deleted.
	// The record is retained for a bounded window, then purged.
	Reclaimed Status = "Reclaimed"
)

func AsStatus(s string) (Status, error) {
	switch Status(s) {
	case Pending, Provisioning, Running, Succeeded, Failed, Reclaimed:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown instance status: %s", s)
	}
}

// Terminal: true for Succeeded, Failed and Reclaimed.
func (s Status) Terminal() bool {
	switch s {
	case Succeeded, Failed, Reclaimed:
		return true
	default:
		return false
	}
}

// CanAdvanceTo: true if `s -> next` is a legal transition.
//
// Transitions are monotonic. A status observation older than the
// current record is always an illegal transition, so stale platform
// reports can never roll an instance back.
func (s Status) CanAdvanceTo(next Status) bool {
	switch s {
	case Pending:
		return next == Provisioning || next == Failed
	case Provisioning:
		// a short-lived pod can be found already finished at first poll.
		return next == Running || next == Succeeded || next == Failed
	case Running:
		return next == Succeeded || next == Failed
	case Succeeded, Failed:
		return next == Reclaimed
	default: // Reclaimed
		return false
	}
}

// Cause of a Failed transition.
type Cause string

const (
	// the instance stayed non-terminal past its timeout.
	CauseTimeout Cause = "Timeout"

	// transient platform errors exhausted the retry budget.
	CausePlatformUnavailable Cause = "PlatformUnavailable"

	// the platform rejected the pod spec. Not retried.
	CauseSchedulingError Cause = "SchedulingError"

	// a caller canceled the instance.
	CauseCancelled Cause = "Cancelled"

	// the platform reported the pod Failed.
	CausePodFailed Cause = "PodFailed"

	// the pod disappeared before reaching a terminal phase.
	CausePodLost Cause = "PodLost"
)

// Exit records why an instance reached Failed.
type Exit struct {
	Cause   Cause
	Message string
}

func (e *Exit) Equal(o *Exit) bool {
	if e == nil || o == nil {
		return e == nil && o == nil
	}
	return e.Cause == o.Cause && e.Message == o.Message
}

// Instance is one tracked request to run a workload as a pod.
//
// The record is owned by the instance Tracker; everyone else works on
// value snapshots of it.
type Instance struct {
	// opaque unique identity, generated at launch, never reused.
	Id string

	// registered workload kind.
	Kind string

	// resolved image reference.
	Image string

	Status Status

	// name of the underlying platform pod. Set when provisioning starts.
	PodName string

	CreatedAt time.Time

	// timestamp of the last status transition.
	UpdatedAt time.Time

	// set if and only if the instance has passed through Failed.
	Exit *Exit

	// workload output, recorded at Succeeded.
	Result []byte
}

func (i Instance) Equal(o Instance) bool {
	return i.Id == o.Id &&
		i.Kind == o.Kind &&
		i.Image == o.Image &&
		i.Status == o.Status &&
		i.PodName == o.PodName &&
		i.CreatedAt.Equal(o.CreatedAt) &&
		i.UpdatedAt.Equal(o.UpdatedAt) &&
		i.Exit.Equal(o.Exit) &&
		string(i.Result) == string(o.Result)
}

// WorkloadDefinition maps a workload kind to the pod it should run as.
//
// Immutable after the registry is built.
type WorkloadDefinition struct {
	Kind string

	// image reference, registry base path already applied.
	Image string

	// resource limits of the main container, keyed "cpu"/"memory".
	Resources map[string]resource.Quantity

	// default supervision timeout for this kind.
	Timeout time.Duration
}

// LaunchRequest asks the dispatcher to run one instance of a workload.
//
// Transient: consumed at launch, discarded after producing an Instance.
type LaunchRequest struct {
	Kind string

	// forwarded to the pod as environment variables.
	Params map[string]string

	// overrides the workload's default timeout when set.
	Timeout *time.Duration
}
