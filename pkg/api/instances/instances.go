// JSON types of the instance API.
package instances

import (
	"github.com/sievelab/podgen/pkg/domain"
	"github.com/sievelab/podgen/pkg/utils/rfctime"
)

// LaunchRequest is the body of POST /instances.
type LaunchRequest struct {
	Kind   string            `json:"kind"`
	Params map[string]string `json:"params,omitempty"`

	// Go duration format, e.g. "5m".
	Timeout string `json:"timeout,omitempty"`
}

// Created is the 202 response of POST /instances.
type Created struct {
	InstanceId string `json:"instanceId"`
}

type Exit struct {
	Cause   string `json:"cause"`
	Message string `json:"message,omitempty"`
}

func (e *Exit) Equal(o *Exit) bool {
	if e == nil || o == nil {
		return e == nil && o == nil
	}
	return e.Cause == o.Cause && e.Message == o.Message
}

// Detail is the response of GET /instances/{id}.
type Detail struct {
	InstanceId string          `json:"instanceId"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	PodName    string          `json:"podName,omitempty"`
	CreatedAt  rfctime.RFC3339 `json:"createdAt"`
	UpdatedAt  rfctime.RFC3339 `json:"updatedAt"`
	Exit       *Exit           `json:"exit,omitempty"`
}

func (d Detail) Equal(o Detail) bool {
	return d.InstanceId == o.InstanceId &&
		d.Kind == o.Kind &&
		d.Status == o.Status &&
		d.PodName == o.PodName &&
		d.CreatedAt.Equal(o.CreatedAt) &&
		d.UpdatedAt.Equal(o.UpdatedAt) &&
		d.Exit.Equal(o.Exit)
}

// Result is the response of GET /instances/{id}/result.
//
// For a Succeeded instance, Payload carries the workload output.
// For a Failed one, Payload is empty and Exit carries the recorded cause.
type Result struct {
	InstanceId string `json:"instanceId"`
	Payload    string `json:"payload"`
	Exit       *Exit  `json:"exit,omitempty"`
}

func (r Result) Equal(o Result) bool {
	return r.InstanceId == o.InstanceId &&
		r.Payload == o.Payload &&
		r.Exit.Equal(o.Exit)
}

func composeExit(e *domain.Exit) *Exit {
	if e == nil {
		return nil
	}
	return &Exit{Cause: string(e.Cause), Message: e.Message}
}

func ComposeDetail(i domain.Instance) Detail {
	return Detail{
		InstanceId: i.Id,
		Kind:       i.Kind,
		Status:     string(i.Status),
		PodName:    i.PodName,
		CreatedAt:  rfctime.New(i.CreatedAt),
		UpdatedAt:  rfctime.New(i.UpdatedAt),
		Exit:       composeExit(i.Exit),
	}
}

func ComposeResult(i domain.Instance) Result {
	return Result{
		InstanceId: i.Id,
		Payload:    string(i.Result),
		Exit:       composeExit(i.Exit),
	}
}
