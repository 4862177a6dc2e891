package mock

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sievelab/podgen/pkg/domain"
	"github.com/sievelab/podgen/pkg/domain/dispatch"
)

type CallLog struct {
	Launch atomic.Uint64
	Status atomic.Uint64
	Result atomic.Uint64
	Cancel atomic.Uint64
}

// Dispatcher is a hand-made mock of dispatch.Interface.
//
// Set the Impl fields you expect to be called. Methods without an
// implementation fail with an error telling so.
type Dispatcher struct {
	Impl struct {
		Launch func(ctx context.Context, req domain.LaunchRequest) (string, error)
		Status func(id string) (domain.Instance, error)
		Result func(id string) (domain.Instance, error)
		Cancel func(id string) error
	}
	Called CallLog
}

var _ dispatch.Interface = &Dispatcher{}

func New() *Dispatcher {
	return &Dispatcher{}
}

func (m *Dispatcher) Launch(ctx context.Context, req domain.LaunchRequest) (string, error) {
	m.Called.Launch.Add(1)
	if m.Impl.Launch == nil {
		return "", errors.New("mock dispatcher: Launch is not implemented")
	}
	return m.Impl.Launch(ctx, req)
}

func (m *Dispatcher) Status(id string) (domain.Instance, error) {
	m.Called.Status.Add(1)
	if m.Impl.Status == nil {
		return domain.Instance{}, errors.New("mock dispatcher: Status is not implemented")
	}
	return m.Impl.Status(id)
}

func (m *Dispatcher) Result(id string) (domain.Instance, error) {
	m.Called.Result.Add(1)
	if m.Impl.Result == nil {
		return domain.Instance{}, errors.New("mock dispatcher: Result is not implemented")
	}
	return m.Impl.Result(id)
}

func (m *Dispatcher) Cancel(id string) error {
	m.Called.Cancel.Add(1)
	if m.Impl.Cancel == nil {
		return errors.New("mock dispatcher: Cancel is not implemented")
	}
	return m.Impl.Cancel(id)
}
