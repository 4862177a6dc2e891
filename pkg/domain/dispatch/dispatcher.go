// Dispatcher: accepts launch requests, provisions workload pods,
// supervises them to a terminal state and reclaims them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sievelab/podgen/pkg/domain"
	kerr "github.com/sievelab/podgen/pkg/domain/errors"
	k8serrors "github.com/sievelab/podgen/pkg/domain/errors/k8serrors"
	"github.com/sievelab/podgen/pkg/domain/instance"
	"github.com/sievelab/podgen/pkg/domain/k8s/cluster"
	"github.com/sievelab/podgen/pkg/domain/workload"
	"github.com/sievelab/podgen/pkg/utils/loop"
	"github.com/sievelab/podgen/pkg/utils/retry"
)

// Interface is the dispatcher surface the request interface depends on.
type Interface interface {
	// Launch allocates an instance for the request and starts
	// supervising it. It returns the instance id immediately;
	// callers poll Status/Result for completion.
	//
	// # Errors
	//
	// - kerr.ErrUnknownWorkload : the kind is not registered.
	//
	// - kerr.ErrLimitExceeded : the concurrency ceiling is reached.
	Launch(ctx context.Context, req domain.LaunchRequest) (string, error)

	// Status returns a snapshot of an instance.
	//
	// Fails with kerr.ErrMissing for unknown or purged ids.
	Status(id string) (domain.Instance, error)

	// Result returns a snapshot of a terminal instance, carrying
	// its payload (Succeeded) or its exit detail (Failed).
	//
	// Fails with kerr.ErrNotReady before a terminal state,
	// kerr.ErrMissing for unknown ids.
	Result(id string) (domain.Instance, error)

	// Cancel forces a non-terminal instance to Failed and triggers
	// the standard reclaim path. Canceling a terminal instance is
	// a no-op. Fails with kerr.ErrMissing for unknown ids.
	Cancel(id string) error
}

// causes threaded through the supervision context.
var (
	errTimeout   = errors.New("instance timed out")
	errCancelled = errors.New("instance canceled by caller")
	errShutdown  = errors.New("orchestrator is shutting down")
)

type Config struct {
	// ceiling of simultaneously non-terminal instances.
	MaxConcurrent int

	// interval between platform status observations.
	PollInterval time.Duration

	// first wait of the exponential backoff for transient platform errors.
	InitialBackoff time.Duration

	// attempt ceiling of that backoff.
	MaxAttempts int

	// how long Reclaimed records are kept before purge.
	Retention time.Duration

	// interval of the purge loop.
	PurgeInterval time.Duration

	// startup reconciliation: managed pods older than this are deleted.
	MaxPodAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Retention <= 0 {
		c.Retention = 1 * time.Hour
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = 1 * time.Minute
	}
	if c.MaxPodAge <= 0 {
		c.MaxPodAge = 2 * time.Hour
	}
	return c
}

type Dispatcher struct {
	kluster  cluster.Cluster
	registry workload.Registry
	tracker  *instance.Tracker
	conf     Config

	newId  func() string
	logger *log.Logger

	// concurrency ceiling. acquired at Launch,
	// released when the supervision task ends.
	slots chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc

	wg sync.WaitGroup
}

var _ Interface = &Dispatcher{}

type Option func(*Dispatcher)

func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithIdGenerator replaces the instance id source. For tests.
func WithIdGenerator(newId func() string) Option {
	return func(d *Dispatcher) {
		d.newId = newId
	}
}

// WithTracker replaces the instance table. For tests.
func WithTracker(t *instance.Tracker) Option {
	return func(d *Dispatcher) {
		d.tracker = t
	}
}

func New(kluster cluster.Cluster, registry workload.Registry, conf Config, opts ...Option) *Dispatcher {
	conf = conf.withDefaults()
	d := &Dispatcher{
		kluster:  kluster,
		registry: registry,
		tracker:  instance.NewTracker(),
		conf:     conf,
		newId:    uuid.NewString,
		logger:   log.Default(),
		slots:    make(chan struct{}, conf.MaxConcurrent),
		cancels:  map[string]context.CancelCauseFunc{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Launch(ctx context.Context, req domain.LaunchRequest) (string, error) {
	def, err := d.registry.Resolve(req.Kind)
	if err != nil {
		return "", err
	}

	select {
	case d.slots <- struct{}{}:
	default:
		return "", fmt.Errorf("%w: ceiling = %d", kerr.ErrLimitExceeded, cap(d.slots))
	}

	id := d.newId()
	registered, err := d.tracker.Register(domain.Instance{
		Id: id, Kind: def.Kind, Image: def.Image,
	})
	if err != nil {
		<-d.slots
		return "", err
	}

	timeout := def.Timeout
	if req.Timeout != nil {
		timeout = *req.Timeout
	}

	// timeout runs from the creation timestamp and stays authoritative
	// over an unresponsive platform.
	sctx, cancel := context.WithCancelCause(context.Background())
	sctx, expire := context.WithDeadlineCause(
		sctx, registered.CreatedAt.Add(timeout), errTimeout,
	)

	d.mu.Lock()
	d.cancels[id] = cancel
	d.mu.Unlock()

	builder := workload.Of(id, def, req.Params)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()
		defer func() {
			d.mu.Lock()
			delete(d.cancels, id)
			d.mu.Unlock()
		}()
		defer expire()
		defer cancel(nil)

		d.supervise(sctx, id, builder)
	}()

	return id, nil
}

func (d *Dispatcher) Status(id string) (domain.Instance, error) {
	return d.tracker.Get(id)
}

func (d *Dispatcher) Result(id string) (domain.Instance, error) {
	i, err := d.tracker.Get(id)
	if err != nil {
		return domain.Instance{}, err
	}
	if !i.Status.Terminal() {
		return domain.Instance{}, fmt.Errorf("%w: %s is %s", kerr.ErrNotReady, id, i.Status)
	}
	return i, nil
}

func (d *Dispatcher) Cancel(id string) error {
	if _, err := d.tracker.Get(id); err != nil {
		return err
	}

	d.mu.Lock()
	cancel, ok := d.cancels[id]
	d.mu.Unlock()

	// no cancel func = no supervision task = terminal already. no-op.
	if ok {
		cancel(errCancelled)
	}
	return nil
}

// Shutdown cancels every in-flight supervision task and waits for them
// to reclaim their pods.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	for _, cancel := range d.cancels {
		cancel(errShutdown)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Wait blocks until all running supervision tasks have ended.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) backoff() retry.Backoff {
	return retry.MaxAttempts(
		retry.ExponentialBackoff(d.conf.InitialBackoff, 2),
		d.conf.MaxAttempts,
	)
}

// supervise drives one instance from Provisioning to Reclaimed.
//
// Only this task mutates the instance record (cancellation routes
// through the context), so its transitions are strictly ordered.
func (d *Dispatcher) supervise(ctx context.Context, id string, builder workload.Builder) {
	podName := builder.Instance()
	defer d.reclaim(id, podName)

	if _, err := d.tracker.Transition(id, domain.Provisioning, func(i *domain.Instance) {
		i.PodName = podName
	}); err != nil {
		d.logger.Printf("instance %s: %v", id, err)
		return
	}

	spec := builder.Build(d.kluster.Namespace())

	var lastErr error
	if _, err := retry.Blocking(ctx, d.backoff(), func() (string, error) {
		name, err := d.kluster.Spawn(ctx, spec)
		if err != nil {
			lastErr = err
			if k8serrors.AsUnavailable(err) {
				return "", retry.ErrRetry
			}
			return "", err
		}
		return name, nil
	}); err != nil {
		switch {
		case k8serrors.AsConflict(err):
			// the pod name derives from the unique instance id, so an
			// existing pod with this name is ours from an earlier
			// attempt. fall through and watch it.
		case k8serrors.AsRejected(err):
			d.fail(id, domain.CauseSchedulingError, err.Error())
			return
		case errors.Is(err, retry.ErrExhausted):
			d.fail(id, domain.CausePlatformUnavailable, fmt.Sprintf(
				"create retries exhausted: %v", lastErr,
			))
			return
		case ctx.Err() != nil:
			d.failFromContext(ctx, id)
			return
		default:
			d.fail(id, domain.CausePlatformUnavailable, err.Error())
			return
		}
	}

	type pollState struct {
		transientFailures int
	}

	if _, err := loop.Start(ctx, pollState{}, func(ctx context.Context, s pollState) (pollState, loop.Next) {
		phase, err := d.kluster.Phase(ctx, podName)
		if err != nil {
			if ctx.Err() != nil {
				return s, loop.Break(ctx.Err())
			}
			if k8serrors.AsMissingError(err) {
				d.fail(id, domain.CausePodLost, err.Error())
				return s, loop.Break(nil)
			}
			s.transientFailures += 1
			if d.conf.MaxAttempts <= s.transientFailures {
				d.fail(id, domain.CausePlatformUnavailable, fmt.Sprintf(
					"status retries exhausted: %v", err,
				))
				return s, loop.Break(nil)
			}
			return s, loop.Continue(d.conf.PollInterval)
		}
		s.transientFailures = 0

		switch phase {
		case cluster.PhaseRunning:
			if _, err := d.tracker.Transition(id, domain.Running); err != nil &&
				!errors.Is(err, kerr.ErrInvalidStateChange) {
				d.logger.Printf("instance %s: %v", id, err)
			}
			return s, loop.Continue(d.conf.PollInterval)

		case cluster.PhaseSucceeded:
			payload := d.fetchResult(ctx, id, podName)
			if _, err := d.tracker.Transition(id, domain.Succeeded, func(i *domain.Instance) {
				i.Result = payload
			}); err != nil {
				d.logger.Printf("instance %s: %v", id, err)
			}
			return s, loop.Break(nil)

		case cluster.PhaseFailed:
			d.fail(id, domain.CausePodFailed, "platform reported the pod Failed")
			return s, loop.Break(nil)

		default: // Pending, Unknown: keep watching
			return s, loop.Continue(d.conf.PollInterval)
		}
	}); err != nil {
		d.failFromContext(ctx, id)
	}
}

// fetchResult reads the output of the finished workload.
//
// Best effort: a succeeded instance with unreadable logs stays
// Succeeded, with an empty payload.
func (d *Dispatcher) fetchResult(ctx context.Context, id string, podName string) []byte {
	payload, err := retry.Blocking(ctx, d.backoff(), func() ([]byte, error) {
		stream, err := d.kluster.Log(ctx, podName)
		if err != nil {
			if k8serrors.AsUnavailable(err) {
				return nil, retry.ErrRetry
			}
			return nil, err
		}
		defer stream.Close()
		return io.ReadAll(stream)
	})
	if err != nil {
		d.logger.Printf("instance %s: could not fetch result of pod %s: %v", id, podName, err)
		return nil
	}
	return payload
}

func (d *Dispatcher) fail(id string, cause domain.Cause, message string) {
	if _, err := d.tracker.Transition(id, domain.Failed, func(i *domain.Instance) {
		i.Exit = &domain.Exit{Cause: cause, Message: message}
	}); err != nil && !errors.Is(err, kerr.ErrInvalidStateChange) {
		d.logger.Printf("instance %s: %v", id, err)
	}
}

func (d *Dispatcher) failFromContext(ctx context.Context, id string) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errTimeout):
		d.fail(id, domain.CauseTimeout, "instance stayed non-terminal past its timeout")
	case errors.Is(cause, errCancelled):
		d.fail(id, domain.CauseCancelled, "canceled by caller")
	case errors.Is(cause, errShutdown):
		d.fail(id, domain.CauseCancelled, errShutdown.Error())
	default:
		d.fail(id, domain.CauseCancelled, fmt.Sprintf("supervision stopped: %v", cause))
	}
}

// reclaim deletes the platform pod and marks the instance Reclaimed.
//
// Runs exactly once per instance, whatever ended the supervision, on a
// fresh context: the pod must go even though the supervision context
// is already dead.
func (d *Dispatcher) reclaim(id string, podName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := retry.Blocking(ctx, d.backoff(), func() (struct{}, error) {
		if err := d.kluster.Remove(ctx, podName); err != nil {
			return struct{}{}, retry.ErrRetry
		}
		return struct{}{}, nil
	}); err != nil {
		d.logger.Printf("instance %s: could not delete pod %s: %v", id, podName, err)
	}

	if _, err := d.tracker.Transition(id, domain.Reclaimed); err != nil {
		d.logger.Printf("instance %s: %v", id, err)
	}
}

// Reconcile sweeps pods left behind by an earlier process.
//
// Pods carrying this orchestrator's labels, not owned by a live
// instance, and older than MaxPodAge are deleted.
func (d *Dispatcher) Reconcile(ctx context.Context) error {
	pods, err := d.kluster.FindPods(ctx, workload.ManagedPods())
	if err != nil {
		return err
	}

	live := map[string]bool{}
	for _, i := range d.tracker.Find() {
		if !i.Status.Terminal() {
			live[i.Id] = true
		}
	}

	cutoff := time.Now().Add(-d.conf.MaxPodAge)
	var errs []error
	for _, p := range pods {
		if p.CreationTimestamp.Time.After(cutoff) {
			continue
		}
		if live[p.Labels[workload.LabelInstanceId]] {
			continue
		}
		d.logger.Printf("reconcile: deleting stray pod %s", p.Name)
		if err := d.kluster.Remove(ctx, p.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunPurge drops Reclaimed records past the retention window, every
// PurgeInterval, until the context is done.
func (d *Dispatcher) RunPurge(ctx context.Context) error {
	_, err := loop.Start(ctx, 0, func(_ context.Context, total int) (int, loop.Next) {
		n := d.tracker.Purge(time.Now().Add(-d.conf.Retention))
		if 0 < n {
			d.logger.Printf("purged %d reclaimed instance records", n)
		}
		return total + n, loop.Continue(d.conf.PurgeInterval)
	})
	return err
}
