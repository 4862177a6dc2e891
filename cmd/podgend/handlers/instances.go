package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apierr "github.com/sievelab/podgen/pkg/api/errors"
	apiinstances "github.com/sievelab/podgen/pkg/api/instances"
	"github.com/sievelab/podgen/pkg/domain"
	"github.com/sievelab/podgen/pkg/domain/dispatch"
	kerr "github.com/sievelab/podgen/pkg/domain/errors"
)

// LaunchInstanceHandler handles POST /instances.
//
// It accepts a launch request and answers 202 with the new instance id.
// The instance itself proceeds in the background; clients poll
// GET /instances/{id} for progress.
func LaunchInstanceHandler(iDispatch dispatch.Interface) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		req := apiinstances.LaunchRequest{}
		if err := c.Bind(&req); err != nil {
			return apierr.BadRequest("can not understand the request body", err)
		}
		if req.Kind == "" {
			return apierr.BadRequest(`"kind" is required`, nil)
		}

		var timeout *time.Duration
		if req.Timeout != "" {
			d, err := time.ParseDuration(req.Timeout)
			if err != nil || d <= 0 {
				return apierr.BadRequest(`"timeout" should be a positive duration, like "5m"`, err)
			}
			timeout = &d
		}

		id, err := iDispatch.Launch(ctx, domain.LaunchRequest{
			Kind:    req.Kind,
			Params:  req.Params,
			Timeout: timeout,
		})
		if err != nil {
			if errors.Is(err, kerr.ErrUnknownWorkload) {
				return apierr.BadRequest("no such workload kind is registered", err)
			}
			if errors.Is(err, kerr.ErrLimitExceeded) {
				return apierr.TooManyRequests("too many instances are in flight. retry later", err)
			}
			return apierr.InternalServerError(err)
		}

		return c.JSON(http.StatusAccepted, apiinstances.Created{InstanceId: id})
	}
}

// GetInstanceHandler handles GET /instances/{instanceId}.
func GetInstanceHandler(iDispatch dispatch.Interface, instanceIdKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		instanceId := c.Param(instanceIdKey)

		i, err := iDispatch.Status(instanceId)
		if err != nil {
			if errors.Is(err, kerr.ErrMissing) {
				return apierr.NotFound()
			}
			return apierr.InternalServerError(err)
		}

		return c.JSON(http.StatusOK, apiinstances.ComposeDetail(i))
	}
}

// GetInstanceResultHandler handles GET /instances/{instanceId}/result.
//
// 200 carries the workload output (or the failure detail);
// 409 tells the instance has not reached a terminal state yet.
func GetInstanceResultHandler(iDispatch dispatch.Interface, instanceIdKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		instanceId := c.Param(instanceIdKey)

		i, err := iDispatch.Result(instanceId)
		if err != nil {
			if errors.Is(err, kerr.ErrMissing) {
				return apierr.NotFound()
			}
			if errors.Is(err, kerr.ErrNotReady) {
				return apierr.Conflict(
					"the instance has not finished yet",
					apierr.WithAdvice("watch its status and retry after it gets terminal"),
					apierr.WithError(err),
				)
			}
			return apierr.InternalServerError(err)
		}

		return c.JSON(http.StatusOK, apiinstances.ComposeResult(i))
	}
}

// AbortInstanceHandler handles DELETE /instances/{instanceId}.
//
// It requests cancellation and answers 202 with the instance detail as
// of the request. Aborting an instance which is already terminal is a
// no-op, still 202.
func AbortInstanceHandler(iDispatch dispatch.Interface, instanceIdKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		instanceId := c.Param(instanceIdKey)

		if err := iDispatch.Cancel(instanceId); err != nil {
			if errors.Is(err, kerr.ErrMissing) {
				return apierr.NotFound()
			}
			return apierr.InternalServerError(err)
		}

		i, err := iDispatch.Status(instanceId)
		if err != nil {
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusAccepted, apiinstances.ComposeDetail(i))
	}
}
