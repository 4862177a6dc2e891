package main

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	handlers "github.com/sievelab/podgen/cmd/podgend/handlers"
	"github.com/sievelab/podgen/pkg/domain/dispatch"
	"github.com/sievelab/podgen/pkg/utils/echoutil"
)

func api(subpath string) string {
	if !strings.HasSuffix(subpath, "/") {
		subpath += "/"
	}
	return fmt.Sprintf("/%s", subpath)
}

func BuildServer(iDispatch dispatch.Interface, loglevel string) *echo.Echo {

	e := echo.New()
	echoutil.SetLevel(e, loglevel)

	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		e.DefaultHTTPErrorHandler(err, ctx)
		e.Logger.Error(err)
	}

	e.Pre(middleware.AddTrailingSlash())

	// logging for server-side latency.
	e.Use(echoutil.LogHandlerFunc)

	e.POST(api("instances"), handlers.LaunchInstanceHandler(iDispatch))

	e.GET(api("instances/:instanceId"), handlers.GetInstanceHandler(
		iDispatch, "instanceId",
	))

	e.GET(api("instances/:instanceId/result"), handlers.GetInstanceResultHandler(
		iDispatch, "instanceId",
	))

	e.DELETE(api("instances/:instanceId"), handlers.AbortInstanceHandler(
		iDispatch, "instanceId",
	))

	return e
}
