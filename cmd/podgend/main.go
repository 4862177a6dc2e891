package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/sievelab/podgen/pkg/buildtime"
	configs "github.com/sievelab/podgen/pkg/configs/daemon"
	"github.com/sievelab/podgen/pkg/domain"
	"github.com/sievelab/podgen/pkg/domain/dispatch"
	"github.com/sievelab/podgen/pkg/domain/k8s/cluster"
	"github.com/sievelab/podgen/pkg/domain/workload"
	"github.com/sievelab/podgen/pkg/utils/filewatch"
	"github.com/sievelab/podgen/pkg/utils/kubeutil"
	kos "github.com/sievelab/podgen/pkg/utils/os"
)

func main() {

	pconfig := flag.String(
		"config", kos.GetEnvOr("PODGEN_CONFIG", "/etc/podgen/config.yaml"),
		"path to config file",
	)
	loglevel := flag.String("loglevel", "warn", "log level. debug|info|warn|error|off")
	pversion := flag.Bool("version", false, "show version and exit")

	flag.Parse()

	if *pversion {
		fmt.Println("podgend", buildtime.VersionString())
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer cancel()

	conf, err := configs.LoadDaemonConfig(*pconfig)
	if err != nil {
		panic(err)
	}

	// restart (by the process manager) on config changes.
	{
		ctx_, ccan, err := filewatch.UntilModifyContext(ctx, *pconfig)
		if err != nil {
			panic(err)
		}
		defer ccan()
		ctx = ctx_
	}

	clientset := kubeutil.ConnectToK8s()
	kluster := cluster.AttachCluster(
		cluster.WrapK8sClient(clientset), conf.Cluster().Namespace(),
	)

	defs := make([]domain.WorkloadDefinition, 0, len(conf.Workload()))
	for _, w := range conf.Workload() {
		defs = append(defs, domain.WorkloadDefinition{
			Kind:      w.Kind(),
			Image:     w.Image(),
			Resources: w.Resources(),
			Timeout:   w.Timeout(),
		})
	}
	registry, err := workload.New(defs)
	if err != nil {
		panic(err)
	}

	dispatcher := dispatch.New(kluster, registry, dispatch.Config{
		MaxConcurrent:  conf.Dispatch().MaxConcurrent(),
		PollInterval:   conf.Dispatch().PollInterval(),
		InitialBackoff: conf.Dispatch().InitialBackoff(),
		MaxAttempts:    conf.Dispatch().MaxAttempts(),
		Retention:      conf.Dispatch().Retention(),
		PurgeInterval:  conf.Dispatch().PurgeInterval(),
		MaxPodAge:      conf.Dispatch().MaxPodAge(),
	})

	server := BuildServer(dispatcher, *loglevel)
	for _, r := range server.Routes() {
		server.Logger.Debugf("- mount handler: %s %s", strings.ToUpper(r.Method), r.Path)
	}

	if err := dispatcher.Reconcile(ctx); err != nil {
		server.Logger.Warnf("startup reconciliation is incomplete: %+v", err)
	}
	go dispatcher.RunPurge(ctx)

	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		if err := server.Start(fmt.Sprintf(":%d", conf.Port())); err != nil && err != http.ErrServerClosed {
			ch <- err
		}
	}()

	exit := 0
	select {
	case <-ctx.Done(): // wait
		if err := ctx.Err(); err != nil {
			server.Logger.Infof("context has been done: %s, cause: %s", err, context.Cause(ctx))
		}
	case err := <-ch:
		if err != nil {
			server.Logger.Error("server stops with error:", err)
			exit = 1
		}
	}

	{
		server.Logger.Info("shutting down...")
		qctx, qcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer qcancel()

		if err := server.Shutdown(qctx); err != nil {
			server.Logger.Errorf("server shutdown with error. %+v", err)
			exit = 1
		}

		// let in-flight instances fail as Cancelled and reclaim their pods.
		dispatcher.Shutdown()

		os.Exit(exit)
	}
}
