// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

// Command demoworker runs a worker.Worker against either a remote
// taskqueued server or a local in-process Store, completing "render"
// jobs by printing their args, in the spirit of the teacher's
// cmd/demoworker generator/runner example.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/taskqueue/taskqueue/backend"
	"github.com/taskqueue/taskqueue/queue"
	"github.com/taskqueue/taskqueue/restclient"
	"github.com/taskqueue/taskqueue/worker"
)

type renderArgs struct {
	Frame int    `mapstructure:"frame"`
	Scene string `mapstructure:"scene"`
}

func render(ch *queue.Channel) error {
	if err := ch.InterruptIfRequested(); err != nil {
		return err
	}
	var args renderArgs
	if err := mapstructure.Decode(ch.Job().Args, &args); err != nil {
		return err
	}
	fmt.Printf("rendering frame %d of scene %q\n", args.Frame, args.Scene)
	return nil
}

func main() {
	server := flag.String("server", "", "taskqueued REST server base URL; empty uses --backend directly")
	be := backend.Backend{Implementation: "memory", Address: ""}
	flag.Var(&be, "backend", "impl[:address] of the storage backend, used when --server is empty")
	tags := flag.String("tags", "render", "comma-separated list of job tags to serve")
	async := flag.Bool("async", false, "use worker.Async interrupt mode instead of worker.Cooperative")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())

	var api queue.WorkerAPI
	if *server != "" {
		api = restclient.New(*server)
	} else {
		store, err := be.Store()
		if err != nil {
			log.WithError(err).Fatal("could not construct store")
		}
		api = queue.New(store, prometheus.NewRegistry())
	}

	w := worker.New(api, strings.Split(*tags, ","), render)
	w.Log = log
	if *async {
		w.InterruptMode = worker.Async
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		w.RequestStop()
	}()

	if err := w.Run(ctx); err != nil {
		log.WithError(err).Fatal("worker exited with error")
	}
}
