// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

// Command taskqueued runs the REST-facing task queue daemon: a
// queue.Controller over a configurable Store, exposed through
// restserver on one address and Prometheus metrics on another.
package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/taskqueue/taskqueue/backend"
	"github.com/taskqueue/taskqueue/cache"
	"github.com/taskqueue/taskqueue/queue"
	"github.com/taskqueue/taskqueue/restserver"
)

func main() {
	be := backend.Backend{Implementation: "memory", Address: ""}
	flag.Var(&be, "backend", "impl[:address] of the storage backend (memory, sqlite:path, postgres:dsn)")
	bind := flag.String("bind", ":8080", "address to serve the REST API on")
	metricsBind := flag.String("metrics-bind", ":9090", "address to serve /metrics on")
	cfgPath := flag.String("config", "", "optional YAML configuration file")
	cacheSize := flag.Int("cache-size", 0, "LRU GetJob cache size in front of the store; 0 disables it")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
	}
	if cfg.Backend != "" {
		if err := be.Set(cfg.Backend); err != nil {
			logrus.WithError(err).Fatal("invalid backend in config")
		}
	}
	if cfg.Bind != "" {
		*bind = cfg.Bind
	}
	if cfg.MetricsBind != "" {
		*metricsBind = cfg.MetricsBind
	}

	log := logrus.New()
	if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logrus.WithError(err).Fatal("invalid log_level in config")
		}
		log.SetLevel(level)
	}
	entry := logrus.NewEntry(log)

	store, err := be.Store()
	if err != nil {
		entry.WithError(err).Fatal("could not construct store")
	}
	if *cacheSize > 0 {
		store = cache.NewSize(store, *cacheSize)
	}

	reg := prometheus.NewRegistry()
	ctrl := queue.New(store, reg)
	ctrl.Log = entry

	var secret []byte
	if cfg.AuthSecret != "" {
		secret = []byte(cfg.AuthSecret)
	}
	router := restserver.NewRouterWithAuth(ctrl, entry, secret)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		entry.WithField("addr", *metricsBind).Info("serving metrics")
		if err := http.ListenAndServe(*metricsBind, mux); err != nil {
			entry.WithError(err).Error("metrics server stopped")
		}
	}()

	entry.WithField("addr", *bind).Info("serving REST API")
	if err := http.ListenAndServe(*bind, router); err != nil {
		entry.WithError(err).Fatal("REST server stopped")
		os.Exit(1)
	}
}
