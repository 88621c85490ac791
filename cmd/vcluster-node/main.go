/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command vcluster-node runs one member of a vcluster: a replicated session
// service and a timed cache served over HTTP with failover between members.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vogo/vcluster/config"
	"github.com/vogo/vcluster/internal/node"
	"github.com/vogo/vogo/vlog"
	"go.uber.org/multierr"
)

func main() {
	configPath := flag.String("config", "", "Path to config YAML file (defaults when empty)")
	name := flag.String("name", "", "Node name, overrides node.name")
	listen := flag.String("listen", "", "HTTP listen address, overrides http.listen")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		vlog.Errorf("vcluster node config | path: %s | err: %v", *configPath, err)
		os.Exit(1)
	}
	if *name != "" {
		cfg.Node.Name = *name
	}
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}
	if err := multierr.Combine(cfg.Validate()...); err != nil {
		vlog.Errorf("vcluster node config | err: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	n, err := node.New(ctx, cfg)
	cancel()
	if err != nil {
		vlog.Errorf("vcluster node create | err: %v", err)
		os.Exit(1)
	}

	code := 0
	if err := n.Start(); err != nil {
		vlog.Errorf("vcluster node start | err: %v", err)
		code = 1
	} else {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-signals:
			vlog.Infof("vcluster node shutting down | signal: %s", sig)
		case err := <-n.Errors():
			vlog.Errorf("vcluster node http server | err: %v", err)
			code = 1
		}
	}

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	if err := n.Stop(ctx); err != nil {
		vlog.Errorf("vcluster node stop | err: %v", err)
		code = 1
	}
	cancel()
	os.Exit(code)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
