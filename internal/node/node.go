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

// Package node assembles a vcluster node from its configuration: the shared
// store and broker, the timed cache, the session manager, the invoker server,
// the membership watcher and the failover proxy over the other nodes.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/vogo/vcluster"
	"github.com/vogo/vcluster/config"
	"github.com/vogo/vcluster/vfailover"
	"github.com/vogo/vcluster/vfailover/httpinvoker"
	"github.com/vogo/vcluster/vmember"
	"github.com/vogo/vcluster/vsession"
	"github.com/vogo/vcluster/vtimed"
	"github.com/vogo/vogo/vlog"
	"github.com/vogo/vogo/vsync/vrun"
	"go.uber.org/multierr"
)

// HeaderAffinity carries the affinity hint of /call requests.
const HeaderAffinity = "X-Affinity"

// Node is one member of a vcluster.
type Node struct {
	cfg    *config.Config
	runner *vrun.Runner

	store      vcluster.OwnershipStore
	closeStore func() error
	broker     vcluster.Broker

	view     *vfailover.ClusterView
	watcher  *vmember.Watcher
	invoker  *httpinvoker.Server
	proxy    *vfailover.Proxy
	cache    *vtimed.Cache[string, string]
	sessions *vsession.Manager[*Attributes]

	server   *http.Server
	serveErr chan error
}

// New connects the configured store and broker and builds a node on them.
func New(ctx context.Context, cfg *config.Config) (*Node, error) {
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	broker, err := openBroker(ctx, cfg.Broker, cfg.Node.Name)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("open broker: %w", err), closeStore())
	}

	n, err := build(cfg, store, closeStore, broker)
	if err != nil {
		return nil, multierr.Combine(err, broker.Close(), closeStore())
	}
	return n, nil
}

// build wires the node components. A nil broker leaves event routing to
// whichever broker the process already runs.
func build(cfg *config.Config, store vcluster.OwnershipStore, closeStore func() error, broker vcluster.Broker) (*Node, error) {
	n := &Node{
		cfg:        cfg,
		runner:     vrun.New(),
		store:      store,
		closeStore: closeStore,
		broker:     broker,
		view:       vfailover.NewClusterView(nil, 0),
		serveErr:   make(chan error, 1),
	}

	n.watcher = vmember.New(n.view,
		vmember.WithName(cfg.Node.Name),
		vmember.WithBind(cfg.Cluster.BindHost, cfg.Cluster.BindPort),
		vmember.WithInvokerAddr(cfg.AdvertiseAddr()),
		vmember.WithLeaveTimeout(cfg.Cluster.LeaveTimeout),
		vmember.WithReconcileInterval(cfg.Cluster.ReconcileInterval),
	)

	policy, err := vfailover.NewPolicy(cfg.Cluster.Policy)
	if err != nil {
		return nil, err
	}
	transport := httpinvoker.NewClient(httpinvoker.WithHTTPClient(&http.Client{Timeout: cfg.HTTP.Timeout}))
	n.proxy = vfailover.New(cfg.Node.App, nil, 0, transport,
		vfailover.WithPolicy(policy),
		vfailover.WithClusterView(n.view),
	)

	cacheOpts := []vtimed.Option[string, string]{
		vtimed.WithCategory[string, string](cfg.Cache.Category),
		vtimed.WithInstance[string, string](cfg.Node.Name),
		vtimed.WithDefaultLifetime[string, string](cfg.Cache.DefaultLifetime),
		vtimed.WithResolution[string, string](cfg.Cache.Resolution),
	}
	if cfg.Cache.NearSize > 0 {
		cacheOpts = append(cacheOpts, vtimed.WithNearCache[string, string](cfg.Cache.NearSize, cfg.Cache.NearTTL))
	}
	n.cache = vtimed.New[string, string](store, cacheOpts...)

	n.sessions, err = vsession.New(cfg.Node.App, store, newAttributes,
		vsession.WithNode(cfg.Node.Name),
		vsession.WithCacheSize(cfg.Session.CacheSize),
		vsession.WithClaimRetry(cfg.Session.ClaimRetries, cfg.Session.ClaimDelay, cfg.Session.ClaimMaxDelay),
		vsession.WithLiveness(n.watcher.Alive),
	)
	if err != nil {
		_ = n.cache.Close()
		return nil, err
	}

	n.invoker = httpinvoker.NewServer(n.view)
	n.invoker.Register(CacheService, &cacheService{cache: n.cache})
	n.invoker.Register(SessionService, &sessionService{sessions: n.sessions})

	return n, nil
}

// Start serves http, starts the background loops and joins the cluster seeds.
// Stop must be called even when Start fails.
func (n *Node) Start() error {
	ln, err := net.Listen("tcp", n.cfg.HTTP.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.cfg.HTTP.Listen, err)
	}

	n.server = &http.Server{
		Handler:           n.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := n.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.serveErr <- err
		}
	}()

	if n.broker != nil {
		vcluster.StartEventBroker(n.runner, n.broker)
	}
	n.cache.Run(n.runner)

	if err := n.watcher.Start(n.runner); err != nil {
		return fmt.Errorf("start membership: %w", err)
	}
	if seeds := n.cfg.Cluster.Seeds; len(seeds) > 0 {
		if _, err := n.watcher.Join(seeds); err != nil {
			return fmt.Errorf("join cluster: %w", err)
		}
	}

	vlog.Infof("vcluster node started | name: %s | app: %s | http: %s", n.cfg.Node.Name, n.cfg.Node.App, ln.Addr())
	return nil
}

// Errors reports a failure of the http server after Start.
func (n *Node) Errors() <-chan error {
	return n.serveErr
}

// Stop drains the node, leaves the cluster and releases every resource.
func (n *Node) Stop(ctx context.Context) error {
	var err error

	n.invoker.Drain()
	if n.server != nil {
		err = multierr.Append(err, n.server.Shutdown(ctx))
	}

	err = multierr.Append(err, n.sessions.Close())
	err = multierr.Append(err, n.cache.Close())
	n.runner.Stop()
	err = multierr.Append(err, n.closeStore())

	vlog.Infof("vcluster node stopped | name: %s", n.cfg.Node.Name)
	return err
}

// Call invokes method of service somewhere in the cluster, with failover.
func (n *Node) Call(ctx context.Context, service, method string, payload []byte, affinity string) ([]byte, error) {
	resp, err := n.proxy.Invoke(ctx, &vfailover.Invocation{
		Service:  service,
		Method:   method,
		Payload:  payload,
		Affinity: affinity,
	})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// View returns the cluster view shared by the membership watcher and the proxy.
func (n *Node) View() *vfailover.ClusterView {
	return n.view
}

// Drain makes the node refuse invocations so callers fail over.
func (n *Node) Drain() {
	n.invoker.Drain()
}

func (n *Node) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/call/{service}/{method}", n.call)
	r.Mount("/", n.invoker.Handler())
	return r
}

func (n *Node) call(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	service, method := chi.URLParam(r, "service"), chi.URLParam(r, "method")
	result, err := n.Call(r.Context(), service, method, payload, r.Header.Get(HeaderAffinity))
	if err != nil {
		vlog.Debugf("vcluster node call failed | service: %s | method: %s | err: %v", service, method, err)
		http.Error(w, err.Error(), callStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(result)
}

func callStatus(err error) int {
	var (
		unavailable *vfailover.ClusterUnavailableError
		ambiguous   *vfailover.AmbiguousFailureError
		remote      *httpinvoker.RemoteError
	)
	switch {
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &ambiguous):
		return http.StatusBadGateway
	case errors.As(err, &remote):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
