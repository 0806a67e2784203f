// Package main wires the reconciliation core (internal/store, selector,
// resolver, planner, differ, downgrade, dispatch/rest, dispatch/xds,
// status, ingress, reconcile) into one runnable binary: a cobra root
// command that loads internal/config, starts the Delta LDS/CDS gRPC
// server and the Prometheus metrics endpoint, and exposes the
// internal/ingress.Ingress an external watch client drives. The watch
// client, CRD installer, REST SDK transport, leader election and config
// file loading stay out of scope for this binary.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"istio.io/pkg/log"

	clusterv3svc "github.com/envoyproxy/go-control-plane/envoy/service/cluster/v3"
	listenerv3svc "github.com/envoyproxy/go-control-plane/envoy/service/listener/v3"

	"github.com/l7mp/l7mp-operator/internal/config"
	"github.com/l7mp/l7mp-operator/internal/dispatch/rest"
	"github.com/l7mp/l7mp-operator/internal/dispatch/xds"
	"github.com/l7mp/l7mp-operator/internal/downgrade"
	"github.com/l7mp/l7mp-operator/internal/ingress"
	"github.com/l7mp/l7mp-operator/internal/model"
	"github.com/l7mp/l7mp-operator/internal/proxyclient"
	"github.com/l7mp/l7mp-operator/internal/reconcile"
	"github.com/l7mp/l7mp-operator/internal/status"
	"github.com/l7mp/l7mp-operator/internal/store"
)

// rootCmd builds the l7mp-operator command. Flag wiring follows
// elastic-cloud-on-k8s/hack/operatorhub/cmd/root.go's pflag+viper idiom,
// adapted through internal/config so the flag set stays one struct.
func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "l7mp-operator",
		Short: "Reconciles l7mp VirtualService/Target/Rule objects onto proxy Pods",
		Long: `l7mp-operator watches VirtualService, Target, Rule and Pod/Endpoints
objects, plans the per-Pod proxy configuration they imply, and dispatches the
difference to each Pod's REST admin API and Delta xDS stream. The Kubernetes
watch loop, CRD installation and status-patch transport live outside this
binary; this command wires the reconciliation core behind those boundaries
and serves the xDS and metrics listeners the core needs to do its job.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	config.BindFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context) error {
	cfg := config.Load()
	log.Infoa("starting l7mp-operator, log level ", cfg.LogLevel)

	conv, err := downgrade.Load(cfg.ConversionFile)
	if err != nil {
		return fmt.Errorf("loading conversion table %s: %w", cfg.ConversionFile, err)
	}

	// No watcher is wired up in this binary, so the Owner-Status Reporter
	// patches against a sink that only logs - the last external boundary
	// before a real API server client.
	reporter := &status.Reporter{Patcher: loggingStatusPatcher{}}

	restDispatcher := rest.New(conv, reporter)
	restDispatcher.RetryDelay = cfg.RestRetryDelay
	restDispatcher.NewClient = func(podIP string) *proxyclient.Client {
		return proxyclient.NewWithClient(&http.Client{Timeout: 10 * time.Second}, fmt.Sprintf("http://%s:%d", podIP, cfg.RestPort))
	}

	xdsServer := xds.NewServer()
	xdsDispatcher := xds.NewDispatcher(xdsServer)

	reconciler := reconcile.New(restDispatcher, xdsDispatcher)

	st := store.New()
	_ = ingress.New(st, reconciler) // driven by the out-of-scope watch client

	errCh := make(chan error, 2)
	go func() { errCh <- serveXDS(cfg.XDSListenAddr, xdsServer) }()
	go func() { errCh <- serveMetrics(cfg.MetricsListenAddr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serveXDS binds the Delta LDS/CDS gRPC server, mirroring how pilot's own
// discovery server registers its service implementations against a single
// *grpc.Server (pilot/pkg/proxy/envoy/v2).
func serveXDS(addr string, server *xds.Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("xds listen on %s: %w", addr, err)
	}
	grpcServer := grpc.NewServer()
	listenerv3svc.RegisterListenerDiscoveryServiceServer(grpcServer, server)
	clusterv3svc.RegisterClusterDiscoveryServiceServer(grpcServer, server)
	log.Infoa("xDS server listening on ", addr)
	return grpcServer.Serve(lis)
}

// serveMetrics exposes the istio.io/pkg/monitoring counters/gauges
// registered in internal/telemetry through client_golang's default
// registry, the same promhttp.Handler() pairing pilot's monitoring.go uses.
func serveMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Infoa("metrics server listening on ", addr)
	return http.ListenAndServe(addr, mux)
}

// loggingStatusPatcher stands in for the out-of-scope API server status-
// patch client (internal/watch.StatusPatcher). It only logs, since this
// binary carries no Kubernetes client.
type loggingStatusPatcher struct{}

func (loggingStatusPatcher) PatchStatus(_ context.Context, fqn model.FQN, patch map[string]interface{}) error {
	log.Debuga("status patch for ", fqn, " suppressed: no watch client wired")
	return nil
}

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
