// Command digsd is the DiGS control daemon: it loads the grid
// configuration, opens the catalogue and node registry, starts the
// control thread's reconciliation ticker, and serves the command
// transport and the read-only status HTTP API. Wiring style (flag for
// config path, ConfigureLogging, signal-driven shutdown) is grounded on
// the teacher's own daemon entrypoints under cmd/.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/epcced/digs"
	"github.com/epcced/digs/backend"
	_ "github.com/epcced/digs/backend/globus"
	_ "github.com/epcced/digs/backend/omero"
	_ "github.com/epcced/digs/backend/srm"
	"github.com/epcced/digs/catalog"
	"github.com/epcced/digs/catalog/cassandracat"
	"github.com/epcced/digs/control"
	"github.com/epcced/digs/node"
	"github.com/epcced/digs/statusapi"
	"github.com/epcced/digs/transport"
)

func main() {
	configPath := flag.String("config", "/etc/digs/digs.conf", "path to digs.conf")
	standalone := flag.Bool("standalone", false, "use an in-memory catalogue and static auth instead of Cassandra/Okta")
	flag.Parse()

	digs.ConfigureLogging()

	cfg, err := digs.LoadConfiguration(*configPath)
	if err != nil {
		slog.Error("digsd: loading configuration failed", "error", err)
		os.Exit(1)
	}

	registry := node.NewRegistry(cfg.GridPath)
	if err := registry.Load(); err != nil {
		slog.Error("digsd: loading node registry failed", "error", err)
		os.Exit(1)
	}

	cat, err := openCatalog(cfg, *standalone)
	if err != nil {
		slog.Error("digsd: opening catalogue failed", "error", err)
		os.Exit(1)
	}

	policy, err := control.NewPolicyEvaluator(control.DefaultAdminExpr)
	if err != nil {
		slog.Error("digsd: compiling admin policy failed", "error", err)
		os.Exit(1)
	}

	dispatch := makeDispatch(cfg)
	repl := newReplicator(registry, cat, dispatch)

	deps := &control.Deps{
		Catalog:           cat,
		Registry:          registry,
		Policy:            policy,
		DefaultReplCount:  cfg.MinCopies,
		LiveSiteCount:     func() int { return liveSiteCount(registry) },
		Dispatch:          dispatch,
		ScheduleMirror:    repl.mirror,
		ScheduleMigration: repl.migrate,
	}

	reconcileCfg := control.ReconcileConfig{
		MaxConcurrentPings: cfg.MaxConcurrentPings,
		InboxTTL:           cfg.InboxTTL,
		LocationWeight:     cfg.LocationWeight,
		SpaceWeight:        cfg.SpaceWeight,
	}
	thread := control.NewThread(deps, reconcileCfg, mainNodeListPath(cfg.GridPath), cfg.CycleInterval, 64)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go thread.Run(ctx)

	auth := transport.Authenticator(transport.StaticAuthenticator{})
	if !*standalone {
		okta := transport.NewOktaAuthenticatorFromEnv()
		if cfg.JWTIssuer != "" {
			okta.Issuer = cfg.JWTIssuer
		}
		auth = okta
	}
	transportServer := transport.NewServer(auth, makeDispatcher(thread, cfg))

	ln, err := net.Listen("tcp", cfg.TransportListenAddress)
	if err != nil {
		slog.Error("digsd: binding command transport listener failed", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := transportServer.Serve(ctx, ln); err != nil {
			slog.Error("digsd: command transport server stopped", "error", err)
		}
	}()

	statusSrv := statusapi.NewServer(registry)
	httpSrv := &http.Server{Addr: cfg.StatusListenAddress, Handler: statusSrv.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("digsd: status API server stopped", "error", err)
		}
	}()

	slog.Info("digsd: started", "transport", cfg.TransportListenAddress, "status", cfg.StatusListenAddress)
	<-ctx.Done()

	slog.Info("digsd: shutting down")
	_ = httpSrv.Shutdown(context.Background())
	thread.Stop()
}

func openCatalog(cfg digs.Configuration, standalone bool) (catalog.Catalog, error) {
	if standalone {
		return memoryCatalogFallback(), nil
	}
	return cassandracat.Connect(cassandracat.Config{
		CassandraHosts:    cfg.CassandraHosts,
		CassandraKeyspace: cfg.CassandraKeyspace,
		RedisAddress:      cfg.RedisAddress,
		RedisPassword:     cfg.RedisPassword,
		RedisDB:           cfg.RedisDB,
	})
}

// makeDispatch builds the node-type -> backend resolver the control
// thread uses, threading each backend's connection parameters through
// from Configuration.
func makeDispatch(cfg digs.Configuration) func(nodeType string) (backend.SEBackend, error) {
	return func(nodeType string) (backend.SEBackend, error) {
		switch node.Type(nodeType) {
		case node.TypeGlobus:
			return backend.Dispatch(nodeType, globusConfig())
		case node.TypeSRM:
			return backend.Dispatch(nodeType, srmConfig(cfg))
		case node.TypeOMERO:
			return backend.Dispatch(nodeType, omeroConfig(cfg))
		default:
			return nil, fmt.Errorf("digsd: unrecognized node type %q", nodeType)
		}
	}
}

func makeDispatcher(thread *control.Thread, cfg digs.Configuration) transport.Dispatcher {
	return func(ctx context.Context, peer, line string) (string, error) {
		cmd, err := parseCommand(peer, line, cfg)
		if err != nil {
			return "", err
		}
		reply := make(chan error, 1)
		if err := thread.Submit(ctx, control.Command{Name: cmd.name, Run: cmd.run, Reply: reply}); err != nil {
			return "", err
		}
		select {
		case err := <-reply:
			if err != nil {
				return "", err
			}
			return "command applied", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func mainNodeListPath(gridPath string) string {
	return gridPath
}

func liveSiteCount(registry *node.Registry) int {
	snap := registry.Snapshot()
	sites := make(map[string]bool)
	for _, n := range snap.Nodes {
		if snap.Eligible(n.Name) {
			sites[n.Site] = true
		}
	}
	return len(sites)
}
