// Program orbitd is a minimal bootstrap for an orbit server: it wires a
// broker connection, configuration, and a host object together and runs
// until interrupted. It implements no broker transport of its own; the only
// connection kind it knows how to open is the in-memory reference broker,
// useful for local smoke-testing and as a template for a real deployment's
// own main package.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/creachadair/command"

	"github.com/orbitrpc/orbit"
	"github.com/orbitrpc/orbit/broker/memqueue"
	"github.com/orbitrpc/orbit/codec"
	"github.com/orbitrpc/orbit/config"
	"github.com/orbitrpc/orbit/methodtable"
	"github.com/orbitrpc/orbit/observation"
	"github.com/orbitrpc/orbit/reaper"
	"github.com/orbitrpc/orbit/rpclog"
	"github.com/orbitrpc/orbit/sessionpool"
	"github.com/orbitrpc/orbit/subscription"
)

func main() {
	var cfg config.Config
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	config.Bind(fs, &cfg)

	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Run an orbit RPC server.",
		Commands: []*command.C{
			{
				Name:  "serve",
				Usage: "[flags]",
				Help:  "Start the server against the in-memory reference broker.",
				Run: func(env *command.Env) error {
					if err := fs.Parse(env.Args); err != nil {
						return err
					}
					return runServe(cfg)
				},
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}

	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// exampleHost is a placeholder host object demonstrating the method shape
// methodtable.New expects. Real deployments supply their own host.
type exampleHost struct{}

// Ping returns the message it was given, for smoke-testing a deployment.
func (exampleHost) Ping(ctx context.Context, msg string) (string, error) { return msg, nil }

func runServe(cfg config.Config) error {
	log := rpclog.Default()
	broker := memqueue.New()
	registry := subscription.New()
	pool := sessionpool.New(broker, cfg.ProducerPoolBound)
	forwarder := observation.New(registry, pool, log, 0)
	dispatcher := methodtable.New(exampleHost{})
	reconciler := reaper.New(broker, registry, orbit.ClientQueuePrefix, log)

	srv := orbit.New(orbit.Config{
		Broker:            broker,
		Dispatcher:        dispatcher,
		Codec:             codec.New(),
		Registry:          registry,
		Pool:              pool,
		Forwarder:         forwarder,
		Resolver:          orbit.ResolveFunc(defaultResolver),
		Reconciler:        reconciler,
		Logger:            log,
		LegalName:         cfg.LegalName,
		RPCThreadPoolSize: cfg.RPCThreadPoolSize,
		ConsumerPoolSize:  cfg.ConsumerPoolSize,
		ReapInterval:      cfg.ReapInterval(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	log.Info("orbit server started", "legal_name", cfg.LegalName)

	<-ctx.Done()
	log.Info("shutting down")
	return srv.Close(context.Background())
}

func defaultResolver(ctx context.Context, validatedUser string) (orbit.UserPrincipal, error) {
	if validatedUser == "" {
		return orbit.UserPrincipal{}, orbit.ErrUnknownUser
	}
	return orbit.UserPrincipal{Name: validatedUser}, nil
}
