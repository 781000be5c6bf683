// Command srfworker is the generic prefork worker-pool listener: given a
// bootstrap config tree and a service name, it wires internal/transport,
// internal/pool, internal/dispatch, and an application package together and
// serves that service's worker pool until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/tenzoki/srfgo/internal/apps/mathdemo"
	"github.com/tenzoki/srfgo/internal/config"
	"github.com/tenzoki/srfgo/internal/dispatch"
	"github.com/tenzoki/srfgo/internal/logx"
	"github.com/tenzoki/srfgo/internal/pool"
	"github.com/tenzoki/srfgo/public/service"
)

// appPoolConfig is the per-app worker-pool subtree decoded out of the
// bootstrap config's free-form /apps/<name> node.
type appPoolConfig struct {
	MinChildren     int `yaml:"min_children"`
	MaxChildren     int `yaml:"max_children"`
	MaxRequests     int `yaml:"max_requests"`
	MaxBacklogQueue int `yaml:"max_backlog_queue"`
}

// registry maps a service name to the Go application package that
// implements it — the registration-function stand-in for the original's
// dynamically-linked C library lookup.
var registry = map[string]func(*dispatch.Registry) error{
	mathdemo.Service: mathdemo.Register,
}

func main() {
	configPath := flag.String("config", "", "bootstrap config file")
	serviceName := flag.String("service", "", "service name to serve (must be in /activeapps/appname[])")
	flag.Parse()

	if *configPath == "" || *serviceName == "" {
		fmt.Fprintln(os.Stderr, "srfworker: -config and -service are required")
		os.Exit(2)
	}

	if err := run(*configPath, *serviceName); err != nil {
		fmt.Fprintln(os.Stderr, "srfworker:", err)
		os.Exit(1)
	}
}

func run(configPath, serviceName string) error {
	tree, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := tree.ValidateBootstrap(); err != nil {
		return err
	}

	register, ok := registry[serviceName]
	if !ok {
		return fmt.Errorf("srfworker: no application registered for service %q", serviceName)
	}

	var poolCfg appPoolConfig
	if err := tree.AppSubtree(serviceName, &poolCfg); err != nil {
		return fmt.Errorf("srfworker: reading pool config for %s: %w", serviceName, err)
	}

	domain, _ := tree.String("/domain")
	username, _ := tree.String("/username")
	password, _ := tree.String("/passwd")
	port, _ := tree.Int("/port")

	logLevel, _ := tree.String("/loglevel")
	log := logx.New(os.Stdout, os.Stdout, logx.ParseLevel(logLevel))

	cfg := service.Config{
		Host:     domain,
		Port:     port,
		Username: username,
		Password: password,
		Domain:   domain,
		Service:  serviceName,
		Pool: pool.Config{
			MinChildren:     poolCfg.MinChildren,
			MaxChildren:     poolCfg.MaxChildren,
			MaxRequests:     poolCfg.MaxRequests,
			MaxBacklogQueue: poolCfg.MaxBacklogQueue,
		},
		PIDFile: pidFilePath(tree, serviceName),
	}

	rt, err := service.New(cfg, log, register)
	if err != nil {
		return err
	}
	return rt.Run(context.Background())
}

func pidFilePath(tree *config.Tree, serviceName string) string {
	dir, ok := tree.String("/unixpath")
	if !ok || dir == "" {
		dir = "/var/run/srfgo"
	}
	return dir + "/" + serviceName + ".pid"
}
