// Command srfrouter runs one domain's router process: it forwards
// envelopes addressed through it to the live service each names, reading
// the set of live services from the bootstrap config's
// /activeapps/appname[].
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tenzoki/srfgo/internal/config"
	"github.com/tenzoki/srfgo/internal/logx"
	"github.com/tenzoki/srfgo/internal/router"
	"github.com/tenzoki/srfgo/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "bootstrap config file")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "srfrouter: -config is required")
		os.Exit(2)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "srfrouter:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	tree, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := tree.ValidateBootstrap(); err != nil {
		return err
	}

	domain, _ := tree.String("/domain")
	username, _ := tree.String("/username")
	password, _ := tree.String("/passwd")
	port, _ := tree.Int("/port")
	logLevel, _ := tree.String("/loglevel")
	log := logx.New(os.Stdout, os.Stdout, logx.ParseLevel(logLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := transport.ConnectAsRouter(ctx, domain, port, username, password, domain, log)
	if err != nil {
		return fmt.Errorf("srfrouter: connecting: %w", err)
	}
	defer client.Disconnect()

	r := router.New(client, tree.AppNames(), log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Info("srfrouter: received shutdown signal")
		cancel()
	}()

	log.Info("srfrouter: serving domain %s (pid %d)", domain, os.Getpid())
	return r.Run(ctx)
}
