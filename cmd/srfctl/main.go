// Command srfctl starts and stops the service processes a bootstrap config
// tree describes: flags -c, -p, -s and -x plus the start, start_all, stop
// and stop_all subcommands, built as a multi-action urfave/cli app the way
// kryptco-kr's kr CLI is.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tenzoki/srfgo/internal/config"
	"github.com/tenzoki/srfgo/internal/pool"
)

func main() {
	app := &cli.App{
		Name:  "srfctl",
		Usage: "start and stop srfgo service processes",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "bootstrap config file", Required: true},
			&cli.StringFlag{Name: "pid-dir", Aliases: []string{"p"}, Usage: "directory holding per-service pid files", Value: "/var/run/srfgo"},
			&cli.StringFlag{Name: "service", Aliases: []string{"s"}, Usage: "service name"},
			&cli.StringFlag{Name: "service-bin", Aliases: []string{"x"}, Usage: "path to the srfworker binary to launch", Value: "srfworker"},
		},
		Commands: []*cli.Command{
			{Name: "start", Usage: "start one service", Action: startAction},
			{Name: "start_all", Usage: "start every service named in the config", Action: startAllAction},
			{Name: "stop", Usage: "stop one service", Action: stopAction},
			{Name: "stop_all", Usage: "stop every running service", Action: stopAllAction},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "srfctl:", err)
		os.Exit(1)
	}
}

func loadTree(c *cli.Context) (*config.Tree, error) {
	return config.Load(c.String("config"))
}

func pidFileFor(c *cli.Context, service string) pool.PIDFile {
	return pool.PIDFile{Path: c.String("pid-dir") + "/" + service + ".pid"}
}

func startAction(c *cli.Context) error {
	service := c.String("service")
	if service == "" {
		return fmt.Errorf("srfctl start: -s/--service is required")
	}
	return startService(c, service)
}

func startAllAction(c *cli.Context) error {
	tree, err := loadTree(c)
	if err != nil {
		return err
	}
	if err := tree.ValidateBootstrap(); err != nil {
		return err
	}
	for _, name := range tree.AppNames() {
		if err := startService(c, name); err != nil {
			return fmt.Errorf("srfctl start_all: %s: %w", name, err)
		}
	}
	return nil
}

func startService(c *cli.Context, service string) error {
	pf := pidFileFor(c, service)
	if pid, err := pf.Read(); err == nil && processAlive(pid) {
		return fmt.Errorf("srfctl start: %s already running (pid %d)", service, pid)
	}

	cmd := exec.Command(c.String("service-bin"), "-config", c.String("config"), "-service", service)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("srfctl start: launching %s: %w", service, err)
	}
	fmt.Printf("srfctl: started %s (pid %d)\n", service, cmd.Process.Pid)
	return nil
}

func stopAction(c *cli.Context) error {
	service := c.String("service")
	if service == "" {
		return fmt.Errorf("srfctl stop: -s/--service is required")
	}
	return stopService(c, service)
}

func stopAllAction(c *cli.Context) error {
	tree, err := loadTree(c)
	if err != nil {
		return err
	}
	for _, name := range tree.AppNames() {
		if err := stopService(c, name); err != nil {
			fmt.Fprintf(os.Stderr, "srfctl stop_all: %s: %v\n", name, err)
		}
	}
	return nil
}

func stopService(c *cli.Context, service string) error {
	pf := pidFileFor(c, service)
	pid, err := pf.Read()
	if err != nil {
		return fmt.Errorf("srfctl stop: %s: %w", service, err)
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("srfctl stop: signaling %s (pid %d): %w", service, pid, err)
	}
	if err := pf.Remove(); err != nil {
		return err
	}
	fmt.Printf("srfctl: stopped %s (pid %d)\n", service, pid)
	return nil
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
