// ovnscale drives an OVN control-plane scale/performance test: it
// reads a physical deployment file and a test configuration file,
// brings a cluster up over SSH, runs the base_cluster_bringup phase,
// then optionally dispatches a built-in test against the ports it
// just provisioned.
//
// Usage:
//
//	ovnscale run -deployment deployment.yml -config test.yml [-test ping_ports]
//	ovnscale list -config test.yml
//
// Build:
//
//	go build -o ovnscale ./cmd/ovnscale/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/ovn-tester/ovnscale/internal/cluster"
	"github.com/ovn-tester/ovnscale/internal/config"
	"github.com/ovn-tester/ovnscale/internal/dbclient"
	"github.com/ovn-tester/ovnscale/internal/driver"
	"github.com/ovn-tester/ovnscale/internal/exec"
	"github.com/ovn-tester/ovnscale/internal/testkit"
	"github.com/ovn-tester/ovnscale/pkg/types"
	"github.com/ovn-tester/ovnscale/pkg/utils"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	case "list":
		os.Exit(cmdList(os.Args[2:]))
	case "version":
		fmt.Println("ovnscale dev")
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ovnscale <command> [args]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  run      bring up a cluster and run a test")
	fmt.Fprintln(os.Stderr, "  list     list the non-reserved sections named in a configuration file")
	fmt.Fprintln(os.Stderr, "  version  print version info")
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	deploymentPath := fs.String("deployment", "deployment.yml", "physical deployment file")
	configPath := fs.String("config", "test.yml", "test configuration file")
	testName := fs.String("test", "", "built-in test to run after bring-up (ping_ports, or empty to skip)")
	qps := fs.Float64("qps", 100, "rate governor for the ping_ports test, iterations/second")
	sshUser := fs.String("ssh-user", "root", "SSH user for physical hosts")
	sshKey := fs.String("ssh-key", "", "SSH private key path")
	logLevel := fs.String("log-level", "INFO", "log level")
	fs.Parse(args)

	level, err := utils.ParseLogLevel(*logLevel)
	if err != nil {
		level = utils.INFO
	}
	logger := utils.NewLogger("ovnscale", level, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dep, err := config.LoadDeployment(*deploymentPath)
	if err != nil {
		logger.Error("%s", err)
		return 1
	}

	tcfg, err := config.LoadTestConfig(*configPath)
	if err != nil {
		// Validate (called by LoadTestConfig) already rejected a
		// run_ipv4=false/run_ipv6=false configuration here, before any
		// DB connection is attempted (spec.md §8 scenario 4).
		logger.Error("%s", err)
		return 1
	}

	sshCfg := exec.DefaultConfig()
	sshCfg.User = *sshUser
	sshCfg.PrivateKeyPath = *sshKey
	sshCfg.LogCommands = tcfg.Global.LogCmds
	sshCfg.Logger = logger
	channel, err := exec.NewSSHChannel(sshCfg)
	if err != nil {
		logger.Error("%s", err)
		return 1
	}
	defer channel.Close()

	nb, sb, err := dialDBs(tcfg.Cluster)
	if err != nil {
		logger.Error("%s", err)
		return 1
	}

	c, err := cluster.New(dep, tcfg.Cluster, tcfg.Global, nb, sb, channel)
	if err != nil {
		logger.Error("%s", err)
		return 1
	}

	drv := driver.NewContext(logger)
	drv.Conns = nb
	ext := testkit.New(tcfg, c, drv)
	if len(ext.Raw) > 0 {
		logger.Info("ext_cmd section present, threading it through to built-in tests unread")
	}

	drv.StartPhase("base_cluster_bringup")
	err = c.Start(ctx)
	report := drv.EndPhase()
	logger.Info("%s", report.Brief())
	if err != nil {
		logger.Error("%s", err)
		return 1
	}
	for name, status := range c.HealthCheck(ctx) {
		logger.Debug("health: %s: %s", name, status.Status)
	}

	drv.StartPhase("provision_pods")
	ports, err := c.ProvisionPorts(ctx, tcfg.BaseClusterBringup.NPodsPerNode*tcfg.Cluster.NWorkers, false)
	provisionReport := drv.EndPhase()
	logger.Info("%s", provisionReport.Brief())
	if err != nil {
		logger.Error("%s", err)
		return 1
	}

	switch *testName {
	case "":
		return 0
	case "ping_ports":
		if err := runPingPorts(ctx, drv, c, ports, *qps); err != nil {
			logger.Error("%s", err)
			return 1
		}
		return 0
	default:
		logger.Error("unknown test %q", *testName)
		return 1
	}
}

// runPingPorts QPS-drives a ping of every just-provisioned port, the
// built-in test named by ovn-tester.py's ping_ports.py.
func runPingPorts(ctx context.Context, drv *driver.Context, c *cluster.Cluster, ports []*types.LSPort, qps float64) error {
	drv.StartPhase("ping_ports")
	err := drv.QPS(ctx, qps, len(ports), func(ctx context.Context, i int) error {
		return c.PingPorts(ctx, ports[i:i+1])
	})
	report := drv.EndPhase()
	drv.Logger.Info("%s", report.Detailed())
	return err
}

func dialDBs(cfg config.ClusterConfig) (dbclient.NBClient, dbclient.SBClient, error) {
	centralAddr, err := cluster.CentralManagementAddress(cfg)
	if err != nil {
		return nil, nil, err
	}

	scheme := "tcp"
	if cfg.EnableSSL {
		scheme = "ssl"
	}
	nbCfg := dbclient.DefaultConfig(dbclient.FlavorNB, fmt.Sprintf("%s:%s:6641", scheme, centralAddr))
	sbCfg := dbclient.DefaultConfig(dbclient.FlavorSB, fmt.Sprintf("%s:%s:6642", scheme, centralAddr))
	if cfg.EnableSSL {
		nbCfg.CertPath, nbCfg.KeyPath, nbCfg.CACertPath = config.SSLCertFile, config.SSLKeyFile, config.SSLCACertFile
		sbCfg.CertPath, sbCfg.KeyPath, sbCfg.CACertPath = config.SSLCertFile, config.SSLKeyFile, config.SSLCACertFile
	}
	if cfg.DBInactivityProbe > 0 {
		probe := time.Duration(cfg.DBInactivityProbe) * time.Millisecond
		nbCfg.InactivityProbe = probe
		sbCfg.InactivityProbe = probe
	}

	nb, err := dbclient.NewClient(nbCfg)
	if err != nil {
		return nil, nil, err
	}
	sb, err := dbclient.NewClient(sbCfg)
	if err != nil {
		return nil, nil, err
	}
	return nb, sb, nil
}

func cmdList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "test.yml", "test configuration file")
	fs.Parse(args)

	tcfg, err := config.LoadTestConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	var names []string
	for name := range tcfg.Sections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(name)
	}
	return 0
}
