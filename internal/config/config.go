package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/ovn-tester/ovnscale/pkg/netaddrx"
)

// GlobalConfig controls logging and address-family behavior shared by
// every component of a run.
type GlobalConfig struct {
	LogCmds bool `yaml:"log_cmds"`
	Cleanup bool `yaml:"cleanup"`
	RunIPv4 bool `yaml:"run_ipv4"`
	RunIPv6 bool `yaml:"run_ipv6"`
}

// ClusterConfig describes the OVN deployment to build: how many workers,
// which base subnets to derive per-worker subnets from, and the RAFT/
// SSL/relay topology of the control plane itself.
type ClusterConfig struct {
	ClusteredDB     bool   `yaml:"clustered_db"`
	DatapathType    string `yaml:"datapath_type"`
	MonitorAll      bool   `yaml:"monitor_all"`
	LogicalDPGroups bool   `yaml:"logical_dp_groups"`
	RaftElectionTo  int    `yaml:"raft_election_to"`

	NodeNet     string `yaml:"node_net"`
	NodeRemote  string `yaml:"node_remote"`
	NRelays     int    `yaml:"n_relays"`
	EnableSSL   bool   `yaml:"enable_ssl"`
	NWorkers    int    `yaml:"n_workers"`
	UseOvsdbEtcd bool  `yaml:"use_ovsdb_etcd"`

	NorthdProbeInterval int `yaml:"northd_probe_interval"`
	DBInactivityProbe   int `yaml:"db_inactivity_probe"`
	NodeTimeoutS        int `yaml:"node_timeout_s"`
	NorthdThreads       int `yaml:"northd_threads"`

	InternalNet  string `yaml:"internal_net"`
	InternalNet6 string `yaml:"internal_net6"`
	ExternalNet  string `yaml:"external_net"`
	ExternalNet6 string `yaml:"external_net6"`
	GwNet        string `yaml:"gw_net"`
	GwNet6       string `yaml:"gw_net6"`
	ClusterNet   string `yaml:"cluster_net"`
	ClusterNet6  string `yaml:"cluster_net6"`

	PhysicalNet string `yaml:"physical_net"`

	Vips         map[string][]string `yaml:"vips"`
	Vips6        map[string][]string `yaml:"vips6"`
	StaticVips   map[string][]string `yaml:"static_vips"`
	StaticVips6  map[string][]string `yaml:"static_vips6"`

	ClusterCmdPath string `yaml:"cluster_cmd_path"`
}

// BringupConfig controls the base_cluster_bringup phase that every run
// performs before any scenario-specific tests run.
type BringupConfig struct {
	NPodsPerNode int `yaml:"n_pods_per_node"`
}

// SSL file locations installed by the fake-multinode deployment tooling;
// not configurable per-run, so they live as constants rather than fields.
const (
	SSLKeyFile    = "/opt/ovn/ovn-privkey.pem"
	SSLCertFile   = "/opt/ovn/ovn-cert.pem"
	SSLCACertFile = "/opt/ovn/pki/switchca/cacert.pem"
)

const (
	defaultVIPSubnet          = "4.0.0.0/8"
	defaultVIPSubnet6         = "4::/32"
	defaultNVips              = 2
	defaultVIPPort            = 80
	defaultStaticVIPSubnet    = "5.0.0.0/8"
	defaultStaticVIPSubnet6   = "5::/32"
	defaultNStaticVips        = 65
	defaultStaticBackendNet   = "6.0.0.0/8"
	defaultStaticBackendNet6  = "6::/32"
	defaultNStaticBackends    = 2
	defaultBackendPort        = 8080
)

// TestConfig is the parsed test-configuration YAML document: the
// reserved global/cluster/base_cluster_bringup sections plus whatever
// scenario-specific sections the file carries, which ovnscale threads
// through to built-in tests without interpreting.
type TestConfig struct {
	Global             GlobalConfig
	Cluster            ClusterConfig
	BaseClusterBringup BringupConfig

	// Sections holds every top-level key that is not one of the
	// reserved ones above, keyed by section name, raw YAML still
	// encoded. Built-in tests decode their own section from this map.
	Sections map[string]yaml.MapSlice
}

var reservedSections = map[string]bool{
	"global":               true,
	"cluster":              true,
	"base_cluster_bringup": true,
}

// LoadTestConfig reads and validates a test-configuration file.
func LoadTestConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read test config: %w", err)
	}

	var raw yaml.MapSlice
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse test config: %w", err)
	}

	cfg := &TestConfig{
		Global:             defaultGlobalConfig(),
		BaseClusterBringup: BringupConfig{NPodsPerNode: 10},
		Sections:           make(map[string]yaml.MapSlice),
	}

	var globalRaw, clusterRaw, bringupRaw []byte
	for _, item := range raw {
		key, ok := item.Key.(string)
		if !ok {
			continue
		}
		section, err := yaml.Marshal(item.Value)
		if err != nil {
			return nil, fmt.Errorf("config: re-encode section %q: %w", key, err)
		}
		switch key {
		case "global":
			globalRaw = section
		case "cluster":
			clusterRaw = section
		case "base_cluster_bringup":
			bringupRaw = section
		default:
			var sub yaml.MapSlice
			if err := yaml.Unmarshal(section, &sub); err != nil {
				return nil, fmt.Errorf("config: parse section %q: %w", key, err)
			}
			cfg.Sections[key] = sub
		}
	}

	if globalRaw != nil {
		if err := yaml.Unmarshal(globalRaw, &cfg.Global); err != nil {
			return nil, fmt.Errorf("config: parse global section: %w", err)
		}
	}

	cfg.Cluster = defaultClusterConfig(cfg.Global)
	if clusterRaw != nil {
		if err := yaml.Unmarshal(clusterRaw, &cfg.Cluster); err != nil {
			return nil, fmt.Errorf("config: parse cluster section: %w", err)
		}
	}
	applyComputedDefaults(&cfg.Cluster, cfg.Global)

	if bringupRaw != nil {
		if err := yaml.Unmarshal(bringupRaw, &cfg.BaseClusterBringup); err != nil {
			return nil, fmt.Errorf("config: parse base_cluster_bringup section: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		LogCmds: false,
		Cleanup: false,
		RunIPv4: true,
		RunIPv6: false,
	}
}

func defaultClusterConfig(g GlobalConfig) ClusterConfig {
	c := ClusterConfig{
		ClusteredDB:         true,
		DatapathType:        "system",
		MonitorAll:          true,
		LogicalDPGroups:     true,
		RaftElectionTo:      16,
		NodeNet:             "192.16.0.0/16",
		NRelays:             0,
		EnableSSL:           true,
		NWorkers:            2,
		NorthdProbeInterval: 5000,
		DBInactivityProbe:   60000,
		NodeTimeoutS:        20,
		NorthdThreads:       4,
		InternalNet:         "16.0.0.0/16",
		InternalNet6:        "16::/64",
		ExternalNet:         "3.0.0.0/16",
		ExternalNet6:        "3::/64",
		GwNet:               "2.0.0.0/16",
		GwNet6:              "2::/64",
		ClusterNet:          "16.0.0.0/4",
		ClusterNet6:         "16::/32",
		PhysicalNet:         "providernet",
		ClusterCmdPath:      "/root/ovn-heater/runtime/ovn-fake-multinode",
	}
	if g.RunIPv4 {
		c.Vips = defaultVips(defaultVIPSubnet, false)
		c.StaticVips = defaultStaticVips(defaultStaticVIPSubnet, defaultStaticBackendNet, false)
	}
	if g.RunIPv6 {
		c.Vips6 = defaultVips(defaultVIPSubnet6, true)
		c.StaticVips6 = defaultStaticVips(defaultStaticVIPSubnet6, defaultStaticBackendNet6, true)
	}
	return c
}

// applyComputedDefaults fills in node_remote once n_relays/enable_ssl are
// known, matching calculate_default_node_remotes: it walks past the
// first few host addresses of node_net reserved for the DB cluster (or
// relays) before handing out remotes.
func applyComputedDefaults(c *ClusterConfig, g GlobalConfig) {
	if c.NodeRemote != "" {
		return
	}
	subnet, err := netaddrx.ParseSubnet(c.NodeNet, "")
	if err != nil {
		return
	}

	skip := 1
	count := 1
	if c.NRelays > 0 {
		if c.ClusteredDB {
			skip = 3
		}
		count = c.NRelays
	} else if c.ClusteredDB {
		count = 3
	}

	scheme := "tcp"
	if c.EnableSSL {
		scheme = "ssl"
	}

	remotes := ""
	for i := 0; i < count; i++ {
		ip, err := subnet.Forward(skip + i)
		if err != nil {
			break
		}
		if remotes != "" {
			remotes += ","
		}
		remotes += fmt.Sprintf("%s:%s:6642", scheme, ip.IP4)
	}
	c.NodeRemote = remotes
}

func defaultVips(subnet string, v6 bool) map[string][]string {
	s, err := netaddrx.ParseSubnet(subnet, "")
	if v6 {
		s, err = netaddrx.ParseSubnet("", subnet)
	}
	if err != nil {
		return nil
	}
	out := make(map[string][]string, defaultNVips)
	for i := 0; i < defaultNVips; i++ {
		ip, err := s.Forward(i + 1)
		if err != nil {
			break
		}
		out[vipKey(ip, v6, defaultVIPPort)] = nil
	}
	return out
}

func defaultStaticVips(vipSubnet, backendSubnet string, v6 bool) map[string][]string {
	var vs, bs netaddrx.DualStackSubnet
	var err error
	if v6 {
		vs, err = netaddrx.ParseSubnet("", vipSubnet)
	} else {
		vs, err = netaddrx.ParseSubnet(vipSubnet, "")
	}
	if err != nil {
		return nil
	}
	if v6 {
		bs, err = netaddrx.ParseSubnet("", backendSubnet)
	} else {
		bs, err = netaddrx.ParseSubnet(backendSubnet, "")
	}
	if err != nil {
		return nil
	}

	backends := make([]string, 0, defaultNStaticBackends)
	for i := 0; i < defaultNStaticBackends; i++ {
		ip, err := bs.Forward(i + 1)
		if err != nil {
			break
		}
		backends = append(backends, vipKey(ip, v6, defaultBackendPort))
	}

	out := make(map[string][]string, defaultNStaticVips)
	for i := 0; i < defaultNStaticVips; i++ {
		ip, err := vs.Forward(i + 1)
		if err != nil {
			break
		}
		out[vipKey(ip, v6, defaultVIPPort)] = backends
	}
	return out
}

func vipKey(ip netaddrx.DualStackIP, v6 bool, port int) string {
	if v6 {
		return fmt.Sprintf("[%s]:%d", ip.IP6, port)
	}
	return fmt.Sprintf("%s:%d", ip.IP4, port)
}

// Validate rejects configurations the rest of ovnscale cannot act on.
func (c *TestConfig) Validate() error {
	if !c.Global.RunIPv4 && !c.Global.RunIPv6 {
		return fmt.Errorf("config: at least one of run_ipv4/run_ipv6 must be true")
	}
	if c.Cluster.NWorkers <= 0 {
		return fmt.Errorf("config: cluster.n_workers must be greater than 0")
	}
	if c.BaseClusterBringup.NPodsPerNode < 0 {
		return fmt.Errorf("config: base_cluster_bringup.n_pods_per_node cannot be negative")
	}
	return nil
}
