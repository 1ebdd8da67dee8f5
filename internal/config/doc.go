/*
Package config parses the two YAML documents a run is driven by: the
physical-deployment file (which host is central, which are workers) and
the test-configuration file (global/cluster/base_cluster_bringup
sections plus any number of scenario-specific sections).

# Test configuration

LoadTestConfig applies the same defaults as the harness it replaces:
run_ipv4 on and run_ipv6 off, a clustered 3-node DB, a /16 internal
subnet per worker, SSL enabled. Any key present in the YAML file
overrides its default; any section beyond the three reserved ones is
kept, still YAML-encoded, in TestConfig.Sections for built-in tests to
decode on their own.

# Physical deployment

LoadDeployment parses the central-node/worker-nodes document into the
PhysicalNode list internal/exec dials out to.

# Defaults computed from other fields

A handful of defaults (node_remote, the default VIP and static-VIP
maps) are derived from other config values rather than being constant,
so they are computed once global/cluster parsing completes rather than
living as struct-tag defaults.
*/
package config
