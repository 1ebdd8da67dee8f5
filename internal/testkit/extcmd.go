// Package testkit provides the opaque ext_cmd contract that built-in
// test scenarios embed. spec.md §9's Open Questions leave ext_cmd's
// semantics to "a collaborator not in the core" and tell the harness
// to treat its presence as an opaque pass-through; this package is
// that pass-through, not an interpreter of it.
package testkit

import (
	"gopkg.in/yaml.v2"

	"github.com/ovn-tester/ovnscale/internal/cluster"
	"github.com/ovn-tester/ovnscale/internal/config"
	"github.com/ovn-tester/ovnscale/internal/driver"
)

// ExtCmd is handed to every built-in test alongside its own decoded
// config section: the raw ext_cmd YAML, still unparsed, and the
// cluster/driver handles a test needs to act on it. The harness never
// looks inside Raw itself.
type ExtCmd struct {
	// Raw is the ext_cmd top-level section of the test configuration
	// file, if the file carried one. A built-in test decodes its own
	// shape out of it with Decode.
	Raw yaml.MapSlice

	Cluster *cluster.Cluster
	Driver  *driver.Context
}

// New builds an ExtCmd bound to c/d, picking up whatever ext_cmd
// section cfg carried (cfg.Sections["ext_cmd"] is nil if the test
// configuration had none, which Decode treats as a no-op).
func New(cfg *config.TestConfig, c *cluster.Cluster, d *driver.Context) *ExtCmd {
	return &ExtCmd{
		Raw:     cfg.Sections["ext_cmd"],
		Cluster: c,
		Driver:  d,
	}
}

// Decode unmarshals the ext_cmd section into out, which should be a
// pointer to whatever shape a specific built-in test expects. A test
// configuration with no ext_cmd section leaves out untouched.
func (e *ExtCmd) Decode(out interface{}) error {
	if e == nil || len(e.Raw) == 0 {
		return nil
	}
	data, err := yaml.Marshal(e.Raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}
