package testkit_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/ovn-tester/ovnscale/internal/config"
	"github.com/ovn-tester/ovnscale/internal/testkit"
)

func TestDecodeNoSectionIsNoop(t *testing.T) {
	cfg := &config.TestConfig{Sections: map[string]yaml.MapSlice{}}
	e := testkit.New(cfg, nil, nil)

	var out struct{ Foo string }
	out.Foo = "untouched"
	require.NoError(t, e.Decode(&out))
	require.Equal(t, "untouched", out.Foo)
}

func TestDecodeUnmarshalsRawSection(t *testing.T) {
	raw := yaml.MapSlice{{Key: "foo", Value: "bar"}}
	cfg := &config.TestConfig{Sections: map[string]yaml.MapSlice{"ext_cmd": raw}}
	e := testkit.New(cfg, nil, nil)

	var out struct {
		Foo string `yaml:"foo"`
	}
	require.NoError(t, e.Decode(&out))
	require.Equal(t, "bar", out.Foo)
}
