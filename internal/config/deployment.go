package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// PhysicalNode names one machine in the physical deployment: the
// central control-plane host or a worker host, addressed by the SSH
// host internal/exec connects to.
type PhysicalNode struct {
	Name string `yaml:"name"`
}

type physicalDeploymentFile struct {
	CentralNode struct {
		Name string `yaml:"name"`
	} `yaml:"central-node"`
	WorkerNodes []string `yaml:"worker-nodes"`
}

// Deployment is the parsed physical-deployment file: which host runs
// the OVN central services and which hosts run workers.
type Deployment struct {
	Central PhysicalNode
	Workers []PhysicalNode
}

// LoadDeployment reads a physical-deployment YAML file.
func LoadDeployment(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read deployment file: %w", err)
	}

	var doc physicalDeploymentFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse deployment file: %w", err)
	}

	centralName := doc.CentralNode.Name
	if centralName == "" {
		centralName = "localhost"
	}

	dep := &Deployment{
		Central: PhysicalNode{Name: centralName},
	}
	for _, w := range doc.WorkerNodes {
		dep.Workers = append(dep.Workers, PhysicalNode{Name: w})
	}
	if len(dep.Workers) == 0 {
		return nil, fmt.Errorf("config: deployment file lists no worker-nodes")
	}
	return dep, nil
}
