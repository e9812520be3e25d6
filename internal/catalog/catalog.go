// Package catalog serves the list of upstream endpoints used by the
// dev-tools console for autocompletion.
package catalog

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed endpoints.yml
var endpointsYAML []byte

// Arg is a path placeholder such as ":agent_id".
type Arg struct {
	Name string `yaml:"name" json:"name"`
}

// Endpoint is one upstream route template.
type Endpoint struct {
	Name string `yaml:"name" json:"name"`
	Args []Arg  `yaml:"args" json:"args"`
}

// Group lists the endpoints reachable with one HTTP method.
type Group struct {
	Method    string     `yaml:"method" json:"method"`
	Endpoints []Endpoint `yaml:"endpoints" json:"endpoints"`
}

var (
	loadOnce sync.Once
	groups   []Group
	loadErr  error
)

// Endpoints returns the embedded catalog grouped by method.
func Endpoints() ([]Group, error) {
	loadOnce.Do(func() {
		groups, loadErr = parse(endpointsYAML)
	})
	return groups, loadErr
}

func parse(data []byte) ([]Group, error) {
	var out []Group
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse endpoint catalog: %w", err)
	}
	for i := range out {
		for j := range out[i].Endpoints {
			if out[i].Endpoints[j].Args == nil {
				out[i].Endpoints[j].Args = []Arg{}
			}
		}
	}
	return out, nil
}
