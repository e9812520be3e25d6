// Package compliance holds the requirement descriptions for the regulatory
// frameworks that upstream rules are tagged with.
package compliance

import (
	"embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/koltyakov/wazuhproxy/internal/domain"
)

//go:embed *.yml
var tables embed.FS

// Framework is one requirement table.
type Framework struct {
	// Name is both the route name and the key of single lookups.
	Name string
	// RulesPath lists the requirement IDs referenced by upstream rules.
	RulesPath string

	file         string
	requirements map[string]string
}

var frameworks = []*Framework{
	{Name: "pci", RulesPath: "/rules/pci", file: "pci.yml"},
	{Name: "gdpr", RulesPath: "/rules/gdpr", file: "gdpr.yml"},
	{Name: "hipaa", RulesPath: "/rules/hipaa", file: "hipaa.yml"},
	{Name: "nist", RulesPath: "/rules/nist-800-53", file: "nist.yml"},
}

var (
	loadOnce sync.Once
	loadErr  error
	byName   map[string]*Framework
)

func load() error {
	loadOnce.Do(func() {
		byName = make(map[string]*Framework, len(frameworks))
		for _, f := range frameworks {
			data, err := tables.ReadFile(f.file)
			if err != nil {
				loadErr = err
				return
			}
			var reqs map[string]string
			if err := yaml.Unmarshal(data, &reqs); err != nil {
				loadErr = fmt.Errorf("parse %s: %w", f.file, err)
				return
			}
			f.requirements = reqs
			byName[f.Name] = f
		}
	})
	return loadErr
}

// Lookup returns the framework registered under name.
func Lookup(name string) (*Framework, error) {
	if err := load(); err != nil {
		return nil, err
	}
	f, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown compliance framework %q", name)
	}
	return f, nil
}

// Names returns the registered framework names in route order.
func Names() []string {
	out := make([]string, len(frameworks))
	for i, f := range frameworks {
		out[i] = f.Name
	}
	return out
}

// All returns a copy of the whole requirement table.
func (f *Framework) All() map[string]string {
	out := make(map[string]string, len(f.requirements))
	for k, v := range f.requirements {
		out[k] = v
	}
	return out
}

// Describe returns the description of one requirement.
func (f *Framework) Describe(requirement string) (domain.ComplianceEntry, bool) {
	desc, ok := f.requirements[requirement]
	if !ok {
		return domain.ComplianceEntry{}, false
	}
	return domain.ComplianceEntry{Requirement: requirement, Description: desc}, true
}

// Select returns descriptions for ids. IDs missing from the table are
// omitted.
func (f *Framework) Select(ids []string) map[string]string {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if desc, ok := f.requirements[id]; ok {
			out[id] = desc
		}
	}
	return out
}

// requirementIDs returns every requirement ID, sorted.
func (f *Framework) requirementIDs() []string {
	ids := make([]string, 0, len(f.requirements))
	for id := range f.requirements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
