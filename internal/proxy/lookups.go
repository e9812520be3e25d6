package proxy

import (
	"context"
	"fmt"
	"net/url"

	"github.com/koltyakov/wazuhproxy/internal/catalog"
	"github.com/koltyakov/wazuhproxy/internal/compliance"
	"github.com/koltyakov/wazuhproxy/internal/domain"
)

// Compliance looks up framework requirements. With requirement "all" it
// returns the whole table, or with an apiID only the requirements that the
// upstream's rules reference.
func (s *Service) Compliance(ctx context.Context, framework string, p Params) (any, error) {
	requirement, ok := p.String("requirement")
	if !ok {
		return nil, domain.Missing("Missing requirement.")
	}
	f, err := compliance.Lookup(framework)
	if err != nil {
		return nil, err
	}

	if requirement != "all" {
		entry, ok := f.Describe(requirement)
		if !ok {
			return nil, ErrRequirementNotFound
		}
		return map[string]domain.ComplianceEntry{f.Name: entry}, nil
	}

	apiID, ok := p.String("apiId")
	if !ok {
		return f.All(), nil
	}
	ep, err := s.resolver.Resolve(ctx, apiID)
	if err != nil {
		return nil, err
	}
	params := p.Forwarded()
	delete(params, "requirement")
	env, err := s.dispatcher.Dispatch(ctx, ep, domain.Request{Method: domain.MethodGet, Path: f.RulesPath, Params: params})
	if err != nil {
		return nil, err
	}
	if env.Error != 0 {
		return nil, &domain.UpstreamError{Code: env.Error, Message: env.Message}
	}
	var ids []string
	if data, ok := env.DataMap(); ok {
		items, _ := data["items"].([]any)
		for _, item := range items {
			if id, ok := item.(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return f.Select(ids), nil
}

// Catalog returns the upstream endpoint list for console autocompletion.
func (s *Service) Catalog() ([]catalog.Group, error) {
	return catalog.Endpoints()
}

const unknownScanTime = "Unknown"

// Syscollector aggregates the basic inventory of one agent. A sub-call that
// fails leaves its field false.
func (s *Service) Syscollector(ctx context.Context, apiID, agentID string) (domain.HostSnapshot, error) {
	if apiID == "" || agentID == "" {
		return domain.HostSnapshot{}, domain.Missing("Missing parameters.")
	}
	ep, err := s.resolver.Resolve(ctx, apiID)
	if err != nil {
		return domain.HostSnapshot{}, err
	}

	snap := domain.NewHostSnapshot()
	base := "/syscollector/" + url.PathEscape(agentID)
	scanTimeQuery := map[string]any{"limit": 1, "select": "scan_time"}

	if data, ok := s.inventory(ctx, ep, base+"/hardware", nil); ok {
		snap.Hardware = data
	}
	if data, ok := s.inventory(ctx, ep, base+"/os", nil); ok {
		snap.OS = data
	}
	if data, ok := s.inventory(ctx, ep, base+"/ports", map[string]any{"limit": 1}); ok {
		snap.Ports = data
	}
	if data, ok := s.inventory(ctx, ep, base+"/packages", scanTimeQuery); ok {
		snap.PackagesDate = firstScanTime(data)
	}
	if data, ok := s.inventory(ctx, ep, base+"/processes", scanTimeQuery); ok {
		snap.ProcessesDate = firstScanTime(data)
	}
	if data, ok := s.inventory(ctx, ep, base+"/netiface", nil); ok {
		snap.Netiface = data
	}
	if data, ok := s.inventory(ctx, ep, base+"/netaddr", map[string]any{"limit": 1}); ok {
		snap.Netaddr = data
	}
	return snap, nil
}

func (s *Service) inventory(ctx context.Context, ep domain.Endpoint, path string, params map[string]any) (any, bool) {
	env, err := s.dispatcher.Dispatch(ctx, ep, domain.Request{Method: domain.MethodGet, Path: path, Params: params})
	if err != nil {
		s.logger.Debug("syscollector sub-call failed", "path", path, "err", err)
		return nil, false
	}
	if env.Error != 0 || env.Data == nil {
		return nil, false
	}
	return env.Data, true
}

func firstScanTime(data any) any {
	m, ok := data.(map[string]any)
	if !ok {
		return unknownScanTime
	}
	items, _ := m["items"].([]any)
	if len(items) == 0 {
		return unknownScanTime
	}
	first, ok := items[0].(map[string]any)
	if !ok {
		return unknownScanTime
	}
	if ts, ok := first["scan_time"]; ok && ts != nil {
		return fmt.Sprint(ts)
	}
	return unknownScanTime
}
