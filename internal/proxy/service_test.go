package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koltyakov/wazuhproxy/internal/domain"
	"github.com/koltyakov/wazuhproxy/internal/export"
)

type fakeResolver struct {
	calls int
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, id string) (domain.Endpoint, error) {
	f.calls++
	if f.err != nil {
		return domain.Endpoint{}, f.err
	}
	return domain.Endpoint{ConnectionID: id, BaseURL: "https://manager:55000"}, nil
}

type fakeGate struct {
	ready bool
	err   error
	calls int
}

func (f *fakeGate) Ready(context.Context, domain.Endpoint) (bool, error) {
	f.calls++
	return f.ready, f.err
}

type fakeDispatcher struct {
	reqs      []domain.Request
	responses map[string]domain.Envelope
	err       error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ domain.Endpoint, req domain.Request) (domain.Envelope, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return domain.Envelope{}, f.err
	}
	if env, ok := f.responses[req.Path]; ok {
		return env, nil
	}
	return domain.Envelope{Error: 0, Data: map[string]any{"ok": true}}, nil
}

type fakeExporter struct {
	filters map[string]any
}

func (f *fakeExporter) Export(_ context.Context, _ domain.Endpoint, _ string, filters map[string]any, w io.Writer) (export.Result, error) {
	f.filters = filters
	_, err := io.WriteString(w, "a\n1\n")
	return export.Result{Pages: 1, Rows: 1}, err
}

type adminSwitch bool

func (a adminSwitch) AdminEnabled() bool { return bool(a) }

type harness struct {
	svc        *Service
	resolver   *fakeResolver
	gate       *fakeGate
	dispatcher *fakeDispatcher
	exporter   *fakeExporter
}

func newHarness(admin bool) *harness {
	h := &harness{
		resolver:   &fakeResolver{},
		gate:       &fakeGate{ready: true},
		dispatcher: &fakeDispatcher{responses: map[string]domain.Envelope{}},
		exporter:   &fakeExporter{},
	}
	h.svc = New(Config{
		Resolver:   h.resolver,
		Gate:       h.gate,
		Dispatcher: h.dispatcher,
		Exporter:   h.exporter,
		Admin:      adminSwitch(admin),
	})
	return h
}

func TestRequestMissingParams(t *testing.T) {
	t.Parallel()

	h := newHarness(true)
	_, err := h.svc.Request(context.Background(), Params{"endpoint": "/agents"})
	require.ErrorIs(t, err, domain.ErrMissingParameter)
	assert.Equal(t, "Missing ID or endpoint.", err.Error())

	_, err = h.svc.Request(context.Background(), Params{"id": "c1"})
	assert.ErrorIs(t, err, domain.ErrMissingParameter)
	assert.Zero(t, h.resolver.calls)
}

func TestRequestForbiddenWithoutAdmin(t *testing.T) {
	t.Parallel()

	h := newHarness(false)
	for _, method := range []string{"PUT", "post", "DELETE"} {
		_, err := h.svc.Request(context.Background(), Params{"id": "c1", "endpoint": "/agents/001/restart", "method": method})
		require.ErrorIs(t, err, domain.ErrForbidden)
		assert.Equal(t, "Forbidden. Enable admin mode.", err.Error())
	}
	assert.Zero(t, h.resolver.calls, "credentials must not be looked up")
	assert.Zero(t, h.gate.calls)
	assert.Empty(t, h.dispatcher.reqs)
}

func TestRequestGetBypassesAdmin(t *testing.T) {
	t.Parallel()

	h := newHarness(false)
	env, err := h.svc.Request(context.Background(), Params{
		"apiId": "c1", "endpoint": "/agents", "method": "GET", "limit": "5", "origin": "json",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, env.Error)

	require.Len(t, h.dispatcher.reqs, 1)
	req := h.dispatcher.reqs[0]
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/agents", req.Path)
	assert.Equal(t, map[string]any{"limit": "5"}, req.Params)
}

func TestRequestNotReady(t *testing.T) {
	t.Parallel()

	h := newHarness(true)
	h.gate.ready = false
	_, err := h.svc.Request(context.Background(), Params{"id": "c1", "endpoint": "/agents"})
	assert.ErrorIs(t, err, domain.ErrUpstreamNotReady)
	assert.Empty(t, h.dispatcher.reqs)

	h.gate.err = errors.New("dial tcp: refused")
	_, err = h.svc.Request(context.Background(), Params{"id": "c1", "endpoint": "/agents"})
	assert.EqualError(t, err, "dial tcp: refused")
}

func TestRequestPostOrigins(t *testing.T) {
	t.Parallel()

	h := newHarness(true)
	_, err := h.svc.Request(context.Background(), Params{
		"id": "c1", "endpoint": "/manager/files", "method": "POST", "origin": "xmleditor", "content": "<ossec_config/>",
	})
	require.NoError(t, err)
	req := h.dispatcher.reqs[0]
	assert.Equal(t, domain.ContentXML, req.Kind)
	assert.Equal(t, "<ossec_config/>", req.Content)
	assert.Empty(t, req.Params)

	_, err = h.svc.Request(context.Background(), Params{
		"id": "c1", "endpoint": "/manager/files", "method": "POST", "origin": "yaml",
	})
	assert.ErrorIs(t, err, domain.ErrMissingParameter)

	_, err = h.svc.Request(context.Background(), Params{"id": "c1", "endpoint": "/x", "method": "PATCH"})
	assert.ErrorIs(t, err, domain.ErrMissingParameter)
}

func TestRequestCredentialErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(true)
	h.resolver.err = domain.ErrCredentialNotFound
	_, err := h.svc.Request(context.Background(), Params{"id": "nope", "endpoint": "/agents"})
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
	assert.Zero(t, h.gate.calls)
}

func TestReady(t *testing.T) {
	t.Parallel()

	h := newHarness(false)
	resp, err := h.svc.Ready(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReadyResponse{Status: "200", Ready: true, Message: "Wazuh is now ready."}, resp)

	h.gate.ready = false
	resp, _ = h.svc.Ready(context.Background(), "c1")
	assert.Equal(t, "Wazuh not ready yet.", resp.Message)

	h.gate.err = errors.New("boom")
	resp, _ = h.svc.Ready(context.Background(), "c1")
	assert.False(t, resp.Ready)
	assert.Equal(t, "Error getting the Wazuh daemons status.", resp.Message)

	_, err = h.svc.Ready(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrMissingParameter)
}

func TestExport(t *testing.T) {
	t.Parallel()

	h := newHarness(false)
	var out bytes.Buffer
	_, err := h.svc.Export(context.Background(), "c1", "/agents", map[string]any{"status": "active"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "a\n1\n", out.String())
	assert.Equal(t, "active", h.exporter.filters["status"])

	_, err = h.svc.Export(context.Background(), "", "/agents", nil, &out)
	assert.ErrorIs(t, err, domain.ErrMissingParameter)
}

func TestCompliance(t *testing.T) {
	t.Parallel()

	h := newHarness(false)
	ctx := context.Background()

	_, err := h.svc.Compliance(ctx, "pci", Params{})
	require.ErrorIs(t, err, domain.ErrMissingParameter)
	assert.Equal(t, "Missing requirement.", err.Error())

	got, err := h.svc.Compliance(ctx, "pci", Params{"requirement": "10.2.4"})
	require.NoError(t, err)
	single := got.(map[string]domain.ComplianceEntry)
	assert.Equal(t, "10.2.4", single["pci"].Requirement)

	_, err = h.svc.Compliance(ctx, "gdpr", Params{"requirement": "nope"})
	assert.ErrorIs(t, err, ErrRequirementNotFound)

	all, err := h.svc.Compliance(ctx, "hipaa", Params{"requirement": "all"})
	require.NoError(t, err)
	assert.NotEmpty(t, all)
	assert.Empty(t, h.dispatcher.reqs, "no upstream call without apiId")

	h.dispatcher.responses["/rules/nist-800-53"] = domain.Envelope{Data: map[string]any{
		"items": []any{"AU.6", "SI.4", "XX.99"},
	}}
	filtered, err := h.svc.Compliance(ctx, "nist", Params{"requirement": "all", "apiId": "c1"})
	require.NoError(t, err)
	m := filtered.(map[string]string)
	assert.Len(t, m, 2)
	assert.Contains(t, m, "AU.6")
	assert.Empty(t, h.dispatcher.reqs[0].Params)

	h.dispatcher.responses["/rules/pci"] = domain.Envelope{Error: 1000}
	_, err = h.svc.Compliance(ctx, "pci", Params{"requirement": "all", "apiId": "c1"})
	var upErr *domain.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, 1000, upErr.Code)
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	groups, err := newHarness(false).svc.Catalog()
	require.NoError(t, err)
	assert.NotEmpty(t, groups)
}

func TestSyscollector(t *testing.T) {
	t.Parallel()

	h := newHarness(false)
	h.dispatcher.responses["/syscollector/001/hardware"] = domain.Envelope{Data: map[string]any{"cpu": map[string]any{"cores": 4}}}
	h.dispatcher.responses["/syscollector/001/os"] = domain.Envelope{Error: 1000}
	h.dispatcher.responses["/syscollector/001/packages"] = domain.Envelope{Data: map[string]any{
		"items": []any{map[string]any{"scan_time": "2019/03/04 10:11:12"}},
	}}
	h.dispatcher.responses["/syscollector/001/processes"] = domain.Envelope{Data: map[string]any{"items": []any{}}}

	snap, err := h.svc.Syscollector(context.Background(), "c1", "001")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"cpu": map[string]any{"cores": 4}}, snap.Hardware)
	assert.Equal(t, false, snap.OS)
	assert.Equal(t, "2019/03/04 10:11:12", snap.PackagesDate)
	assert.Equal(t, "Unknown", snap.ProcessesDate)

	var paths []string
	for _, r := range h.dispatcher.reqs {
		paths = append(paths, r.Path)
	}
	assert.Len(t, paths, 7)
	assert.True(t, strings.HasPrefix(paths[0], "/syscollector/001/"))

	_, err = h.svc.Syscollector(context.Background(), "c1", "")
	assert.ErrorIs(t, err, domain.ErrMissingParameter)
}

func TestSyscollectorEscapesAgentID(t *testing.T) {
	t.Parallel()

	for agentID, prefix := range map[string]string{
		"001?select=x":                "/syscollector/001%3Fselect=x/",
		"../../manager/configuration": "/syscollector/..%2F..%2Fmanager%2Fconfiguration/",
	} {
		h := newHarness(false)
		_, err := h.svc.Syscollector(context.Background(), "c1", agentID)
		require.NoError(t, err)
		require.Len(t, h.dispatcher.reqs, 7)
		for _, r := range h.dispatcher.reqs {
			assert.True(t, strings.HasPrefix(r.Path, prefix), r.Path)
		}
	}
}

func TestSyscollectorSwallowsSubCallErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(false)
	h.dispatcher.err = errors.New("timeout")
	snap, err := h.svc.Syscollector(context.Background(), "c1", "001")
	require.NoError(t, err)
	assert.Equal(t, domain.NewHostSnapshot(), snap)
}
