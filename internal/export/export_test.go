package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koltyakov/wazuhproxy/internal/domain"
)

// pagedUpstream serves total synthetic agents, honoring limit and offset.
type pagedUpstream struct {
	total   int
	reqs    []domain.Request
	failAt  int
	errCode int
}

func (p *pagedUpstream) DispatchRaw(_ context.Context, _ domain.Endpoint, req domain.Request) (domain.Envelope, []byte, error) {
	p.reqs = append(p.reqs, req)
	if p.failAt > 0 && len(p.reqs) == p.failAt {
		return domain.Envelope{}, nil, errors.New("connection reset")
	}
	if p.errCode != 0 {
		return domain.Envelope{Error: p.errCode, Message: "bad"}, nil, nil
	}
	limit := intValue(req.Params["limit"], 0)
	offset := intValue(req.Params["offset"], 0)
	var items []string
	for i := offset; i < offset+limit && i < p.total; i++ {
		items = append(items, fmt.Sprintf(`{"name":"agent-%d","id":"%03d","os":{"platform":"linux"},"group":["default","web"]}`, i, i))
	}
	raw := []byte(fmt.Sprintf(`{"error":0,"data":{"totalItems":%d,"items":[%s]}}`, p.total, strings.Join(items, ",")))
	return decode(raw), raw, nil
}

func decode(raw []byte) domain.Envelope {
	var env domain.Envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		panic(err)
	}
	return env
}

type staticUpstream struct {
	raw string
}

func (s staticUpstream) DispatchRaw(context.Context, domain.Endpoint, domain.Request) (domain.Envelope, []byte, error) {
	return decode([]byte(s.raw)), []byte(s.raw), nil
}

func TestExportPaginatesToTotal(t *testing.T) {
	t.Parallel()

	up := &pagedUpstream{total: 2500}
	var out bytes.Buffer
	res, err := New(up, Options{}).Export(context.Background(), domain.Endpoint{}, "/agents", nil, &out)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 2500, res.Rows)
	require.Len(t, up.reqs, 3)
	for i, req := range up.reqs {
		assert.Equal(t, domain.MethodGet, req.Method)
		assert.Equal(t, i*1000, req.Params["offset"])
		assert.Equal(t, 1000, req.Params["limit"])
	}

	records, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2501)
	assert.Equal(t, []string{"name", "id", "os", "group"}, records[0])
	assert.Equal(t, []string{"agent-0", "000", `{"platform":"linux"}`, `["default","web"]`}, records[1])
	assert.Equal(t, "agent-2499", records[2500][0])
}

func TestExportExactMultiple(t *testing.T) {
	t.Parallel()

	up := &pagedUpstream{total: 2000}
	res, err := New(up, Options{}).Export(context.Background(), domain.Endpoint{}, "/agents", nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 2000, res.Rows)
}

func TestExportHonorsMaxPages(t *testing.T) {
	t.Parallel()

	up := &pagedUpstream{total: 10000}
	res, err := New(up, Options{MaxPages: 2}).Export(context.Background(), domain.Endpoint{}, "/agents", nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 2000, res.Rows)
}

func TestExportCallerFilters(t *testing.T) {
	t.Parallel()

	up := &pagedUpstream{total: 5}
	_, err := New(up, Options{}).Export(context.Background(), domain.Endpoint{}, "/agents",
		map[string]any{"limit": json.Number("2"), "status": "active", "q": ""}, &bytes.Buffer{})
	require.NoError(t, err)

	require.Len(t, up.reqs, 3)
	assert.Equal(t, 2, up.reqs[2].Params["limit"])
	assert.Equal(t, 4, up.reqs[2].Params["offset"])
	assert.Equal(t, "active", up.reqs[0].Params["status"])
	_, hasQ := up.reqs[0].Params["q"]
	assert.False(t, hasQ, "empty filter values are dropped")
}

func TestExportEmptyFirstPage(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`{"error":0,"data":{"totalItems":0,"items":[]}}`,
		`{"error":0,"data":{"affected_items":[]}}`,
		`{"error":0}`,
	} {
		var out bytes.Buffer
		res, err := New(staticUpstream{raw: raw}, Options{}).Export(context.Background(), domain.Endpoint{}, "/agents", nil, &out)
		require.NoError(t, err, raw)
		assert.True(t, res.Empty)
		assert.Equal(t, "[]", out.String())
	}
}

func TestExportCDBList(t *testing.T) {
	t.Parallel()

	raw := `{"error":0,"data":{"totalItems":1,"items":[{"audit-wazuh":"write","audit-wazuh-x":"execute"}]}}`
	var out bytes.Buffer
	res, err := New(staticUpstream{raw: raw}, Options{}).Export(context.Background(), domain.Endpoint{},
		"/manager/files?path=etc/lists/audit-keys", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rows)

	records, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"items"}, records[0])
	assert.JSONEq(t, `{"audit-wazuh":"write","audit-wazuh-x":"execute"}`, records[1][0])
}

func TestExportIgnoresExtraKeysAndFillsMissing(t *testing.T) {
	t.Parallel()

	raw := `{"error":0,"data":{"totalItems":2,"items":[{"a":"1","b":true},{"a":"2","c":"x"}]}}`
	var out bytes.Buffer
	_, err := New(staticUpstream{raw: raw}, Options{}).Export(context.Background(), domain.Endpoint{}, "/x", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,true\n2,\n", out.String())
}

func TestExportErrors(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	_, err := New(&pagedUpstream{total: 10, errCode: 1000}, Options{}).Export(context.Background(), domain.Endpoint{}, "/agents", nil, &out)
	var upErr *domain.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, 1000, upErr.Code)

	_, err = New(&pagedUpstream{total: 2500, failAt: 2}, Options{}).Export(context.Background(), domain.Endpoint{}, "/agents", nil, &out)
	assert.Error(t, err)
	assert.Zero(t, out.Len(), "a failed export writes nothing")
}

func TestCell(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"plain", "plain"},
		{json.Number("42"), "42"},
		{json.Number("1.5"), "1.5"},
		{true, "true"},
		{false, "false"},
		{map[string]any{"b": "2", "a": json.Number("1")}, `{"a":1,"b":"2"}`},
		{[]any{"x", json.Number("1"), map[string]any{"k": "v"}}, `["x","1","{\"k\":\"v\"}"]`},
		{[]any{}, `[]`},
	}
	for _, tt := range tests {
		got, err := Cell(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := Cell(struct{}{})
	assert.ErrorIs(t, err, domain.ErrSerialization)
}

func TestObjectKeysPreservesOrder(t *testing.T) {
	t.Parallel()

	keys, err := objectKeys(json.RawMessage(`{"zeta":1,"alpha":{"nested":true},"mid":[1,2],"alpha":2}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, keys)

	_, err = objectKeys(json.RawMessage(`[1]`))
	assert.ErrorIs(t, err, domain.ErrSerialization)
}
