package inspect_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-inject/framework/container"
	"github.com/km-arc/go-inject/framework/inspect"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

type store struct{}

type service struct{ store *store }

type orphan struct{ missing *uuid.UUID }

func tree(t *testing.T, rec *inspect.Recorder) (*container.Scope, *container.Scope) {
	t.Helper()
	root := container.New(container.WithObserver(rec))
	require.NoError(t, container.Singleton[*store](root, container.Provide(func() *store { return &store{} })))
	require.NoError(t, container.Singleton[*service](root, container.Provide(func(s *store) *service { return &service{store: s} })))
	require.NoError(t, container.Singleton[*orphan](root, container.Provide(func(id *uuid.UUID) *orphan { return &orphan{missing: id} })))

	domain, err := root.Domain()
	require.NoError(t, err)
	return root, domain
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var body struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Data
}

func message(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

// ── Recorder ──────────────────────────────────────────────────────────────────

func TestRecorder_KeepsMostRecentEvents(t *testing.T) {
	rec := inspect.NewRecorder(3)
	for i := 0; i < 5; i++ {
		rec.Circular(container.Path{})
	}

	events := rec.Events()

	require.Len(t, events, 3)
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{events[0].Seq, events[1].Seq, events[2].Seq})
	assert.Equal(t, "circular", events[0].Kind)
}

func TestRecorder_Since(t *testing.T) {
	rec := inspect.NewRecorder(8)
	for i := 0; i < 4; i++ {
		rec.Circular(container.Path{})
	}

	since := rec.Since(2)

	require.Len(t, since, 2)
	assert.Equal(t, uint64(3), since[0].Seq)
	assert.Nil(t, rec.Since(4))
}

func TestRecorder_ObservesResolution(t *testing.T) {
	rec := inspect.NewRecorder(64)
	root, _ := tree(t, rec)

	_, err := container.Resolve[*service](root)
	require.NoError(t, err)

	kinds := map[string]int{}
	for _, e := range rec.Events() {
		kinds[e.Kind]++
	}
	assert.Equal(t, 2, kinds["descending"])
	assert.Equal(t, 2, kinds["ascending"])
	assert.Equal(t, 2, kinds["instantiated"])
}

// ── Inspector ─────────────────────────────────────────────────────────────────

func TestInspector_Scopes(t *testing.T) {
	rec := inspect.NewRecorder(16)
	root, domain := tree(t, rec)
	h := inspect.New(root, rec).Handler()

	rr := get(t, h, "/scopes")

	require.Equal(t, http.StatusOK, rr.Code)
	info := decode[inspect.ScopeInfo](t, rr)
	assert.Equal(t, root.ID().String(), info.ID)
	assert.Equal(t, "global", info.Kind)
	assert.Equal(t, 3, info.Bindings)
	require.Len(t, info.Children, 1)
	assert.Equal(t, domain.ID().String(), info.Children[0].ID)
	assert.Equal(t, "domain", info.Children[0].Kind)
	assert.Equal(t, root.ID().String(), info.Children[0].Parent)
}

func TestInspector_Bindings(t *testing.T) {
	root, _ := tree(t, inspect.NewRecorder(16))
	h := inspect.New(root, nil).Handler()

	rr := get(t, h, "/scopes/"+root.ID().String()+"/bindings")

	require.Equal(t, http.StatusOK, rr.Code)
	infos := decode[[]container.BindingInfo](t, rr)
	require.Len(t, infos, 3)
	assert.Equal(t, "*inspect_test.store", infos[0].API)
	assert.Equal(t, "singleton", infos[0].Cardinality)
}

func TestInspector_Bindings_BadScope(t *testing.T) {
	root, _ := tree(t, inspect.NewRecorder(16))
	h := inspect.New(root, nil).Handler()

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/scopes/not-a-uuid/bindings").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/scopes/"+uuid.NewString()+"/bindings").Code)
}

func TestInspector_Graph(t *testing.T) {
	root, domain := tree(t, inspect.NewRecorder(16))
	h := inspect.New(root, nil).Handler()

	rr := get(t, h, "/scopes/"+domain.ID().String()+"/graph?api="+url.QueryEscape("*inspect_test.service"))

	require.Equal(t, http.StatusOK, rr.Code)
	g := decode[inspect.Graph](t, rr)
	assert.Equal(t, "*inspect_test.service", g.Root)
	assert.Equal(t, []inspect.Edge{{Declaring: "*inspect_test.service", Dependency: "*inspect_test.store"}}, g.Edges)
	assert.ElementsMatch(t, []string{"*inspect_test.service", "*inspect_test.store"}, g.Resolved)
	assert.Empty(t, g.Cycles)
	assert.Equal(t, 0, root.CachedCount(), "analysis builds nothing")
}

func TestInspector_Graph_Errors(t *testing.T) {
	root, _ := tree(t, inspect.NewRecorder(16))
	h := inspect.New(root, nil).Handler()
	base := "/scopes/" + root.ID().String() + "/graph"

	assert.Equal(t, http.StatusBadRequest, get(t, h, base).Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, base+"?api=nope").Code)

	rr := get(t, h, base+"?api="+url.QueryEscape("*inspect_test.orphan"))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	body := message(t, rr)
	assert.Contains(t, body["message"], "no binding registered")
	assert.Contains(t, body["path"], "*uuid.UUID")
}

func TestInspector_Events(t *testing.T) {
	rec := inspect.NewRecorder(64)
	root, _ := tree(t, rec)
	h := inspect.New(root, rec).Handler()
	_, err := container.Resolve[*store](root)
	require.NoError(t, err)

	all := decode[[]inspect.Event](t, get(t, h, "/events"))
	require.NotEmpty(t, all)

	last := all[len(all)-1].Seq
	rr := get(t, h, "/events?since="+strconv.FormatUint(last, 10))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[[]inspect.Event](t, rr))

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/events?since=-1").Code)
}

func TestInspector_Events_WithoutRecorder(t *testing.T) {
	root, _ := tree(t, inspect.NewRecorder(16))
	h := inspect.New(root, nil).Handler()

	rr := get(t, h, "/events")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"data":[]}`, rr.Body.String())
}
