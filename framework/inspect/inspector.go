// Package inspect serves a read-only JSON view of a scope tree: its scopes,
// their bindings, the static dependency graph below a type and the most
// recent traversal events.
package inspect

import (
	"errors"
	"net/http"
	"reflect"

	"github.com/google/uuid"

	"github.com/km-arc/go-inject/framework/container"
	gohttp "github.com/km-arc/go-inject/framework/http"
	"github.com/km-arc/go-inject/framework/routing"
)

// ScopeInfo describes one scope and its subtree.
type ScopeInfo struct {
	ID       string      `json:"id"`
	Kind     string      `json:"kind"`
	Parent   string      `json:"parent,omitempty"`
	Closed   bool        `json:"closed"`
	Cached   int         `json:"cached"`
	Bindings int         `json:"bindings"`
	Children []ScopeInfo `json:"children,omitempty"`
}

// Edge is a dependency from Declaring to Dependency.
type Edge struct {
	Declaring  string `json:"declaring"`
	Dependency string `json:"dependency"`
}

// Graph is the static dependency graph below one type.
type Graph struct {
	Root     string   `json:"root"`
	Edges    []Edge   `json:"edges"`
	Resolved []string `json:"resolved"`
	Cycles   []string `json:"cycles"`
}

// Inspector serves the introspection API for a scope tree.
type Inspector struct {
	root   *container.Scope
	events *Recorder
}

// New creates an inspector for the tree rooted at root. events may be nil,
// in which case /events is empty.
func New(root *container.Scope, events *Recorder) *Inspector {
	return &Inspector{root: root, events: events}
}

// Routes registers the inspector endpoints on r:
//
//	GET /scopes                    scope tree
//	GET /scopes/{id}/bindings      bindings declared in one scope
//	GET /scopes/{id}/graph?api=T   static graph below T, resolved from that scope
//	GET /events?since=N            recorded traversal events
func (i *Inspector) Routes(r *routing.Router) {
	r.Get("/scopes", i.scopes)
	r.Get("/scopes/{id}/bindings", i.bindings)
	r.Get("/scopes/{id}/graph", i.graph)
	r.Get("/events", i.eventList)
}

// Handler returns a standalone router serving the inspector endpoints.
func (i *Inspector) Handler() http.Handler {
	r := routing.New(i.root.Logger())
	i.Routes(r)
	return r
}

func (i *Inspector) scopes(w http.ResponseWriter, req *http.Request) {
	gohttp.NewResponse(w).Success(describe(i.root))
}

func (i *Inspector) bindings(w http.ResponseWriter, req *http.Request) {
	s, ok := i.scope(w, req)
	if !ok {
		return
	}
	gohttp.NewResponse(w).Success(s.Bindings())
}

func (i *Inspector) graph(w http.ResponseWriter, req *http.Request) {
	s, ok := i.scope(w, req)
	if !ok {
		return
	}
	res := gohttp.NewResponse(w)
	in := gohttp.NewRequest(req)

	name := in.Query("api")
	if name == "" {
		res.BadRequest("missing api query parameter")
		return
	}
	api, found := s.TypeByName(name)
	if !found {
		res.NotFound("no binding for " + name)
		return
	}

	g := &graphCollector{edges: []Edge{}, resolved: []string{}, cycles: []string{}}
	if err := s.Analyze(api, g); err != nil {
		var re *container.ResolutionError
		if errors.As(err, &re) && re.Err != nil {
			res.Unprocessable(re.Err.Error(), re.Path.String())
			return
		}
		res.Unprocessable(err.Error(), "")
		return
	}
	res.Success(Graph{Root: api.String(), Edges: g.edges, Resolved: g.resolved, Cycles: g.cycles})
}

func (i *Inspector) eventList(w http.ResponseWriter, req *http.Request) {
	res := gohttp.NewResponse(w)
	if i.events == nil {
		res.Success([]Event{})
		return
	}
	since := gohttp.NewRequest(req).QueryInt("since", 0)
	if since < 0 {
		res.BadRequest("since must not be negative")
		return
	}
	events := i.events.Since(uint64(since))
	if events == nil {
		events = []Event{}
	}
	res.Success(events)
}

func (i *Inspector) scope(w http.ResponseWriter, req *http.Request) (*container.Scope, bool) {
	res := gohttp.NewResponse(w)
	id, err := uuid.Parse(gohttp.NewRequest(req).RouteParam("id"))
	if err != nil {
		res.BadRequest("invalid scope id")
		return nil, false
	}
	s, ok := i.root.Find(id)
	if !ok {
		res.NotFound("scope not found")
		return nil, false
	}
	return s, true
}

func describe(s *container.Scope) ScopeInfo {
	info := ScopeInfo{
		ID:       s.ID().String(),
		Kind:     s.Kind().String(),
		Closed:   s.Closed(),
		Cached:   s.CachedCount(),
		Bindings: len(s.Bindings()),
	}
	if p := s.Parent(); p != nil {
		info.Parent = p.ID().String()
	}
	for _, c := range s.Children() {
		info.Children = append(info.Children, describe(c))
	}
	return info
}

// graphCollector turns an analysis walk into a Graph.
type graphCollector struct {
	container.BaseObserver

	seen     map[Edge]bool
	edges    []Edge
	resolved []string
	cycles   []string
}

func (g *graphCollector) Descending(_ container.Path, declaring, dependency reflect.Type) {
	if declaring == nil {
		return
	}
	e := Edge{Declaring: declaring.String(), Dependency: dependency.String()}
	if g.seen == nil {
		g.seen = make(map[Edge]bool)
	}
	if !g.seen[e] {
		g.seen[e] = true
		g.edges = append(g.edges, e)
	}
}

func (g *graphCollector) Resolved(_ container.Path, concrete reflect.Type) {
	g.resolved = append(g.resolved, concrete.String())
}

func (g *graphCollector) Circular(path container.Path) {
	g.cycles = append(g.cycles, path.String())
}
