package route

import (
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// RouterLoader initializes routes on a router. The main server passes its
// engine; the management server passes a bare engine of its own.
type RouterLoader func(r gin.IRouter) error

// RouteType distinguishes which server a plugin's routes belong to.
type RouteType int

const (
	// RouteTypeMain registers routes on the main API server.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement registers routes on the management server (health, metrics).
	// When no dedicated management port is configured, these are mounted on the main server.
	RouteTypeManagement
)

// Plugin represents a route plugin with an order for deterministic mount sequence.
type Plugin struct {
	Name   string
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var (
	mu      sync.Mutex
	plugins []Plugin
	sorted  bool
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	plugins = append(plugins, p)
	sorted = false
}

func byType(t RouteType) []Plugin {
	mu.Lock()
	defer mu.Unlock()
	if !sorted {
		sort.SliceStable(plugins, func(i, j int) bool { return plugins[i].Order < plugins[j].Order })
		sorted = true
	}
	var out []Plugin
	for _, p := range plugins {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// MainRoutes returns RouteTypeMain plugins, sorted by order.
func MainRoutes() []Plugin {
	return byType(RouteTypeMain)
}

// ManagementRoutes returns RouteTypeManagement plugins, sorted by order.
func ManagementRoutes() []Plugin {
	return byType(RouteTypeManagement)
}
