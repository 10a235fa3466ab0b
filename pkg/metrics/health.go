package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus summarizes the registered components
type HealthStatus struct {
	Status     string            `json:"status"` // healthy/unhealthy or ready/not_ready
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth is the last reported state of one component, such as
// the store or a scheduler loop process
type ComponentHealth struct {
	Name    string    `json:"name"`
	Healthy bool      `json:"healthy"`
	Message string    `json:"message,omitempty"`
	Updated time.Time `json:"updated"`
	// Since is when Healthy last changed
	Since time.Time `json:"since"`
	// Flaps counts healthy/unhealthy changes; a loop the supervisor keeps
	// restarting shows up here
	Flaps int `json:"flaps"`
}

type registry struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	critical   []string
	started    time.Time
	version    string
}

func newRegistry(critical ...string) *registry {
	return &registry{
		components: make(map[string]*ComponentHealth),
		critical:   critical,
		started:    time.Now(),
	}
}

var components = newRegistry("store")

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.version = version
}

// SetCriticalComponents sets the components that must be healthy for readiness.
// The scheduler supervisor marks the store and every loop it runs as critical.
func SetCriticalComponents(names ...string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.critical = append([]string(nil), names...)
}

// RegisterComponent (re)starts tracking a component with a fresh history
func RegisterComponent(name string, healthy bool, message string) {
	components.mu.Lock()
	defer components.mu.Unlock()

	now := time.Now()
	components.components[name] = &ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: now,
		Since:   now,
	}
}

// UpdateComponent records a component's current state. An unknown
// component is registered.
func UpdateComponent(name string, healthy bool, message string) {
	components.mu.Lock()
	c, ok := components.components[name]
	if !ok {
		components.mu.Unlock()
		RegisterComponent(name, healthy, message)
		return
	}
	defer components.mu.Unlock()

	now := time.Now()
	if c.Healthy != healthy {
		c.Healthy = healthy
		c.Since = now
		c.Flaps++
	}
	c.Message = message
	c.Updated = now
}

// Components returns a copy of every registered component, sorted by name
func Components() []ComponentHealth {
	components.mu.RLock()
	defer components.mu.RUnlock()

	out := make([]ComponentHealth, 0, len(components.components))
	for _, c := range components.components {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetHealth reports every registered component; one unhealthy component
// makes the whole status unhealthy
func GetHealth() HealthStatus {
	components.mu.RLock()
	defer components.mu.RUnlock()

	hs := components.status("healthy")
	for name, c := range components.components {
		if c.Healthy {
			hs.Components[name] = "healthy"
			continue
		}
		hs.Status = "unhealthy"
		hs.Components[name] = "unhealthy: " + c.Message
	}
	return hs
}

// GetReadiness reports only the critical components. A critical component
// that was never registered is not ready.
func GetReadiness() HealthStatus {
	components.mu.RLock()
	defer components.mu.RUnlock()

	hs := components.status("ready")
	for _, name := range components.critical {
		c, ok := components.components[name]
		switch {
		case !ok:
			hs.Status = "not_ready"
			hs.Message = "waiting for " + name + " initialization"
			hs.Components[name] = "not registered"
		case !c.Healthy:
			hs.Status = "not_ready"
			hs.Message = "waiting for " + name
			hs.Components[name] = "not ready: " + c.Message
		default:
			hs.Components[name] = "ready"
		}
	}
	return hs
}

func (r *registry) status(initial string) HealthStatus {
	return HealthStatus{
		Status:     initial,
		Timestamp:  time.Now(),
		Components: make(map[string]string),
		Version:    r.version,
		Uptime:     time.Since(r.started).Round(time.Second).String(),
	}
}

// HealthHandler serves GetHealth plus the per-component detail. It answers
// 503 while any component is unhealthy.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := struct {
			HealthStatus
			Details []ComponentHealth `json:"details"`
		}{GetHealth(), Components()}

		code := http.StatusOK
		if body.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// LivenessHandler answers 200 while the process is up
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(components.started).Round(time.Second).String(),
		})
	}
}
