package observability

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusNamespace prefixes the metrics of the "prometheus" registry
// entry.
const PrometheusNamespace = "persistence"

var (
	observers = map[string]Observer{
		"noop": NoOpObserver{},
		"slog": NewSlogObserver(slog.Default()),
	}
	// factories build observers on first lookup. Each runs at most once; the
	// result replaces the factory in observers.
	factories = map[string]func() (Observer, error){
		"prometheus": func() (Observer, error) {
			return NewPrometheusObserver(prometheus.DefaultRegisterer, PrometheusNamespace)
		},
	}
	mutex sync.RWMutex
)

// GetObserver returns a registered observer by name. "noop", "slog" and
// "prometheus" are always available; configuration files refer to observers
// by these names. The "prometheus" observer registers its collectors with
// prometheus.DefaultRegisterer the first time it is requested.
func GetObserver(name string) (Observer, error) {
	mutex.RLock()
	obs, exists := observers[name]
	mutex.RUnlock()
	if exists {
		return obs, nil
	}

	mutex.Lock()
	defer mutex.Unlock()

	if obs, exists := observers[name]; exists {
		return obs, nil
	}
	factory, exists := factories[name]
	if !exists {
		return nil, fmt.Errorf("unknown observer: %s", name)
	}
	obs, err := factory()
	if err != nil {
		return nil, fmt.Errorf("observer %s: %w", name, err)
	}
	observers[name] = obs
	return obs, nil
}

// RegisterObserver adds or replaces a named observer.
func RegisterObserver(name string, observer Observer) {
	mutex.Lock()
	defer mutex.Unlock()

	observers[name] = observer
}

// ResolveObservers looks up each name and combines the results. An empty
// list yields NoOpObserver.
func ResolveObservers(names ...string) (Observer, error) {
	if len(names) == 0 {
		return NoOpObserver{}, nil
	}
	resolved := make([]Observer, 0, len(names))
	for _, name := range names {
		obs, err := GetObserver(name)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, obs)
	}
	if len(resolved) == 1 {
		return resolved[0], nil
	}
	return NewMultiObserver(resolved...), nil
}
