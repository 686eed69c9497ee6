// pkg/registry/registry.go
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

//go:embed activities.json
var defaultRegistry []byte

// LoadRegistry reads a registry file. An empty path returns the built-in
// registry.
func LoadRegistry(path string) (*ActivityRegistry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Default is the registry of the activities shipped with the portal.
func Default() (*ActivityRegistry, error) {
	return Parse(defaultRegistry)
}

func Parse(data []byte) (*ActivityRegistry, error) {
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse activity registry: %w", err)
	}
	return &reg, nil
}

// Find returns the activity handling taskType.
func (r *ActivityRegistry) Find(taskType string) (*Activity, error) {
	for i := range r.Activities {
		if r.Activities[i].TaskType == taskType {
			return &r.Activities[i], nil
		}
	}
	return nil, fmt.Errorf("activity for task type %q not registered", taskType)
}

// TimeoutDuration parses Timeout, falling back to def when unset or invalid.
func (a *Activity) TimeoutDuration(def time.Duration) time.Duration {
	d, err := time.ParseDuration(a.Timeout)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
