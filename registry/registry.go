// Package registry publishes running servers so clients can find them by service name.
package registry

import (
	"context"
	"errors"
)

var ErrNoInstances = errors.New("registry: no instances available")

// ServiceInstance describes one running server.
type ServiceInstance struct {
	ID      string `json:"id"`      // Unique per process, e.g. a UUID
	Addr    string `json:"addr"`    // Dialable address, e.g. "10.0.0.5:8080"
	Codec   string `json:"codec"`   // Payload codec the server speaks
	Version string `json:"version"` // Build version, informational
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, instanceID string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch sends the current instance list, then the full list after each change.
	// The channel closes when ctx ends.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
