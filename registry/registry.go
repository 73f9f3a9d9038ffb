// Package registry resolves a service name to the instances that serve it.
//
// Addresses are fixed configuration: StaticRegistry holds them in memory and
// never changes them on its own.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNoInstances = errors.New("registry: no instances")

type ServiceInstance struct {
	Addr string
}

type Registry interface {
	Discover(serviceName string) ([]ServiceInstance, error)
}

// StaticRegistry maps service names to configured addresses. Services without
// an explicit entry resolve to the default addresses.
type StaticRegistry struct {
	mu       sync.RWMutex
	defaults []ServiceInstance
	services map[string][]ServiceInstance
}

var _ Registry = (*StaticRegistry)(nil)

// NewStaticRegistry returns a registry resolving every service to addrs.
func NewStaticRegistry(addrs ...string) *StaticRegistry {
	r := &StaticRegistry{services: make(map[string][]ServiceInstance)}
	for _, addr := range addrs {
		r.defaults = append(r.defaults, ServiceInstance{Addr: addr})
	}
	return r
}

// Register pins serviceName to instance, in addition to earlier registrations.
func (r *StaticRegistry) Register(serviceName string, instance ServiceInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[serviceName] = append(r.services[serviceName], instance)
}

// Discover returns a copy of the instances for serviceName.
func (r *StaticRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances, ok := r.services[serviceName]
	if !ok {
		instances = r.defaults
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w for service %s", ErrNoInstances, serviceName)
	}
	return append([]ServiceInstance(nil), instances...), nil
}
