package loadbalance

import (
	"errors"
	"sync/atomic"

	"userdir/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// RoundRobinBalancer cycles through instances in order using an atomic counter.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	index := (b.counter.Add(1) - 1) % uint64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
