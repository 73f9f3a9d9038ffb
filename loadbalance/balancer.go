// Package loadbalance picks the instance an RPC is sent to.
package loadbalance

import "userdir/registry"

// Balancer is consulted before every call, from many goroutines at once.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name for logging.
	Name() string
}
