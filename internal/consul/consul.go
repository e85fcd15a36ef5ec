// Package consul registers this service with the local Consul agent so
// sibling services can discover it.
package consul

import (
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
)

// NewClient connects to the Consul agent at the given address.
func NewClient(address string) (*consulapi.Client, error) {
	config := consulapi.DefaultConfig()
	if address != "" {
		config.Address = address
	}
	client, err := consulapi.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return client, nil
}

// RegisterService registers the service with an HTTP health check on /ping.
func RegisterService(client *consulapi.Client, serviceID, name, address string, port int) error {
	registration := &consulapi.AgentServiceRegistration{
		ID:      serviceID,
		Name:    name,
		Address: address,
		Port:    port,
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/ping", address, port),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	if err := client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("failed to register service with consul: %w", err)
	}
	return nil
}

// DeregisterService removes the registration on shutdown.
func DeregisterService(client *consulapi.Client, serviceID string) error {
	if err := client.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	return nil
}
