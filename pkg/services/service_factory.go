package services

import (
	"sync"

	"github.com/deploymenttheory/go-ntfsbox/internal/config"
)

// ServiceFactory provides a centralized way to create and manage services
type ServiceFactory struct {
	cfg              *config.Config
	containerService ContainerService
	mu               sync.RWMutex
	initialized      bool
}

// NewServiceFactory creates a new service factory using cfg. A nil cfg
// selects the built-in defaults.
func NewServiceFactory(cfg *config.Config) *ServiceFactory {
	return &ServiceFactory{cfg: cfg}
}

// Initialize initializes all services with their dependencies
func (sf *ServiceFactory) Initialize() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if sf.initialized {
		return nil
	}
	sf.containerService = NewContainerService(sf.cfg)
	sf.initialized = true
	return nil
}

// ContainerService returns the container service instance
func (sf *ServiceFactory) ContainerService() (ContainerService, error) {
	if err := sf.Initialize(); err != nil {
		return nil, err
	}
	sf.mu.RLock()
	defer sf.mu.RUnlock()

	if sf.containerService == nil {
		return nil, ErrServiceNotInitialized
	}
	return sf.containerService, nil
}

// Shutdown drops the services. A later call to ContainerService creates
// them again.
func (sf *ServiceFactory) Shutdown() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	sf.containerService = nil
	sf.initialized = false
	return nil
}

// IsInitialized returns whether the factory has been initialized
func (sf *ServiceFactory) IsInitialized() bool {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	return sf.initialized
}
