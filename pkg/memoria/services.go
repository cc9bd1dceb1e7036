package memoria

import (
	"fmt"
)

const (
	// ServiceLogger is the service registry key for the process logger.
	ServiceLogger = "memoria.logger"
	// ServiceMemoryStore is the service registry key for the memory store.
	ServiceMemoryStore = "memoria.memory_store"
	// ServiceTranscriber is the service registry key for the transcription client.
	ServiceTranscriber = "memoria.transcriber"
	// ServiceRefiner is the service registry key for the text refinement client.
	ServiceRefiner = "memoria.refiner"
	// ServiceSummarizer is the service registry key for the summary engine.
	ServiceSummarizer = "memoria.summarizer"
	// ServiceClock is the service registry key for the civil clock.
	ServiceClock = "memoria.clock"
	// ServicePipelineMetrics is the service registry key for pipeline metrics.
	ServicePipelineMetrics = "memoria.pipeline_metrics"
)

// ServiceRegistry provides runtime dependency injection to modules and drivers.
type ServiceRegistry interface {
	// Register binds a singleton service value to a stable name.
	Register(name string, service any) error
	// Resolve returns a registered service by name.
	Resolve(name string) (any, error)
}

// ResolveAs resolves a service and casts it to the requested type.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}

	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: type assertion failed", name)
	}

	return typed, nil
}
