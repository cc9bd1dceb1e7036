package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"memoria/pkg/memoria"
)

// Kernel wires drivers, modules, services and the event bus into one runtime.
type Kernel struct {
	cfg config

	bus      *EventBus
	services *ServiceRegistry

	mu      sync.RWMutex
	modules []*moduleRecord
	drivers []memoria.Driver

	runMu   sync.Mutex
	running bool
}

// New creates a kernel runtime.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &Kernel{
		cfg:      cfg,
		bus:      NewEventBus(cfg.subscriptionBuffer, cfg.subscriptionWorker, cfg.handlerTimeout, cfg.onAsyncError),
		services: NewServiceRegistry(),
	}
}

// EventBus exposes the kernel event bus to integration code.
func (k *Kernel) EventBus() memoria.EventBus {
	return k.bus
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() memoria.ServiceRegistry {
	return k.services
}

// RegisterService registers a process-lifetime collaborator.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterModule validates declared dependencies and runs the module OnRegister hook.
//
// A failed hook rolls the module back, closing any subscriptions it created.
func (k *Kernel) RegisterModule(ctx context.Context, module memoria.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}

	record := &moduleRecord{
		name:         name,
		module:       module,
		capabilities: module.Capabilities(),
	}
	if err := k.checkRequiredServices(record.capabilities); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	k.mu.Lock()
	if slices.ContainsFunc(k.modules, func(existing *moduleRecord) bool { return existing.name == name }) {
		k.mu.Unlock()
		return fmt.Errorf("register module %s: %w", name, memoria.ErrModuleAlreadyRegistered)
	}
	k.modules = append(k.modules, record)
	k.mu.Unlock()

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	runtime := &moduleRuntime{record: record, services: k.services, bus: k.bus}
	if err := runSafely("module "+name+" OnRegister", func() error {
		return module.OnRegister(hookCtx, runtime)
	}); err != nil {
		k.rollback(ctx, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	k.cfg.logger.DebugContext(ctx, "module registered", "module", name)

	return nil
}

// RegisterDriver registers a platform driver.
func (k *Kernel) RegisterDriver(driver memoria.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if slices.ContainsFunc(k.drivers, func(existing memoria.Driver) bool { return existing.Name() == name }) {
		return fmt.Errorf("register driver %s: %w", name, memoria.ErrDriverAlreadyRegistered)
	}
	k.drivers = append(k.drivers, driver)

	return nil
}

// Run starts modules and drivers and blocks until ctx ends or a driver fails.
//
// With no drivers registered Run blocks until ctx ends.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.beginRun(); err != nil {
		return err
	}
	defer k.endRun()

	modules, drivers := k.snapshot()
	if err := k.startModules(ctx, modules); err != nil {
		return errors.Join(err, k.shutdown(ctx, modules, drivers))
	}

	runCtx, stopDrivers := context.WithCancel(ctx)
	driverErr, driversDone := k.startDrivers(runCtx, drivers)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-driverErr:
	}

	stopDrivers()
	select {
	case <-driversDone:
	case <-time.After(k.cfg.shutdownTimeout):
		k.cfg.logger.WarnContext(ctx, "drivers did not stop before shutdown timeout")
	}

	return errors.Join(runErr, k.shutdown(ctx, modules, drivers))
}

func (k *Kernel) beginRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	return nil
}

func (k *Kernel) endRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

func (k *Kernel) snapshot() ([]*moduleRecord, []memoria.Driver) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.modules), slices.Clone(k.drivers)
}

func (k *Kernel) startModules(ctx context.Context, modules []*moduleRecord) error {
	for _, record := range modules {
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
	}

	return nil
}

// startDrivers runs every driver on its own goroutine. The first fatal error is
// delivered on the returned channel; done closes once all drivers returned.
func (k *Kernel) startDrivers(ctx context.Context, drivers []memoria.Driver) (<-chan error, <-chan struct{}) {
	fatal := make(chan error, 1)
	done := make(chan struct{})

	var wg sync.WaitGroup
	for _, driver := range drivers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := runSafely("driver "+driver.Name()+" Start", func() error {
				return driver.Start(ctx, k.bus)
			})
			if err == nil || isContextCancellation(err) {
				return
			}
			select {
			case fatal <- fmt.Errorf("run driver %s: %w", driver.Name(), err):
			default:
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	return fatal, done
}

// shutdown stops drivers, then modules, then the bus, in reverse registration
// order. It runs detached from ctx cancellation within the shutdown timeout.
func (k *Kernel) shutdown(ctx context.Context, modules []*moduleRecord, drivers []memoria.Driver) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, driver := range slices.Backward(drivers) {
		if err := runSafely("driver "+driver.Name()+" Shutdown", func() error {
			return driver.Shutdown(shutdownCtx)
		}); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}
	for _, record := range slices.Backward(modules) {
		if err := record.closeSubscriptions(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("module %s: %w", record.name, err))
		}
		hookCtx, hookCancel := context.WithTimeout(shutdownCtx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnShutdown", func() error {
			return record.module.OnShutdown(hookCtx)
		})
		hookCancel()
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}
	if err := k.bus.Close(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

func (k *Kernel) rollback(ctx context.Context, record *moduleRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.moduleHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.cfg.onAsyncError(rollbackCtx, "rollback module "+record.name, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.modules = slices.DeleteFunc(k.modules, func(existing *moduleRecord) bool { return existing == record })
}

func (k *Kernel) checkRequiredServices(capabilities []memoria.Capability) error {
	for _, capability := range capabilities {
		for _, service := range capability.RequiredServices {
			if _, err := k.services.Resolve(service); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, service, err)
			}
		}
	}

	return nil
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
