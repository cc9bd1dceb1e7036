package kernel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"memoria/pkg/memoria"
)

// TestRegisterModuleDependencyValidation verifies capability-required service validation.
func TestRegisterModuleDependencyValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		registerStore bool
		wantErr       bool
	}{
		{name: "missing required service fails", wantErr: true},
		{name: "present required service succeeds", registerStore: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := New()
			if testCase.registerStore {
				if err := kernelRuntime.RegisterService(memoria.ServiceMemoryStore, struct{}{}); err != nil {
					t.Fatalf("register service failed: %v", err)
				}
			}

			module := &stubModule{
				name: "needs-store",
				capabilities: []memoria.Capability{
					{Name: "persist", RequiredServices: []string{memoria.ServiceMemoryStore}},
				},
			}
			err := kernelRuntime.RegisterModule(context.Background(), module)
			if testCase.wantErr && !errors.Is(err, memoria.ErrServiceNotFound) {
				t.Fatalf("error = %v, want ErrServiceNotFound", err)
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected module registration error: %v", err)
			}
		})
	}
}

// TestRegisterModuleRejectsDuplicates verifies unique module and driver names.
func TestRegisterModuleRejectsDuplicates(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	if err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "help"}); err != nil {
		t.Fatalf("register module failed: %v", err)
	}
	err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "help"})
	if !errors.Is(err, memoria.ErrModuleAlreadyRegistered) {
		t.Fatalf("error = %v, want ErrModuleAlreadyRegistered", err)
	}

	if err := kernelRuntime.RegisterDriver(&stubDriver{name: "telegram"}); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}
	if err := kernelRuntime.RegisterDriver(&stubDriver{name: "telegram"}); !errors.Is(err, memoria.ErrDriverAlreadyRegistered) {
		t.Fatalf("error = %v, want ErrDriverAlreadyRegistered", err)
	}
}

// TestRegisterModuleRollsBackOnHookFailure verifies failed registration leaves no module behind.
func TestRegisterModuleRollsBackOnHookFailure(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	failing := &stubModule{
		name:         "flaky",
		capabilities: []memoria.Capability{{Name: "all"}},
		onRegister: func(ctx context.Context, runtime memoria.ModuleRuntime) error {
			if _, err := runtime.Subscribe(ctx, memoria.SubscriptionSpec{Name: "flaky"}, noopHandler); err != nil {
				return err
			}
			return errors.New("boom")
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), failing); err == nil {
		t.Fatal("expected registration error")
	}
	if err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "flaky"}); err != nil {
		t.Fatalf("re-register after rollback failed: %v", err)
	}
	t.Cleanup(func() {
		_ = kernelRuntime.bus.Close(context.Background())
	})
}

// TestModuleSubscribeRequiresCapability verifies capability negotiation on subscribe.
func TestModuleSubscribeRequiresCapability(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	t.Cleanup(func() {
		_ = kernelRuntime.bus.Close(context.Background())
	})

	module := &stubModule{
		name: "help",
		capabilities: []memoria.Capability{
			{Name: "commands", Interest: memoria.InterestSet{Commands: []string{"start", "help"}}},
		},
		onRegister: func(ctx context.Context, runtime memoria.ModuleRuntime) error {
			_, err := runtime.Subscribe(ctx, memoria.SubscriptionSpec{
				Filter: memoria.InterestSet{Commands: []string{"delete_everything"}},
			}, noopHandler)
			return err
		},
	}
	err := kernelRuntime.RegisterModule(context.Background(), module)
	if !errors.Is(err, memoria.ErrInvalidSubscription) {
		t.Fatalf("error = %v, want ErrInvalidSubscription", err)
	}
}

// TestKernelRunCallsLifecycle verifies module and driver lifecycle through run and shutdown.
func TestKernelRunCallsLifecycle(t *testing.T) {
	t.Parallel()

	kernelRuntime := New(WithShutdownTimeout(time.Second))
	delivered := make(chan string, 1)
	module := &stubModule{
		name:         "echo",
		capabilities: []memoria.Capability{{Name: "text", Interest: memoria.InterestSet{PlainText: true}}},
		onRegister: func(ctx context.Context, runtime memoria.ModuleRuntime) error {
			_, err := runtime.Subscribe(ctx, memoria.SubscriptionSpec{
				Filter: memoria.InterestSet{PlainText: true},
			}, func(_ context.Context, event *memoria.Event) error {
				delivered <- event.Message.Text
				return nil
			})
			return err
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}
	driver := &stubDriver{name: "stub", publish: newTestEvent("e1", "hallo")}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- kernelRuntime.Run(ctx)
	}()

	select {
	case text := <-delivered:
		if text != "hallo" {
			t.Fatalf("delivered = %q, want hallo", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	cancel()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for run to return")
	}

	if module.started.Load() != 1 || module.shutdown.Load() != 1 {
		t.Fatalf("module started=%d shutdown=%d, want 1/1", module.started.Load(), module.shutdown.Load())
	}
	if driver.started.Load() != 1 || driver.stopped.Load() != 1 {
		t.Fatalf("driver started=%d stopped=%d, want 1/1", driver.started.Load(), driver.stopped.Load())
	}
}

// TestKernelRunReturnsDriverFailure verifies fatal driver errors end the run.
func TestKernelRunReturnsDriverFailure(t *testing.T) {
	t.Parallel()

	kernelRuntime := New(WithShutdownTimeout(time.Second))
	failure := errors.New("auth failed")
	if err := kernelRuntime.RegisterDriver(&stubDriver{name: "broken", startErr: failure}); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	err := kernelRuntime.Run(context.Background())
	if !errors.Is(err, failure) {
		t.Fatalf("run error = %v, want %v", err, failure)
	}
}

// TestServiceRegistry verifies registration and lookup errors.
func TestServiceRegistry(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	if err := registry.Register("clock", struct{}{}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := registry.Register("clock", struct{}{}); !errors.Is(err, memoria.ErrServiceAlreadyRegistered) {
		t.Fatalf("duplicate error = %v", err)
	}
	if err := registry.Register("", struct{}{}); err == nil {
		t.Fatal("expected empty name error")
	}
	if _, err := registry.Resolve("missing"); !errors.Is(err, memoria.ErrServiceNotFound) {
		t.Fatalf("resolve error = %v", err)
	}
	if _, err := memoria.ResolveAs[string](registry, "clock"); err == nil {
		t.Fatal("expected type assertion error")
	}
	if names := registry.Names(); len(names) != 1 || names[0] != "clock" {
		t.Fatalf("names = %v", names)
	}
}

func noopHandler(context.Context, *memoria.Event) error {
	return nil
}

type stubModule struct {
	name         string
	capabilities []memoria.Capability
	onRegister   func(ctx context.Context, runtime memoria.ModuleRuntime) error

	started  atomic.Int32
	shutdown atomic.Int32
}

func (m *stubModule) Name() string {
	return m.name
}

func (m *stubModule) Capabilities() []memoria.Capability {
	return m.capabilities
}

func (m *stubModule) OnRegister(ctx context.Context, runtime memoria.ModuleRuntime) error {
	if m.onRegister != nil {
		return m.onRegister(ctx, runtime)
	}
	return nil
}

func (m *stubModule) OnStart(context.Context) error {
	m.started.Add(1)
	return nil
}

func (m *stubModule) OnShutdown(context.Context) error {
	m.shutdown.Add(1)
	return nil
}

type stubDriver struct {
	name     string
	publish  *memoria.Event
	startErr error

	started atomic.Int32
	stopped atomic.Int32
}

func (d *stubDriver) Name() string {
	return d.name
}

func (d *stubDriver) Start(ctx context.Context, sink memoria.EventSink) error {
	d.started.Add(1)
	if d.startErr != nil {
		return d.startErr
	}
	if d.publish != nil {
		if err := sink.Publish(ctx, d.publish); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

func (d *stubDriver) Shutdown(context.Context) error {
	d.stopped.Add(1)
	return nil
}
