package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hookrelay/pkg/hookrelay"
)

// ErrRegistryFrozen rejects module or driver registration after Run started.
var ErrRegistryFrozen = errors.New("kernel: registry frozen")

// Kernel owns the command registry, dispatches invocations submitted by
// drivers, and runs module and driver lifecycles.
//
// Registration happens before Run; afterwards the registry is read-only.
type Kernel struct {
	cfg config

	mu          sync.RWMutex
	frozen      bool
	modules     []hookrelay.Module
	moduleNames map[string]struct{}
	drivers     []hookrelay.Driver
	driverNames map[string]struct{}
	commands    map[string]commandRegistration

	inflightMu sync.Mutex
	inflight   sync.WaitGroup
	draining   bool

	runMu   sync.Mutex
	running bool
}

// New creates a kernel with an empty registry.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &Kernel{
		cfg:         cfg,
		moduleNames: make(map[string]struct{}),
		driverNames: make(map[string]struct{}),
		commands:    make(map[string]commandRegistration),
	}
}

// RegisterModule registers module and every command it declares.
//
// A command name already taken, inside module or by an earlier module, rejects
// the module and leaves the registry unchanged.
func (k *Kernel) RegisterModule(module hookrelay.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}

	bindings := module.Spec().Commands

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.frozen {
		return fmt.Errorf("register module %s: %w", name, ErrRegistryFrozen)
	}
	if _, exists := k.moduleNames[name]; exists {
		return fmt.Errorf("register module %s: %w", name, hookrelay.ErrModuleAlreadyRegistered)
	}
	if err := k.registerModuleCommandsLocked(name, bindings); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}
	k.moduleNames[name] = struct{}{}
	k.modules = append(k.modules, module)

	return nil
}

// RegisterDriver registers a platform driver started by Run.
func (k *Kernel) RegisterDriver(driver hookrelay.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.frozen {
		return fmt.Errorf("register driver %s: %w", name, ErrRegistryFrozen)
	}
	if _, exists := k.driverNames[name]; exists {
		return fmt.Errorf("register driver %s: %w", name, hookrelay.ErrDriverAlreadyRegistered)
	}
	k.driverNames[name] = struct{}{}
	k.drivers = append(k.drivers, driver)

	return nil
}

// Run starts modules, runs drivers, and blocks until ctx ends or a driver
// fails.
//
// On exit it stops accepting invocations, waits for in-flight ones within the
// shutdown timeout, then stops drivers and modules in reverse order.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.startRun(); err != nil {
		return err
	}
	defer k.finishRun()

	modules, drivers := k.snapshot()
	if err := k.startModules(ctx, modules); err != nil {
		return err
	}
	k.cfg.logger.InfoContext(ctx, "kernel running",
		"modules", len(modules),
		"drivers", len(drivers),
		"commands", k.commandCount(),
	)

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	driverErr, waitDrivers := k.startDrivers(runCtx, drivers)

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-driverErr:
		runErr = err
	}

	k.drainInvocations(ctx)
	runCancel()
	waitDrivers()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()
	shutdownErr := errors.Join(
		k.shutdownDrivers(shutdownCtx, drivers),
		k.shutdownModules(shutdownCtx, modules),
	)
	if shutdownErr != nil {
		shutdownErr = fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	if isContextCancellation(runErr) {
		runErr = nil
	}

	return errors.Join(runErr, shutdownErr)
}

// startRun rejects concurrent runs and freezes the registry.
func (k *Kernel) startRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	k.mu.Lock()
	k.frozen = true
	k.mu.Unlock()

	k.inflightMu.Lock()
	k.draining = false
	k.inflightMu.Unlock()

	return nil
}

func (k *Kernel) finishRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

// startModules runs OnStart in registration order.
//
// When one module fails, modules already started are shut down in reverse.
func (k *Kernel) startModules(ctx context.Context, modules []hookrelay.Module) error {
	for index, module := range modules {
		name := module.Name()
		if err := k.moduleHook(ctx, name, "OnStart", module.OnStart); err != nil {
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
			defer cancel()
			if rollbackErr := k.shutdownModules(cleanupCtx, modules[:index]); rollbackErr != nil {
				k.cfg.logger.WarnContext(ctx, "module rollback failed", "error", rollbackErr)
			}

			return fmt.Errorf("start module %s: %w", name, err)
		}
		k.cfg.logger.DebugContext(ctx, "module started", "module", name)
	}

	return nil
}

func (k *Kernel) moduleHook(ctx context.Context, name string, hook string, fn func(context.Context) error) error {
	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	return runSafely("module "+name+" "+hook, func() error {
		return fn(hookCtx)
	})
}

// startDrivers runs every driver on its own goroutine.
//
// The returned channel yields the first fatal driver error, or
// context.Canceled once all drivers returned cleanly. wait blocks until the
// drivers exit or the shutdown timeout passes.
func (k *Kernel) startDrivers(ctx context.Context, drivers []hookrelay.Driver) (<-chan error, func()) {
	errs := make(chan error, 1)
	done := make(chan struct{})

	var workers sync.WaitGroup
	for _, driver := range drivers {
		workers.Add(1)
		go func(driver hookrelay.Driver) {
			defer workers.Done()

			err := runSafely("driver "+driver.Name()+" Start", func() error {
				return driver.Start(ctx, k)
			})
			if err == nil || isContextCancellation(err) {
				return
			}
			select {
			case errs <- fmt.Errorf("run driver %s: %w", driver.Name(), err):
			default:
			}
		}(driver)
	}

	go func() {
		workers.Wait()
		close(done)
		select {
		case errs <- context.Canceled:
		default:
		}
	}()

	wait := func() {
		timer := time.NewTimer(k.cfg.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		}
	}

	return errs, wait
}

// drainInvocations stops Submit from accepting work and waits for in-flight
// handlers up to the shutdown timeout.
func (k *Kernel) drainInvocations(ctx context.Context) {
	k.inflightMu.Lock()
	k.draining = true
	k.inflightMu.Unlock()

	done := make(chan struct{})
	go func() {
		k.inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(k.cfg.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		k.cfg.logger.WarnContext(ctx, "shutdown timeout reached with invocations still in flight")
	}
}

func (k *Kernel) shutdownDrivers(ctx context.Context, drivers []hookrelay.Driver) error {
	var shutdownErr error
	for index := len(drivers) - 1; index >= 0; index-- {
		driver := drivers[index]
		err := runSafely("driver "+driver.Name()+" Shutdown", func() error {
			return driver.Shutdown(ctx)
		})
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown driver %s: %w", driver.Name(), err))
		}
	}

	return shutdownErr
}

func (k *Kernel) shutdownModules(ctx context.Context, modules []hookrelay.Module) error {
	var shutdownErr error
	for index := len(modules) - 1; index >= 0; index-- {
		name := modules[index].Name()
		if err := k.moduleHook(ctx, name, "OnShutdown", modules[index].OnShutdown); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s: %w", name, err))
		}
	}

	return shutdownErr
}

func (k *Kernel) snapshot() ([]hookrelay.Module, []hookrelay.Driver) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return append([]hookrelay.Module(nil), k.modules...), append([]hookrelay.Driver(nil), k.drivers...)
}

func (k *Kernel) commandCount() int {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return len(k.commands)
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
