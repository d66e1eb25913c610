package port

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// Admin is the per-component registry of ports. It exports each port
// through the substrate when the port is added and withdraws every port as
// a group on Deactivate.
type Admin struct {
	owner  string
	sub    rpc.Substrate
	logger *slog.Logger

	mu       sync.RWMutex
	ports    []Port
	inactive bool
}

// NewAdmin creates a port registry for the component named owner.
func NewAdmin(owner string, sub rpc.Substrate, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{owner: owner, sub: sub, logger: logger}
}

// AddPort registers p and exports it unless the admin is deactivated.
// Port names are unique within a component.
func (a *Admin) AddPort(ctx context.Context, p Port) error {
	name := p.Name()
	if strings.TrimSpace(name) == "" {
		return rterr.BadParameter("add_port", a.owner, "port name is empty")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.indexOf(name) >= 0 {
		return rterr.Precondition("add_port", name, "port already registered on %s", a.owner)
	}
	if !a.inactive {
		if err := a.export(ctx, p); err != nil {
			return err
		}
	}
	a.ports = append(a.ports, p)
	return nil
}

func (a *Admin) export(ctx context.Context, p Port) error {
	if p.base().IsActive() {
		return nil
	}
	if a.sub == nil {
		return rterr.Precondition("add_port", p.Name(), "no substrate to export through")
	}
	ref, err := a.sub.Export(ctx, a.owner+"."+p.Name(), p.base().Handler())
	if err != nil {
		return err
	}
	p.base().activate(a.owner, a.sub, ref)
	return nil
}

func (a *Admin) withdraw(ctx context.Context, p Port) error {
	err := p.DisconnectAll(ctx)
	ref := p.base().deactivate()
	if ref == "" {
		return err
	}
	unexportErr := a.sub.Unexport(ctx, ref)
	return errors.Join(err, unexportErr)
}

func (a *Admin) indexOf(name string) int {
	return slices.IndexFunc(a.ports, func(p Port) bool { return p.Name() == name })
}

// RemovePort disconnects and withdraws the named port and forgets it.
func (a *Admin) RemovePort(ctx context.Context, name string) error {
	a.mu.Lock()
	i := a.indexOf(name)
	if i < 0 {
		a.mu.Unlock()
		return rterr.NotFound("remove_port", name, "no such port on %s", a.owner)
	}
	p := a.ports[i]
	a.ports = slices.Delete(a.ports, i, i+1)
	a.mu.Unlock()
	return a.withdraw(ctx, p)
}

// Port returns the named port.
func (a *Admin) Port(name string) (Port, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i := a.indexOf(name)
	if i < 0 {
		return nil, rterr.NotFound("get_port", name, "no such port on %s", a.owner)
	}
	return a.ports[i], nil
}

// Ports returns every registered port in registration order.
func (a *Admin) Ports() []Port {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.ports)
}

// Profiles returns the profile of every port.
func (a *Admin) Profiles() []Profile {
	ports := a.Ports()
	out := make([]Profile, 0, len(ports))
	for _, p := range ports {
		out = append(out, p.Profile())
	}
	return out
}

// Activate exports every port that is not exported.
func (a *Admin) Activate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inactive = false
	var errs []error
	for _, p := range a.ports {
		if err := a.export(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deactivate disconnects and withdraws every port. Ports added afterwards
// stay unexported until Activate.
func (a *Admin) Deactivate(ctx context.Context) error {
	a.mu.Lock()
	a.inactive = true
	ports := slices.Clone(a.ports)
	a.mu.Unlock()

	var errs []error
	for _, p := range ports {
		if err := a.withdraw(ctx, p); err != nil {
			a.logger.Warn("port withdrawal failed", "component", a.owner, "port", p.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DisconnectAll disconnects every connector of every port.
func (a *Admin) DisconnectAll(ctx context.Context) error {
	var errs []error
	for _, p := range a.Ports() {
		if err := p.DisconnectAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UpdateAll runs the read step of every input port. With completion set,
// every port is attempted and failures are joined; otherwise the first
// failure stops the pass.
func (a *Admin) UpdateAll(ctx context.Context, completion bool) error {
	return a.each(completion, func(p Port) error {
		if u, ok := p.(Updater); ok {
			return u.Update(ctx)
		}
		return nil
	})
}

// PullPeriodic pulls the periodic connectors of every input port, with the
// same completion policy as UpdateAll.
func (a *Admin) PullPeriodic(ctx context.Context, completion bool) error {
	return a.each(completion, func(p Port) error {
		if pl, ok := p.(Puller); ok {
			return pl.PullPeriodic(ctx)
		}
		return nil
	})
}

// PublishAll runs the write step of every output port, with the same
// completion policy as UpdateAll.
func (a *Admin) PublishAll(ctx context.Context, completion bool) error {
	return a.each(completion, func(p Port) error {
		if pub, ok := p.(Publisher); ok {
			return pub.Publish(ctx)
		}
		return nil
	})
}

func (a *Admin) each(completion bool, fn func(Port) error) error {
	var errs []error
	for _, p := range a.Ports() {
		if err := fn(p); err != nil {
			if !completion {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
