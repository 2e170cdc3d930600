package terminal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Optional hooks a surface or addon may expose for teardown. None of them is
// required; the strategies below try each one in order.
type (
	disposer  interface{ Dispose() error }
	destroyer interface{ Destroy() error }

	listenerClearer  interface{ ClearListeners() }
	addonReleaser    interface{ ReleaseAddons() }
	referenceDropper interface{ DropReferences() }
)

var errNotSupported = errors.New("not supported")

// disposal strategies are tried in order until one succeeds.
var disposalStrategies = []struct {
	name string
	fn   func(any) error
}{
	{"dispose", func(v any) error {
		if d, ok := v.(disposer); ok {
			return d.Dispose()
		}
		return errNotSupported
	}},
	{"destroy", func(v any) error {
		if d, ok := v.(destroyer); ok {
			return d.Destroy()
		}
		return errNotSupported
	}},
	{"close", func(v any) error {
		if c, ok := v.(io.Closer); ok {
			return c.Close()
		}
		return errNotSupported
	}},
}

// cleanup steps always all run.
var cleanupSteps = []struct {
	name string
	fn   func(any) error
}{
	{"clear-listeners", func(v any) error {
		if c, ok := v.(listenerClearer); ok {
			c.ClearListeners()
		}
		return nil
	}},
	{"release-addons", func(v any) error {
		if r, ok := v.(addonReleaser); ok {
			r.ReleaseAddons()
		}
		return nil
	}},
	{"detach-anchor", func(v any) error {
		s, ok := v.(Surface)
		if !ok {
			return nil
		}
		if a := s.Anchor(); a != nil && a.Attached() {
			a.Remove()
		}
		return nil
	}},
	{"drop-references", func(v any) error {
		if d, ok := v.(referenceDropper); ok {
			d.DropReferences()
		}
		return nil
	}},
}

// safeCall runs fn and turns a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// teardown releases v through the disposal strategies and then every
// cleanup step. Each step is isolated: an error or panic is logged and the
// next step still runs. It reports whether some disposal strategy succeeded.
func teardown(logger *slog.Logger, kind, connectionID string, v any) bool {
	if v == nil {
		return true
	}
	disposed := false
	for _, s := range disposalStrategies {
		err := safeCall(func() error { return s.fn(v) })
		if err == nil {
			disposed = true
			break
		}
		if !errors.Is(err, errNotSupported) {
			logger.Debug("Teardown strategy failed",
				"kind", kind, "strategy", s.name, "connection_id", connectionID, "error", err)
		}
	}
	for _, s := range cleanupSteps {
		if err := safeCall(func() error { return s.fn(v) }); err != nil {
			logger.Debug("Teardown step failed",
				"kind", kind, "step", s.name, "connection_id", connectionID, "error", err)
		}
	}
	return disposed
}
