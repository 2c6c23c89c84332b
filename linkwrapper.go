package dynexp

import "github.com/dynexp-go/core/errs"

// Resolver looks a target Object up by ItemID; each category manager
// (hardware.Manager, instrument.Manager, module.Manager) implements this for
// its own category so LinkedObjectWrapper stays generic over Object.
type Resolver[T Object] interface {
	GetResource(id ItemID) (T, bool)
}

// LinkedObjectWrapper is the runtime association "this object uses that
// object": it holds a shared handle to the target and increments the
// target's use-count for the wrapper's lifetime. Acquisition can fail with
// errs.LinkedObjectNotLocked if the target is concurrently being reset.
type LinkedObjectWrapper[T Object] struct {
	target   T
	acquired bool
}

// AcquireLinkedObject resolves id against resolver and, on success, bumps
// the target's use-count. The caller must call Release when done with the
// wrapper (typically on the owning module's shutdown path).
func AcquireLinkedObject[T Object](resolver Resolver[T], id ItemID) (*LinkedObjectWrapper[T], error) {
	target, ok := resolver.GetResource(id)
	if !ok {
		return nil, errs.New(errs.InvalidObjectLink, errs.SeverityFatal, "linked object not found")
	}
	if target.GetException(0) != nil {
		return nil, errs.New(errs.LinkedObjectNotLocked, errs.SeverityFatal, "linked object is failed or being reset")
	}
	target.IncUseCount()
	return &LinkedObjectWrapper[T]{target: target, acquired: true}, nil
}

// Get returns the wrapped target.
func (w *LinkedObjectWrapper[T]) Get() T { return w.target }

// Ready reports whether the wrapped target is currently usable.
func (w *LinkedObjectWrapper[T]) Ready() bool {
	return w.acquired && w.target.IsReady()
}

// Release decrements the target's use-count. Safe to call multiple times.
func (w *LinkedObjectWrapper[T]) Release() {
	if !w.acquired {
		return
	}
	w.target.DecUseCount()
	w.acquired = false
}
