package observability

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// register adds col to reg. If an equivalent collector is already
// registered the existing one is returned, so collectors can be built more
// than once against the same registry.
func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	err := reg.Register(col)
	if err == nil {
		return col, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
		var zero T
		return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
	}
	var zero T
	return zero, fmt.Errorf("register %s: %w", name, err)
}
