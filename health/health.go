package health

import "context"

// ReadinessCheck is implemented by anything the service cannot serve
// without. Checks must respect ctx deadlines.
type ReadinessCheck interface {
	IsReady(ctx context.Context) error
	Name() string
}
