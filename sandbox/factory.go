package sandbox

import (
	"fmt"

	"go.uber.org/zap"
)

// Supported backends
const (
	BackendDocker = "docker"
	BackendPodman = "podman"
	BackendLocal  = "local"
)

// NewRuntime creates the container runtime for the configured backend. The
// local backend has no runtime and yields nil, which keeps a Pool in fallback
// mode.
func NewRuntime(logger *zap.Logger, backend string, opts ...CLIRuntimeOption) (Runtime, error) {
	switch backend {
	case BackendDocker, BackendPodman:
		return NewCLIRuntime(backend, opts...), nil
	case BackendLocal:
		logger.Warn("local backend selected; programs run directly on the host")
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}
