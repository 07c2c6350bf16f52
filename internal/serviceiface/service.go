package serviceiface

// Service is a long-running part of the host (logger, heartbeat, poller, digest, gateway).
// Start must not block; Stop must be safe to call after a failed or repeated Start.
type Service interface {
	Name() string
	Start() error
	Stop() error
}
