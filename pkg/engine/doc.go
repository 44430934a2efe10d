// Package engine is the composition root that assembles adapters, throttles
// and the model registry from configuration, and the stream orchestrator
// that drives one encoded request through retries. Frontends interact with
// Engine, Run and Session, observe run lifecycle through an EventBus, and
// never talk to adapters directly.
package engine
