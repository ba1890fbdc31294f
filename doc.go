// Package saga provides event-sourced process-manager (saga) coordination
// with strict ordering and ack-gated delivery.
//
// The package centers around the [Router], which subscribes to a single
// globally-ordered stream of recorded events, consults a [Policy] to decide
// whether a long-running process instance must react, delegates the event to
// that instance, and acknowledges the event upstream only after the instance
// confirms it processed it.
//
// # Quick Start
//
//	sup := saga.NewLocalSupervisor(saga.LocalConfig{
//		Factory: func(identity string) (saga.ProcessFunc, error) {
//			return func(ctx context.Context, e saga.RecordedEvent) error {
//				// apply the event to the process state, dispatch commands
//				return nil
//			}, nil
//		},
//	})
//
//	router, _ := saga.NewRouter(saga.RouterConfig{
//		Name:       "orders",
//		Policy:     orderPolicy,
//		Supervisor: sup,
//		Stream:     stream,
//	})
//	done, _ := router.Start(ctx)
//	<-done
//
// # Architecture
//
// The router is a single-goroutine actor: batch intake, instance
// acknowledgments, state queries, and instance termination notifications all
// flow through one mailbox and execute one at a time. Its state (dedup
// watermark, pending FIFO queue, instance registry) is therefore lock-free
// and private to the run loop.
//
// Delivery is single-flight router-wide: at most one event is delegated to an
// instance at any instant, and events are delivered strictly in stream order
// across all identities. A slow instance stalls every identity behind it.
// This trades throughput for a total order with no cross-identity
// synchronization.
//
// # Restart Semantics
//
// Router state is memory-only. The dedup watermark does not survive a
// restart: a restarted router rebuilds empty state and relies on the stream
// to redeliver from the last durably acknowledged checkpoint. The first
// redelivered batch after a restart is treated as entirely new input. This is
// a known property of the design, not a defect; the watermark exists to
// suppress duplicate redelivery within one router lifetime.
//
// # Subpackages
//
// memstream: in-memory ordered event stream with per-consumer checkpoints
//
// redisstream: Redis Streams backed event stream
//
// cloudevents: CloudEvents payload codec and policy adapter
package saga
