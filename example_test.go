package saga_test

import (
	"context"
	"fmt"
	"time"

	saga "github.com/fxsml/gosaga"
	"github.com/fxsml/gosaga/memstream"
)

// Example routes order events to per-order process instances and waits for
// every event to be durably acknowledged.
func Example() {
	stream := memstream.New(memstream.Config{})
	defer stream.Close()

	sup := saga.NewLocalSupervisor(saga.LocalConfig{
		Factory: func(identity string) (saga.ProcessFunc, error) {
			return func(_ context.Context, e saga.RecordedEvent) error {
				fmt.Printf("%s handled event %d\n", identity, e.ID)
				return nil
			}, nil
		},
	})
	defer sup.Close()

	router, err := saga.NewRouter(saga.RouterConfig{
		Name: "orders",
		Policy: saga.PolicyFunc(func(payload []byte) saga.Decision {
			return saga.Continue(string(payload))
		}),
		Supervisor: sup,
		Stream:     stream,
	})
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := router.Start(ctx); err != nil {
		panic(err)
	}

	stream.Append([]byte("order-1"), nil)
	stream.Append([]byte("order-2"), nil)
	stream.Append([]byte("order-1"), nil)

	for stream.Checkpoint("orders") < 3 {
		time.Sleep(5 * time.Millisecond)
	}

	// Output:
	// order-1 handled event 1
	// order-2 handled event 2
	// order-1 handled event 3
}
