// Package natsclient manages the NATS connection the runtime reports through.
//
// The client wraps a single nats.Conn with a circuit breaker: after a run of
// failed connection attempts it refuses further attempts for a backoff that
// doubles up to a maximum. Connected clients publish fire-and-forget messages
// and serve request-reply handlers.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithName("avflow"),
//		natsclient.WithLogger(logger),
//	)
//	if err := client.Connect(ctx); err != nil { ... }
//	defer client.Close(ctx)
//
//	err = client.Reply(ctx, "avflow.control.event", func(ctx context.Context, req []byte) ([]byte, error) {
//		...
//	})
//
// Integration tests run a NATS container through testcontainers and are
// skipped unless INTEGRATION_TESTS is set.
package natsclient
