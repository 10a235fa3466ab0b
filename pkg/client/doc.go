/*
Package client is the Go client for the scheduler's gRPC health service.

The scheduler registers grpc.health.v1.Health with one service per loop
(see pkg/api). Client wraps the generated stub with a per-call timeout and
a few helpers used by `adcmctl health`:

	c, err := client.NewClient("127.0.0.1:9181")
	if err != nil {
		return err
	}
	defer c.Close()

	for _, row := range c.CheckAll(ctx, "", "launcher", "monitor") {
		fmt.Println(row.Service, row.Status, row.Err)
	}

Watch follows status changes of one service, for example to wait until the
launcher is serving after a restart:

	err := c.Watch(ctx, "launcher", func(s healthpb.HealthCheckResponse_ServingStatus) bool {
		return s != healthpb.HealthCheckResponse_SERVING
	})

The connection is plaintext; the health service binds to loopback by
default.
*/
package client
