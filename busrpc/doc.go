/*
Package busrpc calls named remote functions over a message bus.

A Client publishes a request carrying the consumer name in a header, its
private reply queue as reply address and a fresh correlation id, then waits
for the reply with that id:

	client, err := busrpc.NewClient(ctx, conn, busrpc.WithDefaultExchange("rpc"))
	if err != nil {
		return err
	}
	defer client.Close()

	raw, err := client.Call(ctx, "add",
		busrpc.WithArgs(1, 2),
		busrpc.WithTimeout(2*time.Second))

A Server assigns every registered consumer to a queue, declares the queues on
the exchange and runs handlers on a bounded pool. Handler errors travel back
as *RemoteFunctionError; calls that see no reply in time fail with
*CallTimeoutError.

	srv := busrpc.NewServer(conn, busrpc.WithServerExchange("rpc"))
	srv.Handle("add", func(c *busrpc.Context) (any, error) {
		var a, b int
		if err := c.Arg(0, &a); err != nil {
			return nil, err
		}
		if err := c.Arg(1, &b); err != nil {
			return nil, err
		}
		return a + b, nil
	})
	err := srv.Run(ctx)

Client and server must agree on the exchange: requests are routed by it and
replies are published on it.
*/
package busrpc
