// Package broker provides a uniform publish/subscribe contract over different message brokers.
//
// A Backend connects to one broker technology. Push style brokers (the in-process memory bus and
// core NATS) deliver messages asynchronously; pull style brokers (JetStream pull consumers, a
// Postgres queue table, a MongoDB queue collection) only expose synchronous pull calls and are
// driven by PullBackend, which polls the subscribed channels round-robin and bridges every blocking
// client call through a bounded worker pool with explicit timeouts.
//
// The EventsHandler selects a Backend from a connection URL and fans the events it yields out to
// every subscriber of a channel:
//
//	handler, err := broker.NewEventsHandler("jetstream://localhost:4222?consumer_ack_messages=true")
//	if err != nil {
//	    return err
//	}
//	if err := handler.Connect(ctx); err != nil {
//	    return err
//	}
//	defer handler.Disconnect(context.Background())
//
//	sub, err := handler.Subscribe(ctx, "user/signedup")
//	if err != nil {
//	    return err
//	}
//	defer sub.Close(context.Background())
//
//	for {
//	    event, err := sub.Next(ctx)
//	    if err != nil {
//	        return err // ErrDisconnected once the handler is disconnected
//	    }
//	    ...
//	}
//
// Connection URLs have the form scheme://host[,host2,...][?key=value&...]. The scheme selects the
// backend and the query parameters become its bindings.
package broker
