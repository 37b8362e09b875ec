// Package topicbus is a connection and messaging facade over a topic based AMQP broker.
//
// A Gateway owns a single confirm-mode channel. Connect brings that channel from "disconnected" to "ready" in a
// strict order: open the connection, create the confirm channel (applying the prefetch limit), declare the topic
// exchange and finally declare the consume queue and its bindings. The first failing step aborts the sequence and is
// returned to the caller, who decides whether to retry the whole sequence.
//
// Once ready, a Gateway publishes either by logical target name (PublishToQueue) or by explicit routing key (Publish)
// and consumes from the configured queue (Consume). Every inbound delivery is resolved exactly once, the handler
// decides between ack, nack and nack with requeue through the ResolveFunc it is handed.
//
// The broker itself is reached through the transport interfaces defined in this package (Dialer, Connection,
// Channel, Queue and Delivery). The only implementation provided at the time of writing is:
// - rabbitmq (github.com/jacklaaa89/topicbus/rabbitmq)
package topicbus
