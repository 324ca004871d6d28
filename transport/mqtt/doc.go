// Package mqtt carries game traffic through an MQTT broker.
//
// Every device subscribes to its own topic, xw4/device/<devID>, and
// publishes JSON envelopes to its peers' topics with QoS 2 and a
// persistent session. Replies are ordinary messages published back to the
// sender's topic, so payloads count as delivered once the broker has
// accepted them.
//
// At most one broker connection exists at a time. It is owned by a
// registry that creates it on demand, replaces it when configuration
// changes and destroys it when the connection is lost; a supervisor
// checks it on an exponential backoff that resets whenever traffic flows.
package mqtt
