// Package crypto derives stable device identities.
//
// A device is identified on MQTT by a 16 hex digit id. The id is a
// BLAKE2b digest of a random 32 byte seed kept in a file readable only by
// its owner, so it survives restarts without being guessable from
// anything on the network.
package crypto
