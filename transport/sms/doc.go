// Package sms carries game traffic in binary data SMS messages.
//
// SMS has no connection and no synchronous reply. Frames are handed to an
// smsproto.Outbound accumulator, which combines small frames for the same
// phone and fragments large ones; the worker flushes it on the wait it
// asks for. Every answer, including acknowledgements of invitations,
// travels back as a new message.
package sms
