// Package notifier queues outbound chat lines and external announcements.
//
// Lines are delivered by a small worker pool behind a token-bucket rate
// limit so bursts of events never exceed the chat platform's message limits.
// Failed sends are retried with jittered exponential backoff. Identical
// lines inside the dedup window are dropped.
//
// Service implements transport.ChatSender, so it can be placed in front of
// any chat transport. External announcers are fanned out through Announce.
package notifier
