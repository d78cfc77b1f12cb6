// Package notify reads filesystem notifications from the Linux kernel.
//
// Two kernel mechanisms are supported behind one Channel type:
//
//   - inotify, which watches individual inodes and directories and reports
//     the affected entry by name, and
//   - fanotify, which watches whole mounts or filesystems and reports the
//     affected object by an open file descriptor.
//
// A Channel owns a single kernel handle. Watches are registered with
// Channel.Watch and removed with Channel.Unwatch. Events are pulled with
// NextEvent or Drain, or ranged over with Events. Each refill queries the
// number of pending bytes with FIONREAD, performs exactly one read of that
// size and decodes every record in the buffer into the channel's local FIFO
// queue.
//
// A Channel is not safe for concurrent use. Callers that want push-style
// delivery to several consumers wrap it in a Pump.
//
// Kernel queue overflow is not an error. It arrives as an ordinary Event for
// which Overflow reports true and means events were dropped.
package notify
