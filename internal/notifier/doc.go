// Package notifier delivers operator notices to the admin chat.
//
// Notices are derived from bus events (new submissions, finished mass
// dispatches, backups) and sent through a small async pipeline: bounded
// queue, worker pool, token-bucket rate limit, retry with jittered
// backoff, and a dedup window so a replayed event is not announced twice.
//
// Delivery is best-effort. A full queue drops the notice and a send that
// still fails after the last retry is logged and forgotten.
package notifier
