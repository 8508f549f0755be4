// Package supervise runs external operations under a timeout and retry
// policy.
//
// Command wraps a child process started in its own process group so a
// timeout can terminate the tool together with anything it spawned. Retry
// repeats any fallible operation with capped exponential backoff, and Keep
// relaunches a long-running process after every exit until its context ends.
// Transcription, summarization, and the recorder share these primitives and
// differ only in their Policy.
package supervise
