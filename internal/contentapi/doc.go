// Package contentapi talks to the content management API that owns content
// records and uploaded media.
//
// The client authenticates once per process and reuses the bearer token for
// every later call. All traffic flows through a gateway.Gateway and a circuit
// breaker so an unavailable API fails fast instead of stalling each job.
package contentapi
