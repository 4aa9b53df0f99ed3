// Package gateway performs the outbound HTTP requests of the worker.
//
// Two interchangeable implementations exist: Native uses net/http, Curl
// drives a curl subprocess for hosts where the native stack is unusable.
// Select picks one at startup and every remote client shares it.
package gateway
