// Command casiel is the operator CLI for the audio sample worker. It runs the
// worker in the foreground, validates configuration, checks dependencies, and
// inspects the attempt journal and the Gemini quota.
package main
