// Package creative asks Gemini to describe an audio sample: a base file
// name, tags, genre, mood, instruments and short and long descriptions.
//
// Every call is gated by the daily quota governor and counted before the
// request is sent, so failed calls still consume budget.
package creative
