// Package analysis runs the local audio tools: the audio.py helper for
// perceptual hashing and technical analysis, and ffmpeg for transcoding.
package analysis
