// Package transcode renders platform variants with the ffmpeg and ffprobe
// command-line tools.
//
// Each variant is produced in three steps: an ffmpeg encode that scales and
// crops the source to the platform's frame size and caps its duration, an
// ffprobe call that measures what was actually written, and a single-frame
// thumbnail grab. Outputs are written to a scratch directory and then handed
// to a storage backend, whose location becomes the variant's media location.
//
// Arguments are built by pure functions so they can be tested without the
// binaries installed. Failures carry ffmpeg's stderr, classified into a short
// human-readable reason.
package transcode
