// Package config holds the tunables the teacher expressed as package
// level consts (BLOCKSIZE, MAXBACKLOG) promoted to a struct so tests can
// override them and a single process can drive more than one download.
package config

import "time"

// Config bundles every timeout and tunable named in spec.md sections 4-6.
type Config struct {
	// BlockSize is the 16 KiB block/chunk unit used by both the block
	// and metadata-piece assemblers.
	BlockSize int

	// PipelineDepth is how many outstanding block requests a single
	// peer session may have in flight at once.
	PipelineDepth int

	// Workers is the size of the scheduler's worker pool (N in
	// spec.md section 6, "N≈3 is the observed setting").
	Workers int

	// ConnectTimeout bounds the initial TCP dial to a peer.
	ConnectTimeout time.Duration

	// ReadDeadline bounds a single blocking read from a peer socket.
	ReadDeadline time.Duration

	// IdleRounds is how many consecutive no-progress assembler
	// iterations before a download aborts with ErrIdle.
	IdleRounds int

	// HandshakePollRounds bounds the extension-negotiation poll
	// (spec.md 4.4, "Enter a bounded poll (≤ 10 reads)").
	HandshakePollRounds int

	// TrackerHTTPTimeout bounds an HTTP announce round trip.
	TrackerHTTPTimeout time.Duration

	// TrackerUDPTimeout bounds a single UDP recv.
	TrackerUDPTimeout time.Duration

	// TrackerUDPRetries bounds the UDP connect retry loop.
	TrackerUDPRetries int

	// DownloadRoot is the filesystem root output files are joined
	// against (spec.md 6, "Output: on-disk artifact").
	DownloadRoot string

	// CacheDir holds the persisted descriptor cache (spec.md 6,
	// "Output: persisted descriptor cache").
	CacheDir string

	// TrackerListPath is the external tracker address file (spec.md 6).
	TrackerListPath string
}

// Default mirrors the teacher's constants and spec.md's stated timeouts.
func Default() Config {
	return Config{
		BlockSize:           16384,
		PipelineDepth:       1,
		Workers:             3,
		ConnectTimeout:      1 * time.Second,
		ReadDeadline:        100 * time.Millisecond,
		IdleRounds:          10,
		HandshakePollRounds: 10,
		TrackerHTTPTimeout:  400 * time.Millisecond,
		TrackerUDPTimeout:   200 * time.Millisecond,
		TrackerUDPRetries:   4,
		DownloadRoot:        ".",
		CacheDir:            "./downloads",
		TrackerListPath:     "tracker_list.txt",
	}
}
