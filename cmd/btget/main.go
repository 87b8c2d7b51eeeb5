// Command btget leeches a torrent given either a .torrent file (path
// argument or piped on stdin) or a magnet URI, generalizing the
// teacher's main() (file-or-stdin input, single fixed-peer-pool
// download, saveToOs at the end) into the full tracker/peer/scheduler
// pipeline spec.md describes, with magnet support added for the case the
// teacher's flat client never handled.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"bitswarm/internal/config"
	"bitswarm/internal/download"
	"bitswarm/internal/logging"
	"bitswarm/internal/peer"
	"bitswarm/internal/peerid"
	"bitswarm/internal/scheduler"
	"bitswarm/internal/torrentfile"
	"bitswarm/internal/tracker"
)

func main() {
	out := flag.String("out", ".", "directory to write downloaded files under")
	cacheDir := flag.String("cache", "./downloads", "directory for the persisted descriptor cache")
	trackerList := flag.String("tracker-list", "tracker_list.txt", "extra newline-separated tracker URLs")
	workers := flag.Int("workers", 3, "number of concurrent peer workers")
	verbose := flag.Bool("v", false, "log protocol detail to stderr")
	flag.Parse()

	logging.SetVerbose(*verbose)

	cfg := config.Default()
	cfg.DownloadRoot = *out
	cfg.CacheDir = *cacheDir
	cfg.TrackerListPath = *trackerList
	cfg.Workers = *workers

	localPeerID := peerid.New()

	if err := run(flag.Args(), cfg, localPeerID); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, cfg config.Config, localPeerID [20]byte) error {
	info, announceURLs, err := resolveInfo(args, cfg, localPeerID)
	if err != nil {
		return fmt.Errorf("btget: %w", err)
	}

	fmt.Printf("downloading %q: %d pieces, %d bytes\n", info.Name, info.PieceCount(), info.TotalLength)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := scheduler.New(info, cfg, localPeerID)
	endpoints := make(chan peer.Addr, 64)

	go feedEndpoints(ctx, announceURLs, info, cfg, localPeerID, endpoints)
	go reportProgress(ctx, cancel, sw)

	if err := sw.Run(ctx, endpoints); err != nil {
		return fmt.Errorf("btget: download: %w", err)
	}

	fmt.Printf("saved under %s\n", cfg.DownloadRoot)
	return nil
}

// resolveInfo produces a complete Info descriptor from either a magnet
// URI or a .torrent file's bytes, consulting the descriptor cache first
// for a magnet whose metadata was already fetched once.
func resolveInfo(args []string, cfg config.Config, localPeerID [20]byte) (torrentfile.Info, []string, error) {
	if len(args) > 0 && strings.HasPrefix(args[0], "magnet:") {
		return resolveMagnet(args[0], cfg, localPeerID)
	}

	data, err := readTorrentInput(args)
	if err != nil {
		return torrentfile.Info{}, nil, err
	}
	info, err := torrentfile.Parse(data)
	if err != nil {
		return torrentfile.Info{}, nil, err
	}
	extra, _ := tracker.LoadAddressFile(cfg.TrackerListPath)
	return info, tracker.MergeAnnounceList(info.Announce, info.AnnounceList, extra), nil
}

func readTorrentInput(args []string) ([]byte, error) {
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer f.Close()
		return io.ReadAll(f)
	}

	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return nil, fmt.Errorf("no torrent file argument and nothing piped on stdin")
	}
	return io.ReadAll(os.Stdin)
}

func resolveMagnet(link string, cfg config.Config, localPeerID [20]byte) (torrentfile.Info, []string, error) {
	m, err := torrentfile.ParseMagnet(link)
	if err != nil {
		return torrentfile.Info{}, nil, err
	}

	extra, _ := tracker.LoadAddressFile(cfg.TrackerListPath)
	announceURLs := tracker.MergeAnnounceList("", [][]string{m.AnnounceList}, extra)

	if cached, ok, err := torrentfile.LoadCache(cfg.CacheDir, m.InfoHash); err == nil && ok {
		return cached, announceURLs, nil
	}

	info, err := fetchMetadata(m, announceURLs, cfg, localPeerID)
	if err != nil {
		return torrentfile.Info{}, nil, err
	}
	if err := torrentfile.SaveCache(cfg.CacheDir, info); err != nil {
		logging.For("btget").Printf("caching descriptor: %v", err)
	}
	return info, announceURLs, nil
}

// fetchMetadata implements spec.md 6's magnet-only flow: announce for
// peers using only the info hash, then try each peer in turn until one
// serves the ut_metadata info dictionary.
func fetchMetadata(m torrentfile.Magnet, announceURLs []string, cfg config.Config, localPeerID [20]byte) (torrentfile.Info, error) {
	req := tracker.Request{InfoHash: m.InfoHash, PeerID: localPeerID, Port: 6881}
	resp, err := tracker.AnnounceAll(announceURLs, req, cfg)
	if err != nil {
		return torrentfile.Info{}, fmt.Errorf("announcing for metadata peers: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var lastErr error
	for _, addr := range resp.Peers {
		sess, err := peer.Open(ctx, addr, m.InfoHash, localPeerID, cfg)
		if err != nil {
			lastErr = err
			continue
		}
		if err := sess.Negotiate(0); err != nil {
			sess.Close()
			lastErr = err
			continue
		}
		if !sess.HasUTMetadata() || sess.MetadataSize() == 0 {
			sess.Close()
			lastErr = fmt.Errorf("peer %s does not support ut_metadata", addr)
			continue
		}
		sess.BeginDownload()
		raw, err := download.Info(sess, cfg)
		sess.Close()
		if err != nil {
			lastErr = err
			continue
		}

		info, err := torrentfile.ParseInfoDict(raw, "", m.AnnounceList)
		if err != nil {
			lastErr = err
			continue
		}
		if info.InfoHash != m.InfoHash {
			lastErr = fmt.Errorf("peer %s served metadata for the wrong info hash", addr)
			continue
		}
		return info, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no peers available")
	}
	return torrentfile.Info{}, fmt.Errorf("fetching metadata: %w", lastErr)
}

// feedEndpoints re-announces on the tracker's suggested interval (and
// once immediately) for as long as ctx is alive, pushing every
// newly-seen peer address onto endpoints so the scheduler's workers can
// pick it up on their next free slot (spec.md 4.6).
func feedEndpoints(ctx context.Context, urls []string, info torrentfile.Info, cfg config.Config, localPeerID [20]byte, endpoints chan<- peer.Addr) {
	defer close(endpoints)

	req := tracker.Request{InfoHash: info.InfoHash, PeerID: localPeerID, Port: 6881}
	seen := map[string]struct{}{}
	interval := 30 * time.Second

	for {
		resp, err := tracker.AnnounceAll(urls, req, cfg)
		if err != nil {
			logging.For("btget").Printf("announce: %v", err)
		} else {
			if resp.Interval > 0 {
				interval = time.Duration(resp.Interval) * time.Second
			}
			for _, addr := range resp.Peers {
				key := addr.String()
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				select {
				case endpoints <- addr:
				case <-ctx.Done():
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// reportProgress drives a progress bar off the scheduler's remaining
// piece count, polling since Swarm exposes no push-based event stream.
// Once every piece is accounted for it cancels ctx: the endpoint feeder
// and any idle workers otherwise have no way to know the download is
// complete, since Swarm.Run only returns once its endpoints channel is
// closed and every worker has exited.
func reportProgress(ctx context.Context, done context.CancelFunc, sw *scheduler.Swarm) {
	total := sw.PieceCount()
	if total == 0 {
		done()
		return
	}

	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	var bar *progressbar.ProgressBar
	if isTTY {
		bar = progressbar.Default(int64(total), "pieces")
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			completed := total - sw.Remaining()
			if bar != nil {
				bar.Set(completed)
			}
			if completed >= total {
				done()
				return
			}
		}
	}
}
