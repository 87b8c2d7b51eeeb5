package tracker

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"bitswarm/internal/config"
	"bitswarm/internal/logging"
	"bitswarm/internal/peer"
)

// AnnounceAll queries every announce URL in turn (deduping failures
// silently, the way lvbealr-BitTorrent's SendTrackerResponse merges
// announce + announce-list + an external tracker file into one set) and
// unions the resulting peer lists, keeping the shortest reannounce
// interval across the trackers that answered.
func AnnounceAll(urls []string, req Request, cfg config.Config) (Response, error) {
	log := logging.For("tracker")
	seen := map[string]peer.Addr{}
	var interval int

	dedup := make(map[string]struct{}, len(urls))
	var ordered []string
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := dedup[u]; ok {
			continue
		}
		dedup[u] = struct{}{}
		ordered = append(ordered, u)
	}

	for _, u := range ordered {
		r := req
		r.AnnounceURL = u
		resp, err := Announce(r, cfg)
		if err != nil {
			log.Printf("tracker %s failed: %v", u, err)
			continue
		}
		for _, p := range resp.Peers {
			seen[p.String()] = p
		}
		if interval == 0 || (resp.Interval > 0 && resp.Interval < interval) {
			interval = resp.Interval
		}
	}

	if len(seen) == 0 {
		return Response{}, fmt.Errorf("tracker: no peers from %d tracker(s)", len(ordered))
	}

	peers := make([]peer.Addr, 0, len(seen))
	for _, p := range seen {
		peers = append(peers, p)
	}
	return Response{Interval: interval, Peers: peers}, nil
}

// LoadAddressFile reads newline-separated tracker announce URLs from
// path, skipping blank lines, '#' comments, and any line that is not an
// http:// or udp:// URL. A missing file is not an error: it simply
// contributes no extra trackers.
func LoadAddressFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tracker: reading address file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "http://") && !strings.HasPrefix(line, "udp://") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("tracker: scanning address file: %w", err)
	}
	return urls, nil
}

// MergeAnnounceList flattens a metainfo announce-list's tiers into a flat
// slice, deduplicated, with the primary announce URL first.
func MergeAnnounceList(primary string, tiers [][]string, extra []string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	add(primary)
	for _, tier := range tiers {
		for _, u := range tier {
			add(u)
		}
	}
	for _, u := range extra {
		add(u)
	}
	return out
}
