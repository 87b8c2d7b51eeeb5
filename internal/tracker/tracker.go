// Package tracker announces to HTTP and UDP trackers and decodes their
// peer lists, generalizing the teacher's HTTP-only RequestPeers (which
// refused any non-http(s) announce URL) to also speak BEP 15 UDP,
// grounded on lvbealr-BitTorrent's SendUDPTrackerRequest.
package tracker

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bencodego "github.com/jackpal/bencode-go"

	"bitswarm/internal/config"
	"bitswarm/internal/errs"
	"bitswarm/internal/logging"
	"bitswarm/internal/peer"
)

// Request bundles the parameters a tracker announce needs, independent
// of the wire protocol used to send it.
type Request struct {
	AnnounceURL string
	InfoHash    [20]byte
	PeerID      [20]byte
	Port        uint16
	Uploaded    int64
	Downloaded  int64
	Left        int64
}

// Response is a tracker's reply: a peer list and a suggested reannounce
// interval.
type Response struct {
	Interval int
	Peers    []peer.Addr
}

// Announce dispatches to the HTTP or UDP client by the announce URL's
// scheme.
func Announce(req Request, cfg config.Config) (Response, error) {
	u, err := url.Parse(req.AnnounceURL)
	if err != nil {
		return Response{}, fmt.Errorf("tracker: parsing announce URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return announceHTTP(u, req, cfg)
	case "udp":
		return announceUDP(u, req, cfg)
	default:
		return Response{}, fmt.Errorf("tracker: unsupported scheme %q: %w", u.Scheme, errs.ErrTrackerMalformed)
	}
}

type httpTrackerReply struct {
	Interval int    `bencode:"interval"`
	Peers    string `bencode:"peers"`
	Failure  string `bencode:"failure reason"`
}

func announceHTTP(base *url.URL, req Request, cfg config.Config) (Response, error) {
	q := url.Values{
		"port":       {strconv.Itoa(int(req.Port))},
		"uploaded":   {strconv.FormatInt(req.Uploaded, 10)},
		"downloaded": {strconv.FormatInt(req.Downloaded, 10)},
		"left":       {strconv.FormatInt(req.Left, 10)},
		"compact":    {"1"},
	}
	base.RawQuery = q.Encode()
	base.RawQuery += "&info_hash=" + percentEncode(req.InfoHash[:])
	base.RawQuery += "&peer_id=" + percentEncode(req.PeerID[:])

	client := http.Client{Timeout: cfg.TrackerHTTPTimeout}
	resp, err := client.Get(base.String())
	if err != nil {
		return Response{}, fmt.Errorf("tracker: %w: %v", errs.ErrTrackerTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return Response{}, fmt.Errorf("tracker: status %d: %w", resp.StatusCode, errs.ErrTrackerHTTPStatus)
	}

	var reply httpTrackerReply
	if err := bencodego.Unmarshal(resp.Body, &reply); err != nil {
		return Response{}, fmt.Errorf("tracker: decoding reply: %w", errs.ErrTrackerMalformed)
	}
	if reply.Failure != "" {
		return Response{}, fmt.Errorf("tracker: %s: %w", reply.Failure, errs.ErrTrackerMalformed)
	}

	peers, err := decodeCompactPeers([]byte(reply.Peers))
	if err != nil {
		return Response{}, err
	}
	return Response{Interval: reply.Interval, Peers: peers}, nil
}

// percentEncode URL-escapes every byte, matching the teacher's
// buildTrackerURL (trackers expect raw byte percent-encoding for
// info_hash/peer_id, not Go's url.QueryEscape text-oriented escaping).
func percentEncode(b []byte) string {
	out := make([]byte, 0, len(b)*3)
	for _, c := range b {
		out = append(out, '%')
		out = append(out, hexDigit(c>>4), hexDigit(c&0xf))
	}
	return string(out)
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + (n - 10)
}

// decodeCompactPeers parses BEP 23 compact peer format: 6 bytes per
// peer, 4-byte IPv4 address followed by a 2-byte big-endian port.
func decodeCompactPeers(data []byte) ([]peer.Addr, error) {
	const peerSize = 6
	if len(data)%peerSize != 0 {
		return nil, fmt.Errorf("tracker: compact peers length %d not a multiple of 6: %w", len(data), errs.ErrTrackerMalformed)
	}
	peers := make([]peer.Addr, len(data)/peerSize)
	for i := range peers {
		off := i * peerSize
		ip := make(net.IP, 4)
		copy(ip, data[off:off+4])
		peers[i] = peer.Addr{
			IP:   ip,
			Port: binary.BigEndian.Uint16(data[off+4 : off+6]),
		}
	}
	return peers, nil
}

const udpProtocolID = 0x41727101980

const (
	actionConnect  = 0
	actionAnnounce = 1
	actionError    = 3
)

func announceUDP(u *url.URL, req Request, cfg config.Config) (Response, error) {
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return Response{}, fmt.Errorf("tracker: resolving %s: %w", u.Host, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return Response{}, fmt.Errorf("tracker: dialing %s: %w", u.Host, err)
	}
	defer conn.Close()

	log := logging.For("tracker")

	for attempt := 0; attempt < cfg.TrackerUDPRetries; attempt++ {
		conn.SetDeadline(time.Now().Add(cfg.TrackerUDPTimeout * time.Duration(1<<attempt)))

		transactionID := randomTransactionID()
		connectReq := make([]byte, 16)
		binary.BigEndian.PutUint64(connectReq[0:8], udpProtocolID)
		binary.BigEndian.PutUint32(connectReq[8:12], actionConnect)
		binary.BigEndian.PutUint32(connectReq[12:16], transactionID)

		if _, err := conn.Write(connectReq); err != nil {
			log.Printf("attempt %d: connect write: %v", attempt, err)
			continue
		}
		connectResp := make([]byte, 16)
		n, err := conn.Read(connectResp)
		if err != nil || n < 16 {
			log.Printf("attempt %d: connect read: %v", attempt, err)
			continue
		}
		if binary.BigEndian.Uint32(connectResp[0:4]) != actionConnect {
			return Response{}, fmt.Errorf("tracker: %w: unexpected connect action", errs.ErrTrackerMalformed)
		}
		if binary.BigEndian.Uint32(connectResp[4:8]) != transactionID {
			continue
		}
		connectionID := binary.BigEndian.Uint64(connectResp[8:16])

		transactionID = randomTransactionID()
		announceReq := buildUDPAnnounce(connectionID, transactionID, req)
		conn.SetDeadline(time.Now().Add(cfg.TrackerUDPTimeout * time.Duration(1<<attempt)))
		if _, err := conn.Write(announceReq); err != nil {
			return Response{}, fmt.Errorf("tracker: announce write: %w", err)
		}
		announceResp := make([]byte, 4096)
		n, err = conn.Read(announceResp)
		if err != nil {
			return Response{}, fmt.Errorf("tracker: announce read: %w", err)
		}
		if n < 20 {
			return Response{}, fmt.Errorf("tracker: announce reply too short (%d bytes): %w", n, errs.ErrTrackerMalformed)
		}
		action := binary.BigEndian.Uint32(announceResp[0:4])
		if action == actionError {
			return Response{}, fmt.Errorf("tracker: %s: %w", announceResp[8:n], errs.ErrTrackerMalformed)
		}
		if action != actionAnnounce || binary.BigEndian.Uint32(announceResp[4:8]) != transactionID {
			return Response{}, fmt.Errorf("tracker: %w: announce action/transaction mismatch", errs.ErrTrackerMalformed)
		}
		interval := int(binary.BigEndian.Uint32(announceResp[8:12]))
		peers, err := decodeCompactPeers(announceResp[20:n])
		if err != nil {
			return Response{}, err
		}
		return Response{Interval: interval, Peers: peers}, nil
	}
	return Response{}, fmt.Errorf("tracker: %w", errs.ErrTrackerNoConnect)
}

func buildUDPAnnounce(connectionID uint64, transactionID uint32, req Request) []byte {
	buf := make([]byte, 98)
	binary.BigEndian.PutUint64(buf[0:8], connectionID)
	binary.BigEndian.PutUint32(buf[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(buf[12:16], transactionID)
	copy(buf[16:36], req.InfoHash[:])
	copy(buf[36:56], req.PeerID[:])
	binary.BigEndian.PutUint64(buf[56:64], uint64(req.Downloaded))
	binary.BigEndian.PutUint64(buf[64:72], uint64(req.Left))
	binary.BigEndian.PutUint64(buf[72:80], uint64(req.Uploaded))
	binary.BigEndian.PutUint32(buf[80:84], 2) // event: started
	binary.BigEndian.PutUint32(buf[84:88], 0) // ip: default
	binary.BigEndian.PutUint32(buf[88:92], randomTransactionID())
	binary.BigEndian.PutUint32(buf[92:96], ^uint32(0)) // num_want: -1, default
	binary.BigEndian.PutUint16(buf[96:98], req.Port)
	return buf
}

func randomTransactionID() uint32 {
	var b [4]byte
	rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}
