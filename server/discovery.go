package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// DiscoveryPort is the UDP port hosts listen on for probes.
	DiscoveryPort = 47800
	probeMagic    = "motionduel/probe"
	maxDatagram   = 1024
)

// Announcement is what a host answers to a discovery probe.
type Announcement struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// URL is the websocket endpoint to Dial; a missing host part is filled from
	// the datagram source by Browse.
	URL string `json:"url"`
	// Busy is set while a match is in progress.
	Busy bool `json:"busy,omitempty"`
}

type probe struct {
	Magic string `json:"magic"`
}

// Beacon answers discovery probes on a UDP port until closed.
type Beacon struct {
	conn *net.UDPConn
	log  *zap.SugaredLogger
	ad   func() Announcement
	done chan struct{}
}

// Advertise listens on addr (":47800" for all interfaces) and answers each probe
// with the announcement returned by ad at that moment.
func Advertise(addr string, ad func() Announcement) (*Beacon, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("advertise: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("advertise: %w", err)
	}
	b := &Beacon{conn: conn, log: logger().Named("beacon"), ad: ad, done: make(chan struct{})}
	go b.serve()
	b.log.Infow("advertising", "addr", conn.LocalAddr().String())
	return b, nil
}

func (b *Beacon) Addr() net.Addr { return b.conn.LocalAddr() }

func (b *Beacon) serve() {
	defer close(b.done)
	buf := make([]byte, maxDatagram)
	for {
		n, remote, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				b.log.Warnw("beacon read failed", "err", err)
			}
			return
		}
		var p probe
		if err := json.Unmarshal(buf[:n], &p); err != nil || p.Magic != probeMagic {
			continue
		}
		reply, err := json.Marshal(b.ad())
		if err != nil {
			b.log.Errorw("encode announcement", "err", err)
			continue
		}
		if _, err := b.conn.WriteToUDP(reply, remote); err != nil {
			b.log.Debugw("beacon reply failed", "to", remote.String(), "err", err)
		}
	}
}

func (b *Beacon) Close() error {
	err := b.conn.Close()
	<-b.done
	return err
}

// Browse sends one probe to target ("255.255.255.255:47800" for the LAN) and
// collects announcements until wait elapses or ctx is done. Hosts answering
// more than once are reported once.
func Browse(ctx context.Context, target string, wait time.Duration) (hosts []Announcement, err error) {
	dst, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("browse: %w", err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("browse: %w", err)
	}
	defer func() {
		err = multierr.Append(err, ignoreClosed(conn.Close()))
	}()

	deadline := time.Now().Add(wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("browse: %w", err)
	}

	msg, _ := json.Marshal(probe{Magic: probeMagic})
	if _, err := conn.WriteToUDP(msg, dst); err != nil {
		return nil, fmt.Errorf("browse: send probe: %w", err)
	}

	// unblock the read if ctx is canceled before the deadline
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	seen := map[string]bool{}
	buf := make([]byte, maxDatagram)
	for {
		n, from, rerr := conn.ReadFromUDP(buf)
		if rerr != nil {
			var ne net.Error
			if errors.As(rerr, &ne) && ne.Timeout() {
				return hosts, nil
			}
			return hosts, fmt.Errorf("browse: %w", rerr)
		}
		var ad Announcement
		if json.Unmarshal(buf[:n], &ad) != nil || ad.ID == "" || seen[ad.ID] {
			continue
		}
		seen[ad.ID] = true
		ad.URL = fillHost(ad.URL, from.IP)
		hosts = append(hosts, ad)
	}
}

// fillHost replaces an empty or unspecified host in a ws URL with ip.
func fillHost(rawURL string, ip net.IP) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Port() == "" {
		return rawURL
	}
	if h := u.Hostname(); h == "" || net.ParseIP(h).IsUnspecified() {
		u.Host = net.JoinHostPort(ip.String(), u.Port())
	}
	return u.String()
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
