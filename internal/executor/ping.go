package executor

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/maremma-monitoring/maremma/internal/status"
	"github.com/maremma-monitoring/maremma/internal/types"
)

// probeCount is how many ICMP echo requests Ping sends per check, per
// spec.md §4.3's "Ok if any of N probes (default 3) returns within the
// deadline".
const probeCount = 3

// PingExecutor sends probeCount ICMP echo requests and reports reachability
// if any reply arrives within the deadline. It is also used, independently
// of any Service, as the implementation of a HostCheckPing host check (see
// internal/scheduler).
type PingExecutor struct{}

// NewPingExecutor returns a PingExecutor.
func NewPingExecutor() *PingExecutor { return &PingExecutor{} }

func (e *PingExecutor) Kind() types.ServiceType { return types.ServiceTypePing }

func (e *PingExecutor) Execute(ctx context.Context, target Target) status.Result {
	host := configString(target.Config, "host", target.Host.Hostname)
	if host == "" {
		return status.Result{Status: status.Error, Text: "ping service has no host to ping"}
	}
	timeout := effectiveTimeout(target.Service)
	return Ping(ctx, host, timeout)
}

// Ping sends probeCount ICMP echo requests to host, all within timeout, and
// reports Ok if any reply arrives in time. It is exported so a caller can
// ping without constructing a Target; the scheduler's host checks reach it
// through PingExecutor via the registry. Result.Text reports the
// min/avg/max round-trip time across the probes that succeeded.
func Ping(ctx context.Context, host string, timeout time.Duration) status.Result {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return status.Result{Status: status.Error, Text: fmt.Sprintf("opening icmp socket: %v", err)}
	}
	defer conn.Close()

	dst, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return status.Result{Status: status.Critical, Text: fmt.Sprintf("resolving %s: %v", host, err)}
	}

	if deadline, ok := pingCtx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	id := os.Getpid() & 0xffff
	var rtts []time.Duration
	for seq := 1; seq <= probeCount; seq++ {
		if rtt, ok := pingOnce(conn, dst, id, seq); ok {
			rtts = append(rtts, rtt)
		}
		if pingCtx.Err() != nil {
			break
		}
	}

	if len(rtts) == 0 {
		if pingCtx.Err() != nil {
			return timeoutResult(timeout)
		}
		return status.Result{Status: status.Critical, Text: fmt.Sprintf("0/%d echo replies received from %s", probeCount, dst.IP)}
	}

	min, avg, max := rttStats(rtts)
	return status.Result{
		Status:  status.Ok,
		Elapsed: avg.Milliseconds(),
		Text: fmt.Sprintf("%d/%d echo replies from %s, rtt min/avg/max = %s/%s/%s",
			len(rtts), probeCount, dst.IP,
			min.Round(time.Microsecond), avg.Round(time.Microsecond), max.Round(time.Microsecond)),
	}
}

// pingOnce sends one ICMP echo request and waits for its reply, returning
// the round-trip time and whether a valid echo reply was received before
// conn's deadline or an error cut the attempt short.
func pingOnce(conn *icmp.PacketConn, dst *net.IPAddr, id, seq int) (time.Duration, bool) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  seq,
			Data: []byte("maremma"),
		},
	}
	wireBytes, err := msg.Marshal(nil)
	if err != nil {
		return 0, false
	}

	start := time.Now()
	if _, err := conn.WriteTo(wireBytes, &net.UDPAddr{IP: dst.IP}); err != nil {
		return 0, false
	}

	reply := make([]byte, 1500)
	n, _, err := conn.ReadFrom(reply)
	if err != nil {
		return 0, false
	}
	rtt := time.Since(start)

	parsed, err := icmp.ParseMessage(ipv4.ICMPTypeEchoReply.Protocol(), reply[:n])
	if err != nil || parsed.Type != ipv4.ICMPTypeEchoReply {
		return 0, false
	}
	return rtt, true
}

// rttStats returns the min, average, and max of a non-empty slice of
// round-trip times.
func rttStats(rtts []time.Duration) (min, avg, max time.Duration) {
	min, max = rtts[0], rtts[0]
	var sum time.Duration
	for _, rtt := range rtts {
		if rtt < min {
			min = rtt
		}
		if rtt > max {
			max = rtt
		}
		sum += rtt
	}
	avg = sum / time.Duration(len(rtts))
	return min, avg, max
}
