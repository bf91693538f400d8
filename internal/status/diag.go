package status

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	probing "github.com/prometheus-community/pro-bing"

	"grimm.is/luci/internal/datatype"
	"grimm.is/luci/internal/rpc"
)

const (
	defaultPingCount = 3
	maxPingCount     = 10
	diagTimeout      = 5 * time.Second
)

// PingResult is the reply of luci.diag ping. Round trip times are in
// milliseconds.
type PingResult struct {
	Host     string  `json:"host"`
	Addr     string  `json:"addr"`
	Sent     int     `json:"sent"`
	Received int     `json:"received"`
	Loss     float64 `json:"loss"`
	MinRTT   float64 `json:"min_rtt"`
	AvgRTT   float64 `json:"avg_rtt"`
	MaxRTT   float64 `json:"max_rtt"`
}

// Answer is one resource record of an nslookup reply.
type Answer struct {
	Name string `json:"name"`
	Type string `json:"type"`
	TTL  uint32 `json:"ttl"`
	Data string `json:"data"`
}

// Lookup is the reply of luci.diag nslookup.
type Lookup struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Server  string   `json:"server"`
	Rcode   string   `json:"rcode"`
	RTT     float64  `json:"rtt"`
	Answers []Answer `json:"answers"`
}

// Diag serves luci.diag.
type Diag struct {
	// Resolver is the nameserver as host:port; empty reads resolv.conf.
	Resolver string
	// Ping sends count echo requests; nil uses unprivileged ICMP.
	Ping func(ctx context.Context, host string, count int) (PingResult, error)
}

// Object returns the "luci.diag" RPC object.
func (d *Diag) Object() rpc.Object {
	return rpc.Object{
		"ping": {
			ReadOnly: true,
			Params:   map[string]string{"host": rpc.TypeString, "count": rpc.TypeNumber},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				host := args.String("host")
				if err := datatype.Check("host", host); err != nil {
					return nil, rpc.Errorf(rpc.StatusInvalidArgument, "host: %v", err)
				}
				count := min(max(args.Int("count", defaultPingCount), 1), maxPingCount)
				ping := d.Ping
				if ping == nil {
					ping = icmpPing
				}
				res, err := ping(ctx, host, count)
				if err != nil {
					return nil, rpc.Errorf(rpc.StatusUnknownError, "%v", err)
				}
				return res, nil
			},
		},
		"nslookup": {
			ReadOnly: true,
			Params:   map[string]string{"name": rpc.TypeString, "type": rpc.TypeString, "server": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				name := args.String("name")
				if err := datatype.Check("host", name); err != nil {
					return nil, rpc.Errorf(rpc.StatusInvalidArgument, "name: %v", err)
				}
				qtype := strings.ToUpper(args.String("type"))
				if qtype == "" {
					qtype = "A"
				}
				if _, ok := dns.StringToType[qtype]; !ok {
					return nil, rpc.Errorf(rpc.StatusInvalidArgument, "unknown record type %q", qtype)
				}
				server := args.String("server")
				if server != "" {
					if err := datatype.Check("hostport", server); err != nil {
						return nil, rpc.Errorf(rpc.StatusInvalidArgument, "server: %v", err)
					}
				} else {
					server = d.resolver()
				}
				res, err := nslookup(ctx, server, name, qtype)
				if err != nil {
					return nil, rpc.Errorf(rpc.StatusUnknownError, "%v", err)
				}
				return res, nil
			},
		},
	}
}

func (d *Diag) resolver() string {
	if d.Resolver != "" {
		return d.Resolver
	}
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return "127.0.0.1:53"
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port)
}

func icmpPing(ctx context.Context, host string, count int) (PingResult, error) {
	p, err := probing.NewPinger(host)
	if err != nil {
		return PingResult{}, fmt.Errorf("failed to create pinger: %w", err)
	}
	p.Count = count
	p.Interval = 200 * time.Millisecond
	p.Timeout = diagTimeout
	p.SetPrivileged(false)
	if err := p.RunWithContext(ctx); err != nil {
		return PingResult{}, err
	}

	st := p.Statistics()
	res := PingResult{
		Host:     host,
		Addr:     st.Addr,
		Sent:     st.PacketsSent,
		Received: st.PacketsRecv,
		Loss:     st.PacketLoss,
		MinRTT:   ms(st.MinRtt),
		AvgRTT:   ms(st.AvgRtt),
		MaxRTT:   ms(st.MaxRtt),
	}
	if st.IPAddr != nil {
		res.Addr = st.IPAddr.String()
	}
	return res, nil
}

func nslookup(ctx context.Context, server, name, qtype string) (Lookup, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.StringToType[qtype])
	m.RecursionDesired = true

	c := &dns.Client{Timeout: diagTimeout}
	r, rtt, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return Lookup{}, fmt.Errorf("query %s: %w", server, err)
	}

	res := Lookup{
		Name:    name,
		Type:    qtype,
		Server:  server,
		Rcode:   dns.RcodeToString[r.Rcode],
		RTT:     ms(rtt),
		Answers: []Answer{},
	}
	for _, rr := range r.Answer {
		h := rr.Header()
		res.Answers = append(res.Answers, Answer{
			Name: h.Name,
			Type: dns.TypeToString[h.Rrtype],
			TTL:  h.Ttl,
			Data: strings.TrimPrefix(rr.String(), h.String()),
		})
	}
	return res, nil
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
