package upstream

import (
	"context"
	"fmt"
	"net"

	"github.com/bdandy/go-socks4"
	tls_client "github.com/bogdanfinn/tls-client"

	"github.com/anatolykoptev/scrapegate/internal/proxystore"
)

// newTransportOptions builds the tls-client options needed to egress
// through proxy (or directly, if proxy is nil), per spec.md §4.7: "all of
// that client's HTTP traffic must egress through that proxy."
func newTransportOptions(cfg Config, proxy *proxystore.Proxy) ([]tls_client.HttpClientOption, error) {
	opts := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(cfg.RequestTimeout.Seconds())),
		tls_client.WithClientProfile(cfg.ClientProfile),
		tls_client.WithCookieJar(tls_client.NewCookieJar()),
	}

	if proxy == nil {
		return opts, nil
	}

	switch proxy.Scheme {
	case proxystore.SchemeHTTP:
		opts = append(opts, tls_client.WithProxyUrl(proxy.URL))
	case proxystore.SchemeSOCKS4:
		dialer, err := socks4Dialer(proxy)
		if err != nil {
			return nil, fmt.Errorf("socks4 dialer for %s: %w", proxy.Host, err)
		}
		opts = append(opts, tls_client.WithDialer(dialer))
	default:
		return nil, fmt.Errorf("unknown proxy scheme for %s", proxy.Host)
	}
	return opts, nil
}

// contextDialer adapts go-socks4's blocking Dialer to tls-client's
// DialContext-shaped dialer hook.
type contextDialer struct {
	dial func(network, addr string) (net.Conn, error)
}

func (d contextDialer) DialContext(_ context.Context, network, addr string) (net.Conn, error) {
	return d.dial(network, addr)
}

func socks4Dialer(proxy *proxystore.Proxy) (tls_client.Dialer, error) {
	addr := net.JoinHostPort(proxy.Host, proxy.Port)
	d, err := socks4.NewDialer("tcp", addr)
	if err != nil {
		return nil, err
	}
	return contextDialer{dial: d.Dial}, nil
}
