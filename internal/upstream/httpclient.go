package upstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// NewHTTPClient returns a client that routes through proxyURL when set.
// Supported schemes are http, https and socks5. An invalid proxy is logged and
// ignored so the relay still works without it.
func NewHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if raw := strings.TrimSpace(proxyURL); raw != "" {
		if err := applyProxy(transport, raw); err != nil {
			log.Warnf("upstream: ignoring proxy-url: %v", err)
		}
	}
	// timeout bounds the whole exchange, including streamed body reads; zero disables it.
	return &http.Client{Transport: transport, Timeout: timeout}
}

func applyProxy(transport *http.Transport, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse %q: %w", raw, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
		return nil
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if u.User != nil {
			password, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: password}
		}
		dialer, errDialer := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
		if errDialer != nil {
			return fmt.Errorf("socks5 dialer: %w", errDialer)
		}
		transport.Proxy = nil
		if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = ctxDialer.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
}
