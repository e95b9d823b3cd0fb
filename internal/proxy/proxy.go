// Package proxy keeps the egress proxy pool, its health state, and the
// composable selection chains that pick candidates for each request.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Type is the proxy protocol.
type Type string

// Supported proxy protocols.
const (
	TypeHTTP   Type = "http"
	TypeSOCKS5 Type = "socks5"
)

// Proxy is an egress endpoint and its usage state.
type Proxy struct {
	Type     Type       `json:"type"`
	Host     string     `json:"host"`
	Port     int        `json:"port"`
	UserName string     `json:"userName,omitempty"`
	Password string     `json:"password,omitempty"`
	Attempts int        `json:"attempts"`
	Active   bool       `json:"active"`
	LastUse  *time.Time `json:"lastUse,omitempty"`
}

// Key identifies a proxy by protocol and address.
func (p Proxy) Key() string {
	return string(p.Type) + "://" + net.JoinHostPort(strings.ToLower(p.Host), strconv.Itoa(p.Port))
}

// URL returns the proxy URL with credentials, as understood by http.Transport.
func (p Proxy) URL() *url.URL {
	u := &url.URL{
		Scheme: string(p.Type),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	if p.UserName != "" {
		u.User = url.UserPassword(p.UserName, p.Password)
	}
	return u
}

// ParseURL reads a proxy from "scheme://[user:pass@]host:port". The result is
// active with no recorded use.
func ParseURL(raw string) (Proxy, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Proxy{}, fmt.Errorf("parse proxy %q: %w", raw, err)
	}
	t := Type(strings.ToLower(u.Scheme))
	if t != TypeHTTP && t != TypeSOCKS5 {
		return Proxy{}, fmt.Errorf("proxy %q: unsupported type %q", raw, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return Proxy{}, fmt.Errorf("proxy %q: missing host", raw)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 || port > 65535 {
		return Proxy{}, fmt.Errorf("proxy %q: invalid port %q", raw, u.Port())
	}
	p := Proxy{Type: t, Host: host, Port: port, Active: true}
	if u.User != nil {
		p.UserName = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	return p, nil
}

// Store persists proxies; Save upserts by Key.
type Store interface {
	LoadProxies(ctx context.Context) ([]Proxy, error)
	SaveProxy(ctx context.Context, p Proxy) error
}
