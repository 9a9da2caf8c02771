// Package httpc provides a shared HTTP client and websocket dialer with
// sensible defaults. Use these instead of http.DefaultClient or
// websocket.DefaultDialer to ensure timeouts are set.
package httpc

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Default timeouts for network operations.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultConnectTimeout   = 10 * time.Second
	DefaultKeepAlive        = 30 * time.Second
	DefaultIdleConnTimeout  = 90 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

var dialer = &net.Dialer{
	Timeout:   DefaultConnectTimeout,
	KeepAlive: DefaultKeepAlive,
}

// Client is a shared HTTP client with production-ready defaults.
// Use this instead of http.DefaultClient.
var Client = NewClient(DefaultTimeout)

// NewClient creates a new HTTP client with the specified timeout.
// For most cases, use the shared Client variable instead.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// WebsocketDialer returns a websocket dialer sharing the HTTP client's
// connect timeouts. A zero handshake timeout uses DefaultHandshakeTimeout.
func WebsocketDialer(handshake time.Duration) *websocket.Dialer {
	if handshake <= 0 {
		handshake = DefaultHandshakeTimeout
	}
	return &websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		NetDialContext:    dialer.DialContext,
		HandshakeTimeout:  handshake,
		EnableCompression: false,
	}
}
