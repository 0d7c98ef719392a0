// Package ibsocket is a thin framed-TCP client for the live gateway's
// connection handshake. Only HealthCheck speaks the real wire protocol
// (the length-prefixed "API\0" + version-range handshake the reference
// implementation probes with); every other Client method returns
// gateway.ErrNotImplemented, since the full wire protocol is out of this
// engine's scope per spec.md §1.
package ibsocket

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/ibx/engine/internal/gateway"
	"github.com/ibx/engine/internal/models"
)

const (
	minClientVersion = 157
	maxClientVersion = 178
)

type Client struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func New(host string, port int, timeout time.Duration) *Client {
	return &Client{Host: host, Port: port, Timeout: timeout}
}

// HealthCheck opens a TCP connection, sends the "API\0" + version-range
// frame, and reads back the framed reply. A non-empty version string in
// the reply means the gateway is accepting connections.
func (c *Client) HealthCheck(ctx context.Context) error {
	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", c.Host, c.Port))
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(c.Timeout))
	}

	payload := []byte(fmt.Sprintf("v%d..%d", minClientVersion, maxClientVersion))
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)

	if _, err := conn.Write(append([]byte("API\x00"), frame...)); err != nil {
		return fmt.Errorf("gateway handshake write failed: %w", err)
	}

	reply, err := readFrame(conn)
	if err != nil {
		return fmt.Errorf("gateway handshake read failed: %w", err)
	}
	if len(reply) == 0 {
		return fmt.Errorf("gateway handshake returned empty reply")
	}
	return nil
}

func readFrame(conn net.Conn) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := ioReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > 1<<20 {
		return nil, fmt.Errorf("invalid frame length %d", n)
	}
	buf := make([]byte, n)
	if _, err := ioReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func ioReadFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *Client) FetchBars(ctx context.Context, contract models.ContractKey, start, end time.Time, barSize string, show gateway.WhatToShow, useRTH bool) ([]models.Bar, error) {
	return nil, gateway.ErrNotImplemented
}

func (c *Client) SubmitOrder(ctx context.Context, payload gateway.OrderPayload) (string, error) {
	return "", gateway.ErrNotImplemented
}

func (c *Client) CancelOrder(ctx context.Context, gatewayOrderID string) error {
	return gateway.ErrNotImplemented
}

func (c *Client) GetOrderStatus(ctx context.Context, gatewayOrderID string) (gateway.OrderStatusEvent, error) {
	return gateway.OrderStatusEvent{}, gateway.ErrNotImplemented
}

func (c *Client) GetAccountSnapshot(ctx context.Context) (models.AccountSnapshot, error) {
	return models.AccountSnapshot{}, gateway.ErrNotImplemented
}

func (c *Client) ResolveContractID(ctx context.Context, key models.ContractKey) (string, error) {
	return "", gateway.ErrNotImplemented
}

func (c *Client) Subscribe(ctx context.Context) (<-chan gateway.OrderStatusEvent, error) {
	return nil, gateway.ErrNotImplemented
}
