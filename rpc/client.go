// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/flipbook/internal/playback"
)

// Client is a connection to a player's control server.
type Client struct {
	uid  UID
	conn *jsonrpc2.Connection
}

// Dial returns a new Client connected to the server at addr on the
// provided network. The uid identifies the client in messages. If tlsConfig
// is not nil, the connection is made using TLS.
func Dial(ctx context.Context, network, addr string, uid UID, dialer net.Dialer, tlsConfig *tls.Config) (*Client, error) {
	var d jsonrpc2.Dialer = jsonrpc2.NetDialer(network, addr, dialer)
	if tlsConfig != nil {
		d = tlsDialer{network: network, address: addr, dialer: tls.Dialer{NetDialer: &dialer, Config: tlsConfig}}
	}
	conn, err := jsonrpc2.Dial(ctx, d, jsonrpc2.ConnectionOptions{})
	if err != nil {
		return nil, err
	}
	return &Client{uid: uid, conn: conn}, nil
}

// Call invokes the target method with body and waits for the response.
// See [jsonrpc2.Connection.Call].
func Call[T, R any](ctx context.Context, c *Client, method string, body T) (*Message[R], error) {
	var resp Message[R]
	err := c.conn.Call(ctx, method, NewMessage(c.uid, body)).Await(ctx, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Who returns the server's version.
func (c *Client) Who(ctx context.Context) (string, error) {
	resp, err := Call[None, string](ctx, c, Who, None{})
	if err != nil {
		return "", err
	}
	return resp.Body, nil
}

// Control invokes a state-returning method with no parameters. It is
// valid for State, Play, Pause, Restart, Next and Previous.
func (c *Client) Control(ctx context.Context, method string) (playback.State, error) {
	resp, err := Call[None, playback.State](ctx, c, method, None{})
	if err != nil {
		return playback.State{}, err
	}
	return resp.Body, nil
}

// Seek renders frame i.
func (c *Client) Seek(ctx context.Context, i int) (playback.State, error) {
	resp, err := Call[Frame, playback.State](ctx, c, Seek, Frame{Index: i})
	if err != nil {
		return playback.State{}, err
	}
	return resp.Body, nil
}

// Load starts loading the animation at source, optionally waiting for
// the attempt to complete.
func (c *Client) Load(ctx context.Context, source string, wait bool) (playback.State, error) {
	resp, err := Call[Source, playback.State](ctx, c, Load, Source{Source: source, Wait: wait})
	if err != nil {
		return playback.State{}, err
	}
	return resp.Body, nil
}

// Positions returns the stored playback positions.
func (c *Client) Positions(ctx context.Context) (map[string]int, error) {
	resp, err := Call[None, map[string]int](ctx, c, Positions, None{})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Forget deletes the stored playback position for source.
func (c *Client) Forget(ctx context.Context, source string) error {
	_, err := Call[string, string](ctx, c, Forget, source)
	return err
}

// Close closes the client's connection.
// See [jsonrpc2.Connection.Close].
func (c *Client) Close() error {
	return c.conn.Close()
}
