// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"flag"
	"image"
	"log/slog"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/flipbook/internal/animation"
	"github.com/kortschak/flipbook/internal/locked"
	"github.com/kortschak/flipbook/internal/playback"
	"github.com/kortschak/flipbook/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

// loader returns three frame stores for "anim" and fails for all
// other sources.
var loader = playback.LoaderFunc(func(ctx context.Context, source string) (*animation.Store, error) {
	if source != "anim" {
		return nil, errors.New("no such animation")
	}
	bounds := image.Rect(0, 0, 2, 2)
	frames := make([]animation.Frame, 3)
	for i := range frames {
		frames[i] = animation.Frame{Image: image.NewRGBA(bounds), Delay: time.Second}
	}
	return animation.NewStore(bounds, frames), nil
})

type positions map[string]int

func (p positions) Dump() (map[string]int, error) { return p, nil }

func (p positions) Delete(source string) error {
	if _, ok := p[source]; !ok {
		return errors.New("not found")
	}
	delete(p, source)
	return nil
}

func TestServer(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	for _, network := range []string{"unix", "tcp"} {
		t.Run(network, func(t *testing.T) {
			var logBuf locked.BytesBuffer
			log := slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: slogext.NewAtomicBool(*lines),
			}))

			ctx := context.Background()

			player := playback.New(nil, loader, playback.Options{Log: log})
			defer player.Close()
			store := positions{"anim": 1, "other": 4}

			srv, err := NewServer(ctx, network, "", jsonrpc2.NetListenOptions{}, nil, player, store, log)
			if err != nil {
				t.Fatalf("failed to start server: %v", err)
			}
			defer func() {
				err = srv.Close()
				if err != nil {
					t.Errorf("failed to close server: %v", err)
				}

				if *verbose {
					t.Logf("log:\n%s\n", &logBuf)
				}
			}()

			client, err := Dial(ctx, network, srv.Addr().String(), UID{Module: "testing"}, net.Dialer{}, nil)
			if err != nil {
				t.Fatalf("failed to dial server: %v", err)
			}
			defer client.Close()

			_, err = client.Who(ctx)
			if err != nil {
				t.Errorf("unexpected error from who: %v", err)
			}

			_, err = client.Seek(ctx, 0)
			checkWireError(t, err, ErrCodeNotReady)

			_, err = client.Load(ctx, "", false)
			checkWireError(t, err, ErrCodeParameters)

			got, err := client.Load(ctx, "missing", true)
			if err != nil {
				t.Fatalf("unexpected error loading: %v", err)
			}
			want := playback.State{Kind: playback.Error, Message: "no such animation", Source: "missing"}
			if !cmp.Equal(want, got) {
				t.Errorf("unexpected state:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
			}

			got, err = client.Load(ctx, "anim", true)
			if err != nil {
				t.Fatalf("unexpected error loading: %v", err)
			}
			want = playback.State{Kind: playback.Ready, Source: "anim", Width: 2, Height: 2, Frames: 3}
			if !cmp.Equal(want, got) {
				t.Errorf("unexpected state:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
			}

			for _, step := range []struct {
				method string
				want   playback.State
			}{
				{method: Next, want: playback.State{Kind: playback.Ready, Source: "anim", Width: 2, Height: 2, Frame: 1, Frames: 3}},
				{method: Next, want: playback.State{Kind: playback.Ready, Source: "anim", Width: 2, Height: 2, Frame: 2, Frames: 3}},
				{method: Next, want: playback.State{Kind: playback.Ready, Source: "anim", Width: 2, Height: 2, Frame: 0, Frames: 3}},
				{method: Previous, want: playback.State{Kind: playback.Ready, Source: "anim", Width: 2, Height: 2, Frame: 2, Frames: 3}},
				{method: Play, want: playback.State{Kind: playback.Ready, Source: "anim", Width: 2, Height: 2, Frame: 2, Frames: 3, Playing: true}},
				{method: Pause, want: playback.State{Kind: playback.Ready, Source: "anim", Width: 2, Height: 2, Frame: 2, Frames: 3}},
				{method: Restart, want: playback.State{Kind: playback.Ready, Source: "anim", Width: 2, Height: 2, Frame: 0, Frames: 3}},
				{method: State, want: playback.State{Kind: playback.Ready, Source: "anim", Width: 2, Height: 2, Frame: 0, Frames: 3}},
			} {
				got, err := client.Control(ctx, step.method)
				if err != nil {
					t.Errorf("unexpected error for %s: %v", step.method, err)
					continue
				}
				if !cmp.Equal(step.want, got) {
					t.Errorf("unexpected state after %s:\n--- want:\n+++ got:\n%s", step.method, cmp.Diff(step.want, got))
				}
			}

			got, err = client.Seek(ctx, 1)
			if err != nil {
				t.Fatalf("unexpected error seeking: %v", err)
			}
			if got.Frame != 1 {
				t.Errorf("unexpected frame after seek: got:%d want:1", got.Frame)
			}
			_, err = client.Seek(ctx, 3)
			checkWireError(t, err, ErrCodeBounds)

			pos, err := client.Positions(ctx)
			if err != nil {
				t.Fatalf("unexpected error getting positions: %v", err)
			}
			wantPos := map[string]int{"anim": 1, "other": 4}
			if !cmp.Equal(wantPos, pos) {
				t.Errorf("unexpected positions:\n--- want:\n+++ got:\n%s", cmp.Diff(wantPos, pos))
			}
			err = client.Forget(ctx, "other")
			if err != nil {
				t.Errorf("unexpected error forgetting position: %v", err)
			}
			err = client.Forget(ctx, "other")
			checkWireError(t, err, ErrCodeStoreErr)

			var resp Message[string]
			err = client.conn.Call(ctx, "unknown", NewMessage(UID{Module: "testing"}, None{})).Await(ctx, &resp)
			if !errors.Is(err, jsonrpc2.ErrMethodNotFound) {
				t.Errorf("unexpected error for unknown method: got:%v want:%v", err, jsonrpc2.ErrMethodNotFound)
			}
		})
	}
}

func TestServerNoStore(t *testing.T) {
	ctx := context.Background()
	player := playback.New(nil, loader, playback.Options{})
	defer player.Close()
	srv, err := NewServer(ctx, "tcp", "", jsonrpc2.NetListenOptions{}, nil, player, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()
	client, err := Dial(ctx, "tcp", srv.Addr().String(), UID{Module: "testing"}, net.Dialer{}, nil)
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	defer client.Close()
	_, err = client.Positions(ctx)
	checkWireError(t, err, ErrCodeNoStore)
}

func TestServerTLS(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "flipbook"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	roots := x509.NewCertPool()
	roots.AddCert(cert)

	ctx := context.Background()
	player := playback.New(nil, loader, playback.Options{})
	defer player.Close()
	srvCfg := &tls.Config{Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}}}
	srv, err := NewServer(ctx, "tcp", "127.0.0.1:0", jsonrpc2.NetListenOptions{}, srvCfg, player, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()

	client, err := Dial(ctx, "tcp", srv.Addr().String(), UID{Module: "testing"}, net.Dialer{}, &tls.Config{RootCAs: roots})
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	defer client.Close()
	got, err := client.Control(ctx, State)
	if err != nil {
		t.Fatalf("unexpected error from state: %v", err)
	}
	if got.Kind != playback.Loading {
		t.Errorf("unexpected state kind: got:%v want:%v", got.Kind, playback.Loading)
	}
}

func checkWireError(t *testing.T, err error, code int64) {
	t.Helper()
	var werr *jsonrpc2.WireError
	if !errors.As(err, &werr) {
		t.Errorf("unexpected error type: got:%T (%[1]v) want:*jsonrpc2.WireError", err)
		return
	}
	if werr.Code != code {
		t.Errorf("unexpected error code: got:%d want:%d (%s)", werr.Code, code, werr.Message)
	}
}

var unmarshalMessageTests = []struct {
	name    string
	data    string
	want    Message[Source] // Any type will do.
	wantErr error
}{
	{
		name: "empty",
		data: "",
		wantErr: &jsonrpc2.WireError{
			Code:    1,
			Message: "EOF",
			Data:    json.RawMessage(`{"type":13,"msg":""}`),
		},
	},
	{
		name: "missing_close",
		data: `{"time":"2006-01-02T15:04:05Z","uid":{"module":"m","service":"s"},"body":{}`,
		wantErr: &jsonrpc2.WireError{
			Code:    1,
			Message: "unexpected EOF",
			Data:    json.RawMessage(`{"type":13,"msg":"eyJ0aW1lIjoiMjAwNi0wMS0wMlQxNTowNDowNVoiLCJ1aWQiOnsibW9kdWxlIjoibSIsInNlcnZpY2UiOiJzIn0sImJvZHkiOnt9"}`),
		},
	},
	{
		name: "extra_field",
		data: `{"time":"2006-01-02T15:04:05Z","uid":{"module":"m","service":"s"},"body":{"book":9}}`,
		wantErr: &jsonrpc2.WireError{
			Code:    1,
			Message: `json: unknown field "book"`,
			Data:    json.RawMessage(`{"type":12,"msg":"eyJ0aW1lIjoiMjAwNi0wMS0wMlQxNTowNDowNVoiLCJ1aWQiOnsibW9kdWxlIjoibSIsInNlcnZpY2UiOiJzIn0sImJvZHkiOnsiYm9vayI6OX19"}`),
		},
	},
	{
		name: "missing_open",
		data: `"time":"2006-01-02T15:04:05Z","uid":{"module":"m","service":"s"},"body":{"book":9}}`,
		wantErr: &jsonrpc2.WireError{
			Code:    1,
			Message: "json: cannot unmarshal string into Go value of type rpc.Message[github.com/kortschak/flipbook/rpc.Source]",
			Data:    json.RawMessage(`{"type":14,"offset":6,"msg":"InRpbWUiOiIyMDA2LTAxLTAyVDE1OjA0OjA1WiIsInVpZCI6eyJtb2R1bGUiOiJtIiwic2VydmljZSI6InMifSwiYm9keSI6eyJib29rIjo5fX0="}`),
		},
	},
	{
		name: "syntax_error",
		data: "not json",
		wantErr: &jsonrpc2.WireError{
			Code:    1,
			Message: "invalid character 'o' in literal null (expecting 'u')",
			Data:    json.RawMessage(`{"type":11,"offset":2,"msg":"bm90IGpzb24="}`),
		},
	},
	{
		name: "valid",
		data: `{"time":"2006-01-02T15:04:05Z","uid":{"module":"m","service":"s"},"body":{"source":"anim.gif","wait":true}}`,
		want: Message[Source]{
			Time: time.Date(2006, time.January, 02, 15, 4, 5, 0, time.UTC),
			UID:  UID{Module: "m", Service: "s"},
			Body: Source{Source: "anim.gif", Wait: true},
		},
	},
}

func TestUnmarshalMessage(t *testing.T) {
	for _, test := range unmarshalMessageTests {
		t.Run(test.name, func(t *testing.T) {
			var got Message[Source]
			err := UnmarshalMessage[Source]([]byte(test.data), &got)
			if !cmp.Equal(test.wantErr, err) {
				t.Errorf("unexpected error:\n--- want:\n+++ got:\n%s",
					cmp.Diff(test.wantErr, err))
			}
			if err != nil {
				var data struct {
					Massage []byte `json:"msg"`
				}
				err := json.Unmarshal(err.(*jsonrpc2.WireError).Data, &data)
				if err != nil {
					t.Fatalf("unexpected error recovering error data: %v", err)
				}
				if string(data.Massage) != test.data {
					t.Errorf("unexpected error data message:\ngot: %s\nwant:%s", data.Massage, test.data)
				}
				return
			}
			if !cmp.Equal(test.want, got) {
				t.Errorf("unexpected result:\n--- want:\n+++ got:\n%s",
					cmp.Diff(test.want, got))
			}
		})
	}
}
