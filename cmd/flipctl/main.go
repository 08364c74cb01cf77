// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The flipctl command controls a running flipbook player over JSON RPC 2.
//
// Usage:
//
//	flipctl [options] <command> [args]
//
// The commands are
//
//	who                 print the player's version
//	state               print the player's state
//	play                start playback
//	pause               pause playback
//	restart             return to the first frame without rendering it
//	next, previous      step one frame
//	seek <frame>        render the frame at the given index
//	load [-wait] <src>  load a new animation source
//	positions           print stored playback positions
//	forget <src>        delete the stored playback position for src
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/flipbook/internal/mtls"
	"github.com/kortschak/flipbook/internal/playback"
	"github.com/kortschak/flipbook/internal/version"
	"github.com/kortschak/flipbook/rpc"
)

// Exit status codes.
const (
	success       = 0
	internalError = 1 << (iota - 1)
	invocationError
)

func main() { os.Exit(Main()) }

func Main() int {
	network := flag.String("network", "unix", "network for communication (unix or tcp)")
	addr := flag.String("addr", "", "address for communication (default is the player's unix socket)")
	jsonOut := flag.Bool("json", false, "print results as JSON")
	timeout := flag.Duration("timeout", 10*time.Second, "time limit for the command")
	ca := flag.String("ca", "", "root CA PEM file for verifying a tcp player")
	cert := flag.String("cert", "", "client certificate PEM file")
	key := flag.String("key", "", "client key PEM file")
	v := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), `Usage of %s:

  $ %[1]s [options] <command> [args]

Commands are who, state, play, pause, restart, next, previous,
seek <frame>, load [-wait] <source>, positions and forget <source>.

`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if *v {
		err := version.Print(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		return success
	}
	if flag.NArg() == 0 {
		flag.Usage()
		return invocationError
	}
	switch *network {
	case "unix", "tcp":
	default:
		flag.Usage()
		return invocationError
	}
	if *addr == "" {
		if *network != "unix" {
			flag.Usage()
			return invocationError
		}
		var err error
		*addr, err = rpc.DefaultAddr(*network)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
	}

	files := mtls.Files{CA: *ca, Cert: *cert, Key: *key}
	if !files.IsZero() && *network != "tcp" {
		flag.Usage()
		return invocationError
	}
	tlsConfig, err := files.ClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid tls configuration: %v\n", err)
		return invocationError
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	client, err := rpc.Dial(ctx, *network, *addr, rpc.UID{Module: "flipctl"}, net.Dialer{}, tlsConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to player: %v\n", err)
		return internalError
	}
	defer client.Close()

	err = run(ctx, client, flag.Args(), *jsonOut, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		var usage usageError
		if errors.As(err, &usage) {
			return invocationError
		}
		return internalError
	}
	return success
}

// usageError is an invalid command invocation.
type usageError string

func (e usageError) Error() string { return "usage: flipctl " + string(e) }

// run executes the command in args using client and writes the result
// to w.
func run(ctx context.Context, client *rpc.Client, args []string, jsonOut bool, w io.Writer) error {
	var (
		res any
		err error
	)
	cmd := args[0]
	switch cmd {
	case "who":
		if len(args) != 1 {
			return usageError("who")
		}
		res, err = client.Who(ctx)
	case rpc.State, rpc.Play, rpc.Pause, rpc.Restart, rpc.Next, rpc.Previous:
		if len(args) != 1 {
			return usageError(cmd)
		}
		res, err = client.Control(ctx, cmd)
	case rpc.Seek:
		if len(args) != 2 {
			return usageError("seek <frame>")
		}
		i, perr := strconv.Atoi(args[1])
		if perr != nil {
			return usageError("seek <frame>")
		}
		res, err = client.Seek(ctx, i)
	case rpc.Load:
		wait := slices.Contains(args[1:], "-wait")
		src := slices.DeleteFunc(args[1:], func(s string) bool { return s == "-wait" })
		if len(src) != 1 {
			return usageError("load [-wait] <source>")
		}
		res, err = client.Load(ctx, src[0], wait)
	case rpc.Positions:
		if len(args) != 1 {
			return usageError("positions")
		}
		res, err = client.Positions(ctx)
	case rpc.Forget:
		if len(args) != 2 {
			return usageError("forget <source>")
		}
		err = client.Forget(ctx, args[1])
		res = "ok"
	default:
		return usageError(fmt.Sprintf("unknown command %q", cmd))
	}
	if err != nil {
		var werr *jsonrpc2.WireError
		if errors.As(err, &werr) {
			return fmt.Errorf("%s: %s", cmd, werr.Message)
		}
		return err
	}
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "\t")
		return enc.Encode(res)
	}
	switch res := res.(type) {
	case playback.State:
		_, err = fmt.Fprintln(w, formatState(res))
	case map[string]int:
		keys := make([]string, 0, len(res))
		for k := range res {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			_, err = fmt.Fprintf(w, "%s\t%d\n", k, res[k])
			if err != nil {
				return err
			}
		}
	default:
		_, err = fmt.Fprintln(w, res)
	}
	return err
}

func formatState(st playback.State) string {
	switch st.Kind {
	case playback.Ready:
		mode := "paused"
		if st.Playing {
			mode = "playing"
		}
		return fmt.Sprintf("ready %s frame %d/%d %dx%d %s", st.Source, st.Frame+1, st.Frames, st.Width, st.Height, mode)
	case playback.Error:
		return fmt.Sprintf("error %s: %s", st.Source, st.Message)
	default:
		if st.Source == "" {
			return st.Kind.String()
		}
		return fmt.Sprintf("%s %s", st.Kind, st.Source)
	}
}
