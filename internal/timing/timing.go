// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package timing provides CEL frame delay policies.
//
// A policy is a CEL expression evaluated before each playback tick with
// the variables
//
//	index  int  index of the frame being shown
//	frames int  number of frames in the animation
//	delay  int  the frame's own display time in milliseconds
//
// The expression must evaluate to an int number of milliseconds or to a
// duration. For example, to play at double speed with a floor of 20ms
//
//	delay/2 < 20 ? 20 : delay/2
package timing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Policy is a compiled delay policy.
type Policy struct {
	src string
	prg cel.Program
	log *slog.Logger
}

// Compile returns a Policy for the CEL expression src.
func Compile(src string, log *slog.Logger) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.OptionalTypes(cel.OptionalTypesVersion(1)),
		cel.Variable("index", cel.IntType),
		cel.Variable("frames", cel.IntType),
		cel.Variable("delay", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create env: %v", err)
	}

	ast, iss := env.Compile(src)
	if iss.Err() != nil {
		return nil, fmt.Errorf("failed compilation: %v", iss.Err())
	}
	typ := ast.OutputType()
	if !typ.IsExactType(cel.IntType) && !typ.IsExactType(cel.DurationType) && !typ.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("invalid delay policy result type: %s", typ)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed program instantiation: %v", err)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Policy{src: src, prg: prg, log: log.With(slog.String("component", "timing"))}, nil
}

// String returns the source of the policy.
func (p *Policy) String() string { return p.src }

// Delay returns the display time for the frame at index. If evaluation
// fails, d is returned. Negative results are clamped to zero.
func (p *Policy) Delay(index, frames int, d time.Duration) time.Duration {
	got, err := p.eval(index, frames, d)
	if err != nil {
		p.log.LogAttrs(context.Background(), slog.LevelWarn, "delay policy", slog.String("policy", p.src), slog.Int("index", index), slog.Any("error", err))
		return d
	}
	return max(got, 0)
}

func (p *Policy) eval(index, frames int, d time.Duration) (time.Duration, error) {
	out, _, err := p.prg.Eval(map[string]any{
		"index":  index,
		"frames": frames,
		"delay":  d.Milliseconds(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed eval: %v", err)
	}
	switch out := out.(type) {
	case types.Int:
		return time.Duration(out) * time.Millisecond, nil
	case types.Duration:
		return out.Duration, nil
	default:
		return 0, fmt.Errorf("invalid delay policy result: %v (%s)", out, out.Type())
	}
}
