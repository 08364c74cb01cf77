// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin

package xdg

// Table 1-1 https://developer.apple.com/library/archive/documentation/General/Conceptual/MOSXAppProgrammingGuide/AppRuntime/AppRuntime.html
var (
	configHome = base{def: "Library/Application Support"}
	stateHome  = base{def: "Library/Application Support"}
	runtimeDir = base{def: "Library/Application Support"}
)
