// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package formatutil manipulates string colors and other formatting operations.
package formatutil

import (
	"fmt"

	"golang.org/x/term"
)

var (
	// Bold formats its arguments in bold when printing to a terminal
	Bold = Color("\033[1m%s\033[0m")
	// Faint formats its arguments in faint characters when printing to a terminal
	Faint = Color("\033[2m%s\033[0m")
	// Red formats its arguments in red when printing to a terminal
	Red = Color("\033[1;31m%s\033[0m")
	// Green formats its arguments in green when printing to a terminal
	Green = Color("\033[1;32m%s\033[0m")
	// Yellow formats its arguments in yellow when printing to a terminal
	Yellow = Color("\033[1;33m%s\033[0m")
	// Cyan formats its arguments in cyan when printing to a terminal
	Cyan = Color("\033[1;36m%s\033[0m")
)

// Color returns a function that formats its arguments with the given terminal escape sequence when standard
// output is a terminal, and leaves them unformatted otherwise.
func Color(colorString string) func(...interface{}) string {
	result := func(args ...interface{}) string {
		if term.IsTerminal(1) {
			return fmt.Sprintf(colorString, fmt.Sprint(args...))
		}
		return fmt.Sprint(args...)
	}
	return result
}

// Sanitize is a simple sanitizer that rewrites control characters, escape sequences included,
// as printable Go escapes (e.g. "\x1b"), so they print literally
func Sanitize(s string) string {
	r := fmt.Sprintf("%q", s)
	if len(r) >= 2 {
		return r[1 : len(r)-1]
	}
	return r
}
