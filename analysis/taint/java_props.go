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

package taint

import (
	"strings"
	"unicode"
)

// javaPropsCap bounds the per-invocation property cache; Java translation units rarely come
// close to this.
const javaPropsCap = 1024

// A JavaProps caches the resolution from getter/setter accessor names to property fields.
// One analysis invocation owns one cache; no locking is needed.
type JavaProps struct {
	m map[string]string
}

// NewJavaProps returns an empty property cache.
func NewJavaProps() *JavaProps {
	return &JavaProps{m: map[string]string{}}
}

// Resolve maps an accessor on a scope to the property field name. When the find hook knows a
// better name for the property (e.g. an actual field of the class), its answer wins; otherwise
// the decapitalized accessor suffix is used.
func (j *JavaProps) Resolve(scope string, suffix string, find FindAttributeFn) string {
	key := scope + "." + suffix
	if prop, in := j.m[key]; in {
		return prop
	}
	prop := decapitalize(suffix)
	if find != nil {
		if name, ok := find(scope, prop); ok {
			prop = name
		}
	}
	if len(j.m) < javaPropsCap {
		j.m[key] = prop
	}
	return prop
}

// accessorProp splits a Java accessor name: "getFoo" -> ("Foo", true). Setters return
// isGet=false. Anything else is not an accessor.
func accessorProp(name string) (suffix string, isGet bool, ok bool) {
	switch {
	case strings.HasPrefix(name, "get") && len(name) > 3:
		return name[3:], true, true
	case strings.HasPrefix(name, "set") && len(name) > 3:
		return name[3:], false, true
	default:
		return "", false, false
	}
}

func decapitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
