// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hostclass maps a request URL to the logical host used as the key
// for per-host rate limiting and circuit breaking.
package hostclass

import (
	"strings"
)

// Default is returned for URLs with no netloc or that fail to parse.
const Default = "default"

// Well-known CDN families collapse to a single logical host so that, e.g.,
// every googlevideo.com edge shares one bucket and one breaker instead of
// one per edge node.
const (
	YouTubeCDN      = "youtube-cdn"
	YouTubeStatic   = "youtube-static"
	YouTubeFrontend = "youtube-frontend"
)

// Classify derives the logical host for a URL. It never fails: unparseable
// or netloc-less input maps to Default. It is a pure function, safe to call
// from any number of goroutines with no shared state.
func Classify(rawURL string) string {
	netloc := extractNetloc(rawURL)
	if netloc == "" {
		return Default
	}
	switch {
	case strings.Contains(netloc, ".googlevideo.com"):
		return YouTubeCDN
	case strings.Contains(netloc, ".ytimg.com"):
		return YouTubeStatic
	case netloc == "www.youtube.com":
		return YouTubeFrontend
	default:
		return netloc
	}
}

// extractNetloc pulls the host[:port] component out of rawURL without
// requiring the URL to be fully well-formed. url.Parse is intentionally
// avoided here because it can fail outright on inputs (bare "host:port"
// with no scheme, stray whitespace) that should fall through to "default"
// rather than error; scanning the string directly keeps Classify total.
func extractNetloc(rawURL string) string {
	s := rawURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	} else if strings.HasPrefix(s, "//") {
		s = s[2:]
	} else {
		// No scheme separator: this is not a URL with a netloc (e.g. a bare
		// path or opaque string like "foo/bar").
		return ""
	}
	// Strip userinfo, if any.
	if i := strings.Index(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	// Cut at the first of path, query, or fragment.
	end := len(s)
	for _, sep := range []string{"/", "?", "#"} {
		if i := strings.Index(s, sep); i >= 0 && i < end {
			end = i
		}
	}
	return s[:end]
}
