// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package timing

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/Dash-Industry-Forum/streamcore/internal/streamerrors"
)

// tokenPattern matches $Name$ or $Name%0Nd$ style tokens, generalizing the
// teacher's plain strings.Replace($Time$, ...)/strings.Replace($Number$, ...)
// helpers (cmd/dashfetcher/app/fetcher.go, cmd/livesim2/app/asset.go) to
// arbitrary tokens with printf-style width modifiers, per spec §4.1.
var tokenPattern = regexp.MustCompile(`\$(RepresentationID|Bitrate|Number|Time)(%0(\d+)d)?\$`)

// Values holds the substitution values for one segment's URL template.
type Values struct {
	RepresentationID string
	Bitrate          int64
	Number           int64
	Time             int64
}

// Detokenize replaces every $Token$ (optionally with a %0Nd width modifier)
// in tmpl with the corresponding value from v. A template referencing a
// token whose value is not applicable (e.g. $Time$ on a Number-addressed
// template) is not itself an error here; the caller decides which tokens
// are meaningful for a given addressing scheme.
func Detokenize(tmpl string, v Values) (string, error) {
	var outErr error
	out := tokenPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := tokenPattern.FindStringSubmatch(m)
		name, width := sub[1], sub[3]
		var raw string
		switch name {
		case "RepresentationID":
			raw = v.RepresentationID
			return raw
		case "Bitrate":
			raw = strconv.FormatInt(v.Bitrate, 10)
		case "Number":
			raw = strconv.FormatInt(v.Number, 10)
		case "Time":
			raw = strconv.FormatInt(v.Time, 10)
		default:
			outErr = streamerrors.Manifest(streamerrors.KindUnsupported, fmt.Sprintf("unknown template token %q", name), nil)
			return m
		}
		if width == "" {
			return raw
		}
		w, err := strconv.Atoi(width)
		if err != nil {
			outErr = streamerrors.Manifest(streamerrors.KindUnsupported, fmt.Sprintf("bad width modifier in token %q", m), err)
			return raw
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return raw
		}
		return fmt.Sprintf("%0*d", w, n)
	})
	if outErr != nil {
		return "", outErr
	}
	return out, nil
}

// HasToken reports whether tmpl references the named token ("Number", "Time", ...).
func HasToken(tmpl, name string) bool {
	for _, m := range tokenPattern.FindAllStringSubmatch(tmpl, -1) {
		if m[1] == name {
			return true
		}
	}
	return false
}
