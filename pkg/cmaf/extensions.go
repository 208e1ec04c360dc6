// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package cmaf holds small CMAF/ISOBMFF conventions shared across the
// manifest and fetcher packages that don't belong to either one alone.
package cmaf

import (
	"fmt"
	"strings"
)

const (
	CMAFVideoExtension = ".cmfv"
	CMAFAudioExtension = ".cmfa"
	CMAFTextExtension  = ".cmft"
	CMAFMetaExtension  = ".cmfm"
)

// ContentTypeFromCMAFExtension returns the content type of a CMAF file based on file extension ext.
func ContentTypeFromCMAFExtension(ext string) (string, error) {
	switch ext {
	case CMAFVideoExtension:
		return "video", nil
	case CMAFAudioExtension:
		return "audio", nil
	case CMAFTextExtension:
		return "text", nil
	case CMAFMetaExtension:
		return "metadata", nil
	default:
		return "", fmt.Errorf("unknown CMAF file extension %s", ext)
	}
}

// CMAFExtensionFromContentType returns the file extension of a CMAF file based on contentType.
func CMAFExtensionFromContentType(contentType string) (string, error) {
	switch contentType {
	case "video":
		return CMAFVideoExtension, nil
	case "audio":
		return CMAFAudioExtension, nil
	case "text":
		return CMAFTextExtension, nil
	case "metadata":
		return CMAFMetaExtension, nil
	default:
		return "", fmt.Errorf("unknown CMAF contentType %s", contentType)
	}
}

// ContentTypeFromMimeType returns the CMAF content type ("video", "audio",
// "text" or "metadata"/"application") implied by a MIME type's top-level
// type, e.g. "video/mp4" -> "video". AdaptationSet@contentType is optional
// in DASH; when it's absent, MimeType is the only signal a manifest has to
// offer, and real-world MPDs lean on it routinely.
func ContentTypeFromMimeType(mimeType string) (string, error) {
	top, _, ok := strings.Cut(mimeType, "/")
	if !ok || top == "" {
		return "", fmt.Errorf("malformed mime type %q", mimeType)
	}
	switch top {
	case "video", "audio", "text":
		return top, nil
	case "application":
		return "metadata", nil
	default:
		return "", fmt.Errorf("unrecognized mime type top-level %q", top)
	}
}
