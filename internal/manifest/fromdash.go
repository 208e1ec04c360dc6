// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package manifest

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	m "github.com/Eyevinn/dash-mpd/mpd"
	"golang.org/x/text/language"

	"github.com/Dash-Industry-Forum/streamcore/internal/segment"
	"github.com/Dash-Industry-Forum/streamcore/pkg/cmaf"
)

// FromDASH builds a Manifest from an already-parsed *mpd.MPD tree (spec §6's
// Inbound Manifest parser boundary: raw XML bytes are never touched here,
// only the tree github.com/Eyevinn/dash-mpd has already produced, the same
// input the teacher's cmd/dashfetcher/app/fetcher.go and
// cmd/livesim2/app/asset.go consume).
func FromDASH(doc *m.MPD, baseURLs []string, fetchedAt time.Time) (*Manifest, error) {
	out := &Manifest{
		TransportType: "dash",
		FetchedAt:     fetchedAt,
	}
	out.IsDynamic = doc.Type != nil && *doc.Type == "dynamic"
	out.IsLive = out.IsDynamic

	if doc.AvailabilityStartTime != nil {
		ast, err := doc.AvailabilityStartTime.ConvertToSeconds()
		if err == nil {
			out.AvailabilityStartTimeS = ast
			out.HasAvailabilityStart = true
		}
	}
	if doc.SuggestedPresentationDelay != nil {
		out.SuggestedPresentationDelayS = time.Duration(*doc.SuggestedPresentationDelay).Seconds()
	}
	out.LifetimeS = -1
	if doc.MinimumUpdatePeriod != nil {
		out.LifetimeS = time.Duration(*doc.MinimumUpdatePeriod).Seconds()
	}
	out.TimeBounds = TimeBounds{TimeshiftDepthS: -1, MaximumTimeIsLinear: out.IsDynamic}
	if doc.TimeShiftBufferDepth != nil {
		out.TimeBounds.TimeshiftDepthS = time.Duration(*doc.TimeShiftBufferDepth).Seconds()
	}

	for i, p := range doc.Periods {
		period, err := fromDASHPeriod(p, i, baseURLs, out)
		if err != nil {
			return nil, fmt.Errorf("period %d: %w", i, err)
		}
		out.Periods = append(out.Periods, period)
	}
	return out, nil
}

func fromDASHPeriod(p *m.PeriodType, index int, baseURLs []string, mft *Manifest) (*Period, error) {
	period := &Period{
		Adaptations: map[MediaType][]*Adaptation{},
	}
	period.ID = p.Id
	if period.ID == "" {
		period.ID = fmt.Sprintf("period-%d", index)
	}
	if p.Start != nil {
		period.Start = time.Duration(*p.Start).Seconds()
	}
	if p.Duration != nil {
		period.HasEnd = true
		period.End = period.Start + time.Duration(*p.Duration).Seconds()
	}

	for _, as := range p.AdaptationSets {
		adaptation, err := fromDASHAdaptationSet(as, period, baseURLs, mft)
		if err != nil {
			slog.Warn("skipping AdaptationSet", "period", period.ID, "error", err)
			continue
		}
		period.Adaptations[adaptation.Type] = append(period.Adaptations[adaptation.Type], adaptation)
	}
	return period, nil
}

func mediaTypeFromContentType(ct string) MediaType {
	switch ct {
	case "audio":
		return Audio
	case "video":
		return Video
	case "text":
		return Text
	case "image":
		return Image
	default:
		return ""
	}
}

// mediaTypeFromAdaptationSet resolves the Adaptation's media type from
// @contentType first, falling back to @mimeType when @contentType is absent
// -- many real MPDs omit the former and rely on the latter.
func mediaTypeFromAdaptationSet(as *m.AdaptationSetType) MediaType {
	if t := mediaTypeFromContentType(string(as.ContentType)); t != "" {
		return t
	}
	if ct, err := cmaf.ContentTypeFromMimeType(string(as.MimeType)); err == nil {
		if t := mediaTypeFromContentType(ct); t != "" {
			return t
		}
	}
	return Video
}

func fromDASHAdaptationSet(as *m.AdaptationSetType, period *Period, baseURLs []string, mft *Manifest) (*Adaptation, error) {
	a := &Adaptation{
		Type:     mediaTypeFromAdaptationSet(as),
		Language: as.Lang,
	}
	if as.Id != nil {
		a.ID = fmt.Sprintf("%d", *as.Id)
	}
	if a.ID == "" {
		a.ID = fmt.Sprintf("%s-%s", period.ID, a.Type)
	}
	a.LanguageNormalized = normalizeLanguage(a.Language)

	for _, r := range as.Representations {
		rep, err := fromDASHRepresentation(r, as, period, baseURLs, mft)
		if err != nil {
			slog.Warn("skipping Representation", "adaptation", a.ID, "error", err)
			continue
		}
		a.Representations = append(a.Representations, rep)
	}
	sortRepresentationsByBitrate(a.Representations)
	return a, nil
}

func sortRepresentationsByBitrate(reps []*Representation) {
	for i := 1; i < len(reps); i++ {
		for j := i; j > 0 && reps[j-1].Bitrate > reps[j].Bitrate; j-- {
			reps[j-1], reps[j] = reps[j], reps[j-1]
		}
	}
}

// normalizeLanguage maps a raw BCP-47/RFC-5646 language tag to its ISO-639-3
// base language subtag, per spec §3 Adaptation.language.
func normalizeLanguage(raw string) string {
	if raw == "" || raw == "und" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.ISO3()
}

func fromDASHRepresentation(r *m.RepresentationType, as *m.AdaptationSetType, period *Period, baseURLs []string, mft *Manifest) (*Representation, error) {
	rep := &Representation{
		ID:        r.Id,
		Bitrate:   int64(r.Bandwidth),
		Width:     int(r.Width),
		Height:    int(r.Height),
		MimeType:  string(as.MimeType),
		IsSupported: true,
	}
	codecs := r.Codecs
	if codecs == "" {
		codecs = as.Codecs
	}
	rep.Codec = codecs
	if r.FrameRate != "" {
		rep.FrameRate = parseFrameRate(string(r.FrameRate))
	}

	segTmpl := as.SegmentTemplate
	if r.SegmentTemplate != nil {
		segTmpl = r.SegmentTemplate
	}
	switch {
	case segTmpl != nil && segTmpl.SegmentTimeline != nil:
		rep.Index = timelineIndexFromDASH(segTmpl, r, period, baseURLs, mft)
	case segTmpl != nil:
		rep.Index = templateIndexFromDASH(segTmpl, r, period, baseURLs, mft)
	case as.SegmentList != nil || r.SegmentList != nil:
		rep.Index = listIndexFromDASH(as, r, period, baseURLs)
	case as.SegmentBase != nil || r.SegmentBase != nil:
		rep.Index = &segment.BaseIndex{PeriodStart: period.Start, MediaURLs: resolveBaseURLs(baseURLs)}
	default:
		return nil, fmt.Errorf("representation %s has no recognized segment addressing", r.Id)
	}
	return rep, nil
}

func resolveBaseURLs(baseURLs []string) []string {
	if len(baseURLs) == 0 {
		return nil
	}
	out := make([]string, len(baseURLs))
	copy(out, baseURLs)
	return out
}

func parseFrameRate(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	var num, den float64 = 0, 1
	fmt.Sscanf(parts[0], "%f", &num)
	if len(parts) == 2 {
		fmt.Sscanf(parts[1], "%f", &den)
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func templateIndexFromDASH(st *m.SegmentTemplateType, r *m.RepresentationType, period *Period, baseURLs []string, mft *Manifest) segment.Index {
	media, _ := r.GetMedia()
	initStr, _ := r.GetInit()
	var startNumber int64 = 1
	if st.StartNumber != nil {
		startNumber = int64(*st.StartNumber)
	}
	var pto int64
	if st.PresentationTimeOffset != nil {
		pto = int64(*st.PresentationTimeOffset)
	}
	var durTicks int64
	if st.Duration != nil {
		durTicks = int64(*st.Duration)
	}
	idx := &segment.TemplateIndex{
		Timescale:        uint32(st.GetTimescale()),
		DurationTicks:    durTicks,
		StartNumber:      startNumber,
		PTO:              pto,
		PeriodStart:      period.Start,
		MediaTemplate:    media,
		InitTemplate:     initStr,
		RepresentationID: r.Id,
		Bitrate:          int64(r.Bandwidth),
		BaseURLs:         resolveBaseURLs(baseURLs),
		IsDynamic:        mft.IsDynamic,
	}
	idx.Bounds = segment.BoundsCalculator{
		AvailabilityStartTimeS: mft.AvailabilityStartTimeS,
		TimeshiftBufferDepthS:  mft.TimeBounds.TimeshiftDepthS,
		SuggestedDelayS:        mft.SuggestedPresentationDelayS,
		ClockOffsetMS:          mft.ClockOffsetMS,
		PeriodStartS:           period.Start,
	}
	if period.HasEnd {
		idx.Bounds.HasPeriodEnd = true
		idx.Bounds.PeriodEndS = period.End
	}
	return idx
}

func timelineIndexFromDASH(st *m.SegmentTemplateType, r *m.RepresentationType, period *Period, baseURLs []string, mft *Manifest) segment.Index {
	media, _ := r.GetMedia()
	initStr, _ := r.GetInit()
	var startNumber int64 = 1
	if st.StartNumber != nil {
		startNumber = int64(*st.StartNumber)
	}
	var pto int64
	if st.PresentationTimeOffset != nil {
		pto = int64(*st.PresentationTimeOffset)
	}
	idx := &segment.TimelineIndex{
		Timescale:        uint32(st.GetTimescale()),
		PTO:              pto,
		StartNumber:      startNumber,
		PeriodStart:      period.Start,
		MediaTemplate:    media,
		InitTemplate:     initStr,
		RepresentationID: r.Id,
		Bitrate:          int64(r.Bandwidth),
		BaseURLs:         resolveBaseURLs(baseURLs),
		IsDynamic:        mft.IsDynamic,
		PeriodEnd:        -1,
	}
	if period.HasEnd {
		idx.PeriodEnd = period.End
	}
	for _, s := range st.SegmentTimeline.S {
		e := segment.TimelineEntry{D: int64(s.D)}
		if s.T != nil {
			e.T = int64(*s.T)
			e.HasT = true
		}
		if s.R != nil {
			e.R = int(*s.R)
		}
		idx.Entries = append(idx.Entries, e)
	}
	return idx
}

func listIndexFromDASH(as *m.AdaptationSetType, r *m.RepresentationType, period *Period, baseURLs []string) segment.Index {
	sl := r.SegmentList
	if sl == nil {
		sl = as.SegmentList
	}
	var segs []segment.Segment
	var number int64 = 1
	if sl.StartNumber != nil {
		number = int64(*sl.StartNumber)
	}
	var cursor float64 = period.Start
	for _, su := range sl.SegmentURLs {
		dur := 0.0
		if sl.Duration != nil {
			dur = float64(*sl.Duration) / float64(sl.GetTimescale())
		}
		urls := resolveBaseURLs(baseURLs)
		if su.Media != "" {
			for i, u := range urls {
				urls[i] = u + su.Media
			}
			if len(urls) == 0 {
				urls = []string{su.Media}
			}
		}
		segs = append(segs, segment.Segment{
			Number:    number,
			Time:      cursor,
			End:       cursor + dur,
			Duration:  dur,
			MediaURLs: urls,
		})
		cursor += dur
		number++
	}
	return segment.NewListIndex(segs, false, nil)
}
