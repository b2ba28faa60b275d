package search

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/snarg/radioscribe/internal/calls"
)

// Geo is an optional location attached to a call by an upstream geocoder.
type Geo struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
}

// GeoPoint is the engine's geo field shape.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Hierarchy is the three-level talkgroup facet path.
type Hierarchy struct {
	Lvl0 string `json:"lvl0"`
	Lvl1 string `json:"lvl1"`
	Lvl2 string `json:"lvl2"`
}

// Document is the flattened, denormalized search record for one call. The id
// equals the call id, so re-indexing the same call is an upsert.
type Document struct {
	ID                   string          `json:"id"`
	ShortName            string          `json:"short_name"`
	StartTime            int64           `json:"start_time"`
	CallLength           float64         `json:"call_length"`
	AudioType            string          `json:"audio_type"`
	Talkgroup            int             `json:"talkgroup"`
	TalkgroupTag         string          `json:"talkgroup_tag"`
	TalkgroupDescription string          `json:"talkgroup_description"`
	TalkgroupGroup       string          `json:"talkgroup_group"`
	TalkgroupHierarchy   Hierarchy       `json:"talkgroup_hierarchy"`
	Emergency            bool            `json:"emergency"`
	Encrypted            bool            `json:"encrypted"`
	Units                []string        `json:"units"`
	Radios               []string        `json:"radios"`
	SrcList              []string        `json:"srcList"`
	Transcript           string          `json:"transcript"`
	TranscriptHTML       string          `json:"transcript_html"`
	RawTranscript        json.RawMessage `json:"raw_transcript"`
	RawMetadata          json.RawMessage `json:"raw_metadata"`
	AudioURL             string          `json:"raw_audio_url"`
	Geo                  *GeoPoint       `json:"_geo,omitempty"`
	GeoFormattedAddress  string          `json:"geo_formatted_address,omitempty"`
}

// BuildDocument flattens a call's metadata, transcript, and optional geo into
// the search record.
func BuildDocument(id string, m *calls.Metadata, audioURL string, tr *calls.Transcript, geo *Geo) (*Document, error) {
	rawMeta, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	rawTr, err := tr.Raw()
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}

	doc := &Document{
		ID:                   id,
		ShortName:            m.ShortName,
		StartTime:            m.StartTime,
		CallLength:           m.CallLength,
		AudioType:            m.AudioType,
		Talkgroup:            m.Talkgroup,
		TalkgroupTag:         m.TalkgroupTag,
		TalkgroupDescription: m.TalkgroupDesc,
		TalkgroupGroup:       m.TalkgroupGroup,
		TalkgroupHierarchy: Hierarchy{
			Lvl0: m.ShortName,
			Lvl1: m.ShortName + " > " + m.TalkgroupGroup,
			Lvl2: m.ShortName + " > " + m.TalkgroupGroup + " > " + m.TalkgroupTag,
		},
		Emergency:      m.Emergency != 0,
		Encrypted:      m.Encrypted != 0,
		Units:          unitsOf(m),
		Radios:         radiosOf(m),
		SrcList:        srcListOf(m),
		Transcript:     tr.Plaintext(),
		TranscriptHTML: tr.HTML(),
		RawTranscript:  rawTr,
		RawMetadata:    rawMeta,
		AudioURL:       audioURL,
	}
	if geo != nil {
		doc.Geo = &GeoPoint{Lat: geo.Lat, Lng: geo.Lng}
		doc.GeoFormattedAddress = geo.FormattedAddress
	}
	return doc, nil
}

// unitsOf returns the distinct non-empty tags of sources with a positive src.
func unitsOf(m *calls.Metadata) []string {
	units := []string{}
	seen := map[string]bool{}
	for _, s := range m.SrcList {
		if s.Src <= 0 || s.Tag == "" || seen[s.Tag] {
			continue
		}
		seen[s.Tag] = true
		units = append(units, s.Tag)
	}
	return units
}

// radiosOf returns the distinct string forms of all positive src ids.
func radiosOf(m *calls.Metadata) []string {
	radios := []string{}
	seen := map[int]bool{}
	for _, s := range m.SrcList {
		if s.Src <= 0 || seen[s.Src] {
			continue
		}
		seen[s.Src] = true
		radios = append(radios, strconv.Itoa(s.Src))
	}
	return radios
}

// srcListOf returns tag-if-present else string src, distinct, for positive
// src ids.
func srcListOf(m *calls.Metadata) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, s := range m.SrcList {
		if s.Src <= 0 {
			continue
		}
		v := s.Tag
		if v == "" {
			v = strconv.Itoa(s.Src)
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
