package calls

import (
	"strings"
	"testing"
)

func digitalMeta() *Metadata {
	return &Metadata{
		ShortName:    "chi_cfd",
		StartTime:    1767225570,
		StopTime:     1767225575,
		CallLength:   5,
		Talkgroup:    1201,
		TalkgroupTag: "Fire North",
		AudioType:    AudioTypeDigital,
		SrcList: []Source{
			{Src: 901123, Pos: 0.0, Tag: "E96"},
			{Src: 901456, Pos: 2.5, Tag: "B21"},
		},
	}
}

func TestMetadataValidate(t *testing.T) {
	t.Run("valid_digital", func(t *testing.T) {
		if err := digitalMeta().Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	})

	t.Run("stop_before_start", func(t *testing.T) {
		m := digitalMeta()
		m.StopTime = m.StartTime - 1
		if err := m.Validate(); err == nil {
			t.Error("expected error for stop_time before start_time")
		}
	})

	t.Run("digital_empty_srclist", func(t *testing.T) {
		m := digitalMeta()
		m.SrcList = nil
		if err := m.Validate(); err == nil {
			t.Error("expected error for digital call without sources")
		}
	})

	t.Run("srclist_positions_decreasing", func(t *testing.T) {
		m := digitalMeta()
		m.SrcList[1].Pos = -1
		if err := m.Validate(); err == nil {
			t.Error("expected error for decreasing positions")
		}
	})

	t.Run("analog_no_srclist_ok", func(t *testing.T) {
		m := digitalMeta()
		m.AudioType = AudioTypeAnalog
		m.SrcList = nil
		if err := m.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})
}

func TestAudioKey(t *testing.T) {
	m := digitalMeta()
	// 2026-01-01 00:39:30 UTC
	m.StartTime = 1767227970
	key := m.AudioKey()
	want := "2026/01/01/00/20260101_003930_chi_cfd_1201.mp3"
	if key != want {
		t.Errorf("AudioKey = %q, want %q", key, want)
	}
}

func TestCallID_Stable(t *testing.T) {
	a := CallID(digitalMeta())
	b := CallID(digitalMeta())
	if a != b {
		t.Errorf("CallID not stable: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("CallID length = %d, want 64 hex chars", len(a))
	}

	m := digitalMeta()
	m.Talkgroup = 1202
	if CallID(m) == a {
		t.Error("CallID should change when talkgroup changes")
	}
}

func TestTranscriptValid(t *testing.T) {
	var tr Transcript
	if tr.Valid() {
		t.Error("empty transcript should be invalid")
	}
	tr.Append(nil, "ok")
	if tr.Valid() {
		t.Error("2-char transcript should be invalid")
	}
	tr.Append(nil, "10-4")
	if !tr.Valid() {
		t.Error("6-char transcript should be valid")
	}
}

func TestTranscriptPlaintext(t *testing.T) {
	var tr Transcript
	tr.Append(nil, "Hello")
	tr.Append(nil, "world")
	if got := tr.Plaintext(); got != "Hello\nworld" {
		t.Errorf("Plaintext = %q, want %q", got, "Hello\nworld")
	}
}

func TestTranscriptHTML(t *testing.T) {
	src := &Source{Src: 901123, Tag: "E96"}
	var tr Transcript
	tr.Append(src, "on scene <code 4>")
	got := tr.HTML()
	if !strings.Contains(got, `data-src="901123"`) {
		t.Errorf("HTML missing src attribute: %q", got)
	}
	if !strings.Contains(got, "&lt;code 4&gt;") {
		t.Errorf("HTML not escaped: %q", got)
	}
}

func TestTranscriptRawRoundTrip(t *testing.T) {
	src := &Source{Src: 901123, Pos: 0.0, Tag: "E96"}
	var tr Transcript
	tr.Append(src, "E96 on scene")
	tr.Append(nil, "copy")

	raw, err := tr.Raw()
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	back, err := TranscriptFromRaw(raw)
	if err != nil {
		t.Fatalf("TranscriptFromRaw: %v", err)
	}
	if len(back.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(back.Segments))
	}
	if back.Segments[0].Source == nil || back.Segments[0].Source.Src != 901123 {
		t.Errorf("segment 0 source = %+v, want src 901123", back.Segments[0].Source)
	}
	if back.Segments[1].Source != nil {
		t.Errorf("segment 1 source = %+v, want nil", back.Segments[1].Source)
	}
	if back.Plaintext() != tr.Plaintext() {
		t.Errorf("round trip plaintext = %q, want %q", back.Plaintext(), tr.Plaintext())
	}

	raw2, err := back.Raw()
	if err != nil {
		t.Fatalf("Raw again: %v", err)
	}
	if string(raw) != string(raw2) {
		t.Errorf("raw serialization not stable:\n%s\n%s", raw, raw2)
	}
}
