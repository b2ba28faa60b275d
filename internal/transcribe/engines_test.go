package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/radioscribe/internal/config"
)

func TestParseWhisperCppCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audio.wav.csv")
	csv := "start,end,text\n" +
		"0,1200,\"E96 on scene\"\n" +
		"1500,1800,\"[BLANK_AUDIO]\"\n" +
		"2600,4100,\"copy\"\n" +
		"4200,4300,\"[SOUND]\"\n" +
		"4400,4500,\"\"\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	segments, err := parseWhisperCppCSV(path)
	if err != nil {
		t.Fatalf("parseWhisperCppCSV: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("segments = %d, want 2 (placeholders filtered)", len(segments))
	}
	if segments[0].Start != 0 || segments[0].End != 1.2 {
		t.Errorf("segment 0 times = %v-%v, want 0-1.2 (ms converted to s)", segments[0].Start, segments[0].End)
	}
	if segments[1].Text != "copy" {
		t.Errorf("segment 1 text = %q", segments[1].Text)
	}
}

func TestDeepgram_MapsUtterances(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"results":{"utterances":[
			{"start":0.1,"end":1.2,"transcript":"E96 on scene"},
			{"start":2.6,"end":4.1,"transcript":"copy"}
		],"channels":[{"detected_language":"en","alternatives":[{"transcript":"E96 on scene copy"}]}]}}`))
	}))
	defer srv.Close()

	dg := NewDeepgramClient("test-key", "nova-2", 5*time.Second)
	dg.endpoint = srv.URL

	audio := filepath.Join(t.TempDir(), "a.wav")
	os.WriteFile(audio, []byte("RIFFxxxxWAVE"), 0o644)

	res, err := dg.Transcribe(context.Background(), audio, Options{InitialPrompt: "Engine 96, Battalion 21"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(res.Segments))
	}
	if res.Text != "E96 on scene\ncopy" {
		t.Errorf("Text = %q", res.Text)
	}
	for _, want := range []string{"utterances=true", "smart_format=true", "language=en", "keywords=Engine"} {
		if !containsParam(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestDeepgram_NoUtterancesIsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":""}]}]}}`))
	}))
	defer srv.Close()

	dg := NewDeepgramClient("test-key", "nova-2", 5*time.Second)
	dg.endpoint = srv.URL

	audio := filepath.Join(t.TempDir(), "a.wav")
	os.WriteFile(audio, []byte("RIFFxxxxWAVE"), 0o644)

	res, err := dg.Transcribe(context.Background(), audio, Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Segments) != 0 || res.Text != "" {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestWhisperServer_QueryFlagsAndVerbatimJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("task") != "transcribe" {
			t.Errorf("task = %q", q.Get("task"))
		}
		if q.Get("word_timestamps") != "false" {
			t.Errorf("word_timestamps = %q", q.Get("word_timestamps"))
		}
		if q.Get("vad_filter") != "true" {
			t.Errorf("vad_filter = %q", q.Get("vad_filter"))
		}
		if q.Get("initial_prompt") != "Engine 96" {
			t.Errorf("initial_prompt = %q", q.Get("initial_prompt"))
		}
		w.Write([]byte(`{"text":"E96 on scene","segments":[{"start":0,"end":1.2,"text":"E96 on scene"}],"language":"en"}`))
	}))
	defer srv.Close()

	ws := NewWhisperServerClient(srv.URL, "large-v3", 5*time.Second)
	audio := filepath.Join(t.TempDir(), "a.wav")
	os.WriteFile(audio, []byte("RIFFxxxxWAVE"), 0o644)

	res, err := ws.Transcribe(context.Background(), audio, Options{InitialPrompt: "Engine 96", VadFilter: true})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "E96 on scene" || len(res.Segments) != 1 || res.Language != "en" {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistry_CachesPerKey(t *testing.T) {
	cfg := &config.Config{
		WhisperImplementation: FamilyWhisperCpp,
		WhisperModel:          "base.en",
		WhisperCppBin:         "whisper-cpp",
		WhisperModelDir:       t.TempDir(),
	}
	r := NewRegistry(cfg, zerolog.Nop())

	a, err := r.Get("")
	if err != nil {
		t.Fatalf("Get default: %v", err)
	}
	b, err := r.Get("whisper-cpp:base.en")
	if err != nil {
		t.Fatalf("Get explicit: %v", err)
	}
	if a != b {
		t.Error("expected the same cached instance for the same key")
	}

	c, err := r.Get("whisper-cpp:small.en")
	if err != nil {
		t.Fatalf("Get other model: %v", err)
	}
	if c == b {
		t.Error("different models must be distinct instances")
	}
}

func TestRegistry_MissingCredentialsFatal(t *testing.T) {
	cfg := &config.Config{}
	r := NewRegistry(cfg, zerolog.Nop())

	for _, key := range []string{"openai:whisper-1", "deepgram:nova-2", "whisper-server:large"} {
		if _, err := r.Get(key); err == nil {
			t.Errorf("Get(%q) succeeded without credentials", key)
		}
	}
}

func TestDefaultKey(t *testing.T) {
	cfg := &config.Config{WhisperImplementation: FamilyOpenAI}
	if got := DefaultKey(cfg); got != "openai:whisper-1" {
		t.Errorf("DefaultKey = %q, want openai:whisper-1", got)
	}
	cfg = &config.Config{WhisperImplementation: FamilyWhisperCpp, WhisperModel: "small.en"}
	if got := DefaultKey(cfg); got != "whisper-cpp:small.en" {
		t.Errorf("DefaultKey = %q, want whisper-cpp:small.en", got)
	}
}

func containsParam(query, param string) bool {
	for _, p := range splitQuery(query) {
		if p == param {
			return true
		}
	}
	return false
}

func splitQuery(q string) []string {
	var out []string
	cur := ""
	for _, c := range q {
		if c == '&' {
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(c)
	}
	return append(out, cur)
}
