package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/radioscribe/internal/calls"
	"github.com/snarg/radioscribe/internal/config"
)

const validCallJSON = `{
	"short_name": "chi_cfd",
	"start_time": 1767225570,
	"stop_time": 1767225575,
	"call_length": 5,
	"talkgroup": 1201,
	"audio_type": "digital",
	"srcList": [{"src": 901123, "pos": 0.0, "tag": "E96"}]
}`

func newIntake(t *testing.T) *IntakeHandler {
	t.Helper()
	cfg := &config.Config{MinCallLength: 1}
	return NewIntakeHandler(cfg, nil, nil, nil, zerolog.Nop())
}

func multipartBody(t *testing.T, fields map[string]string, audioField string, audio []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if audioField != "" {
		fw, err := mw.CreateFormFile(audioField, "call.mp3")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(audio)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestPostCall_RejectsBadMetadata(t *testing.T) {
	h := newIntake(t)
	body, ct := multipartBody(t, map[string]string{"call_json": "{not json"}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/calls", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()

	h.PostCall(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestPostCall_RejectsShortCall(t *testing.T) {
	h := newIntake(t)
	short := strings.Replace(validCallJSON, `"call_length": 5`, `"call_length": 0.5`, 1)
	body, ct := multipartBody(t, map[string]string{"call_json": short}, "call_audio", bytes.Repeat([]byte("x"), 1000))
	req := httptest.NewRequest(http.MethodPost, "/calls", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()

	h.PostCall(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "below minimum") {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestPostCall_RejectsHeaderOnlyAudio(t *testing.T) {
	h := newIntake(t)
	body, ct := multipartBody(t, map[string]string{"call_json": validCallJSON}, "call_audio", bytes.Repeat([]byte("x"), 44))
	req := httptest.NewRequest(http.MethodPost, "/calls", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()

	h.PostCall(rr, req)
	if rr.Code != http.StatusExpectationFailed {
		t.Errorf("status = %d, want 417", rr.Code)
	}
}

func TestPostCall_RequiresAudio(t *testing.T) {
	h := newIntake(t)
	body, ct := multipartBody(t, map[string]string{"call_json": validCallJSON}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/calls", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()

	h.PostCall(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "call_audio") {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestSDRTrunk_TestProbe(t *testing.T) {
	h := newIntake(t)
	body, ct := multipartBody(t, map[string]string{"test": "1"}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/call-upload", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()

	h.PostSDRTrunk(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "incomplete call data") {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestSDRTrunkMetadata(t *testing.T) {
	form := url.Values{
		"talkgroup":      {"1201"},
		"dateTime":       {"1767225570"},
		"frequency":      {"460275000"},
		"source":         {"901123"},
		"systemLabel":    {"chi_cfd"},
		"talkgroupLabel": {"Fire Dispatch"},
		"callDuration":   {"5.5"},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/call-upload", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	meta, err := sdrtrunkMetadata(req)
	if err != nil {
		t.Fatalf("sdrtrunkMetadata: %v", err)
	}
	if meta.ShortName != "chi_cfd" || meta.Talkgroup != 1201 {
		t.Errorf("meta = %+v", meta)
	}
	if meta.AudioType != calls.AudioTypeDigital || len(meta.SrcList) != 1 || meta.SrcList[0].Src != 901123 {
		t.Errorf("source mapping wrong: %+v", meta)
	}
	if meta.CallLength != 5.5 || meta.StopTime != 1767225575 {
		t.Errorf("duration mapping wrong: length=%v stop=%d", meta.CallLength, meta.StopTime)
	}
}

func TestSDRTrunkMetadata_NoSourceIsAnalog(t *testing.T) {
	form := url.Values{
		"talkgroup": {"1201"},
		"dateTime":  {"1767225570"},
		"system":    {"7"},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/call-upload", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	meta, err := sdrtrunkMetadata(req)
	if err != nil {
		t.Fatalf("sdrtrunkMetadata: %v", err)
	}
	if meta.AudioType != calls.AudioTypeAnalog {
		t.Errorf("audio_type = %q, want analog without a source", meta.AudioType)
	}
	if meta.ShortName != "sdrtrunk-7" {
		t.Errorf("short_name = %q", meta.ShortName)
	}
}

func TestBearerAuth(t *testing.T) {
	handler := BearerAuth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("good token: status = %d, want 204", rr.Code)
	}

	// Empty configured token disables auth.
	open := BearerAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rr = httptest.NewRecorder()
	open.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("auth disabled: status = %d, want 204", rr.Code)
	}
}
