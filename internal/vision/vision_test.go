package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	visionapi "google.golang.org/api/vision/v1"

	"github.com/chadiek/snap-narrator/internal/svcerr"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(context.Background(), "test-key", srv.URL+"/")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestDescribe_FormatsLabelsAndMissingText(t *testing.T) {
	got := Describe(AnalysisResult{
		Detected: true,
		Labels:   []Label{{"cup", 0.95}, {"table", 0.40}},
	})
	for _, want := range []string{"cup (95.0%)", "table (40.0%)", "Detected Text: No text detected."} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in:\n%s", want, got)
		}
	}
	if strings.Index(got, "cup") > strings.Index(got, "table") {
		t.Fatalf("labels out of order:\n%s", got)
	}
}

func TestDescribe_NoLabelsWithText(t *testing.T) {
	got := Describe(AnalysisResult{Detected: true, PrimaryText: "EXIT"})
	want := "Detected Objects:\nNo labels detected.\n\nDetected Text: EXIT"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestAnalyze_ParsesFirstResponse(t *testing.T) {
	var gotReq visionapi.BatchAnnotateImagesRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/images:annotate") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("expected api key in query")
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"responses":[{"labelAnnotations":[{"description":"cup","score":0.95},{"description":"table","score":0.4}],"textAnnotations":[{"description":"MORNING"},{"description":"ignored"}]}]}`))
	})

	res, err := c.Analyze(context.Background(), []byte{0xff, 0xd8, 0xff})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !res.Detected || len(res.Labels) != 2 || res.Labels[0].Description != "cup" || res.PrimaryText != "MORNING" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(gotReq.Requests) != 1 || len(gotReq.Requests[0].Features) != 3 {
		t.Fatalf("unexpected request %+v", gotReq)
	}
	f := gotReq.Requests[0].Features
	if f[0].Type != "LABEL_DETECTION" || f[0].MaxResults != 10 || f[1].Type != "TEXT_DETECTION" || f[2].Type != "OBJECT_LOCALIZATION" {
		t.Fatalf("unexpected features %+v %+v %+v", f[0], f[1], f[2])
	}
}

func TestAnalyze_ZeroResponsesIsNotAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"responses":[]}`))
	})
	res, err := c.Analyze(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Detected {
		t.Fatalf("expected no detection")
	}
}

func TestAnalyze_Failures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		kind    svcerr.Kind
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"denied"}}`))
		}, svcerr.KindService},
		{"per_image_error", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"responses":[{"error":{"code":3,"message":"bad image data"}}]}`))
		}, svcerr.KindService},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"responses": nope}`))
		}, svcerr.KindParse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.handler)
			_, err := c.Analyze(context.Background(), []byte{1})
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := svcerr.KindOf(err); got != tc.kind {
				t.Fatalf("expected %s, got %s (%v)", tc.kind, got, err)
			}
		})
	}
}

func TestAnalyze_EmptyImage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	if _, err := c.Analyze(context.Background(), nil); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
}

func TestBuildRequest_PreservesDimensions(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	img.Set(3, 3, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	req := BuildRequest(buf.Bytes())
	raw, err := base64.StdEncoding.DecodeString(req.Requests[0].Image.Content)
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 48 {
		t.Fatalf("dimensions changed: %dx%d", cfg.Width, cfg.Height)
	}
}
