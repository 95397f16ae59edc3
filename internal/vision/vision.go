// Package vision labels still images with Google Cloud Vision.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	visionapi "google.golang.org/api/vision/v1"

	"github.com/chadiek/snap-narrator/internal/svcerr"
)

const maxResults = 10

// ErrEmptyImage is returned before any network call when there is nothing to analyze.
var ErrEmptyImage = errors.New("vision: empty image")

// Label is one detected label, Score in [0,1].
type Label struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// AnalysisResult is derived once per captured frame and never mutated.
type AnalysisResult struct {
	Labels      []Label `json:"labels"`
	PrimaryText string  `json:"primaryText,omitempty"`
	// Detected is false when the service answered with no annotation responses at all.
	Detected bool `json:"detected"`
}

// Analyzer labels an encoded image.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (AnalysisResult, error)
}

// Client calls images:annotate with a fixed feature set.
type Client struct {
	svc *visionapi.Service
}

// NewClient builds a client authenticated with an API key. endpoint is optional.
func NewClient(ctx context.Context, apiKey, endpoint string) (*Client, error) {
	var opts []option.ClientOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	} else {
		// requests fail with 403 rather than the process failing at startup
		opts = append(opts, option.WithoutAuthentication())
	}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := visionapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating vision service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// BuildRequest wraps one encoded image with label, text and object features.
func BuildRequest(image []byte) *visionapi.BatchAnnotateImagesRequest {
	return &visionapi.BatchAnnotateImagesRequest{
		Requests: []*visionapi.AnnotateImageRequest{{
			Image: &visionapi.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*visionapi.Feature{
				{Type: "LABEL_DETECTION", MaxResults: maxResults},
				{Type: "TEXT_DETECTION"},
				{Type: "OBJECT_LOCALIZATION", MaxResults: maxResults},
			},
		}},
	}
}

// Analyze submits image and converts the first annotation response.
func (c *Client) Analyze(ctx context.Context, image []byte) (AnalysisResult, error) {
	if len(image) == 0 {
		return AnalysisResult{}, ErrEmptyImage
	}
	resp, err := c.svc.Images.Annotate(BuildRequest(image)).Context(ctx).Do()
	if err != nil {
		return AnalysisResult{}, classify(err)
	}
	return fromResponse(resp)
}

func fromResponse(resp *visionapi.BatchAnnotateImagesResponse) (AnalysisResult, error) {
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return AnalysisResult{}, nil
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return AnalysisResult{}, svcerr.New(svcerr.KindService, "vision", fmt.Errorf("code=%d: %s", r.Error.Code, r.Error.Message))
	}
	out := AnalysisResult{Detected: true}
	for _, l := range r.LabelAnnotations {
		if l == nil {
			continue
		}
		out.Labels = append(out.Labels, Label{Description: l.Description, Score: l.Score})
	}
	if len(r.TextAnnotations) > 0 && r.TextAnnotations[0] != nil {
		out.PrimaryText = r.TextAnnotations[0].Description
	}
	return out, nil
}

func classify(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return svcerr.New(svcerr.KindService, "vision", err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return svcerr.New(svcerr.KindParse, "vision", err)
	}
	return svcerr.New(svcerr.KindTransport, "vision", err)
}

// Describe renders a result as the text block handed to the chat model.
func Describe(r AnalysisResult) string {
	var b strings.Builder
	b.WriteString("Detected Objects:\n")
	if len(r.Labels) == 0 {
		b.WriteString("No labels detected.\n")
	}
	for _, l := range r.Labels {
		fmt.Fprintf(&b, "%s (%.1f%%)\n", l.Description, l.Score*100)
	}
	b.WriteString("\nDetected Text: ")
	if r.PrimaryText != "" {
		b.WriteString(r.PrimaryText)
	} else {
		b.WriteString("No text detected.")
	}
	return b.String()
}
