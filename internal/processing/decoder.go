package processing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"stylist/internal/imaging"
)

// Envelope is the single normalized shape every decodable server response is
// reduced to.
type Envelope struct {
	ImageData        []byte
	TemplateID       string
	TemplateName     string
	ModelUsed        string
	GenerationTimeMs int
	Width            int
	Height           int
}

type wireMetadata struct {
	TemplateID          string `json:"template_id"`
	TemplateName        string `json:"template_name"`
	ModelUsed           string `json:"model_used"`
	GenerationTimeMs    int    `json:"generation_time_ms"`
	ProcessedDimensions struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"processed_dimensions"`
}

type wireResult struct {
	Payload  string       `json:"processed_image_base64"`
	Metadata wireMetadata `json:"metadata"`
}

// A matcher attempts one response shape. It reports no match rather than an
// error so the chain stays an ordered list of pure parse attempts,
// first-success-wins.
type matcher func(raw []byte) (wireResult, bool)

// matchers is the ordered fallback chain: strict enveloped, strict direct,
// then a tolerant generic key-value scan.
var matchers = []matcher{matchEnveloped, matchDirect, matchGeneric}

// strictUnmarshal decodes raw into v, rejecting unknown fields so each strict
// shape matches only documents that actually have that shape.
func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// matchEnveloped handles { "data": { "processed_image_base64": ..., "metadata": {...} } }.
func matchEnveloped(raw []byte) (wireResult, bool) {
	var envelope struct {
		Data *wireResult `json:"data"`
	}
	if err := strictUnmarshal(raw, &envelope); err != nil || envelope.Data == nil {
		return wireResult{}, false
	}
	if envelope.Data.Payload == "" {
		return wireResult{}, false
	}
	return *envelope.Data, true
}

// matchDirect handles { "processed_image_base64": ..., "metadata": {...} }.
func matchDirect(raw []byte) (wireResult, bool) {
	var result wireResult
	if err := strictUnmarshal(raw, &result); err != nil || result.Payload == "" {
		return wireResult{}, false
	}
	return result, true
}

// matchGeneric scans an untyped key-value parse for the payload and metadata,
// at the top level or nested under "data".
func matchGeneric(raw []byte) (wireResult, bool) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return wireResult{}, false
	}
	if result, ok := resultFromMap(doc); ok {
		return result, true
	}
	if nested, ok := doc["data"].(map[string]any); ok {
		return resultFromMap(nested)
	}
	return wireResult{}, false
}

func resultFromMap(doc map[string]any) (wireResult, bool) {
	payload, ok := doc["processed_image_base64"].(string)
	if !ok || payload == "" {
		return wireResult{}, false
	}
	result := wireResult{Payload: payload}
	if meta, ok := doc["metadata"].(map[string]any); ok {
		// Round-trip through JSON to reuse the typed metadata decode.
		if data, err := json.Marshal(meta); err == nil {
			_ = json.Unmarshal(data, &result.Metadata)
		}
	}
	return result, true
}

// DecodeResponse normalizes a raw response body into an Envelope, or fails
// with ErrInvalidResponse carrying a snippet of the body for diagnostics.
// A payload that matches a shape but does not decode to a valid image is a
// distinct failure from matching no shape at all; both are terminal.
func DecodeResponse(raw []byte) (*Envelope, error) {
	for _, match := range matchers {
		result, ok := match(raw)
		if !ok {
			continue
		}
		imageData, err := imaging.DecodeBase64Image(result.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: image payload: %v", ErrInvalidResponse, err)
		}
		return &Envelope{
			ImageData:        imageData,
			TemplateID:       result.Metadata.TemplateID,
			TemplateName:     result.Metadata.TemplateName,
			ModelUsed:        result.Metadata.ModelUsed,
			GenerationTimeMs: result.Metadata.GenerationTimeMs,
			Width:            result.Metadata.ProcessedDimensions.Width,
			Height:           result.Metadata.ProcessedDimensions.Height,
		}, nil
	}
	return nil, fmt.Errorf("%w: no decodable shape in %q", ErrInvalidResponse, bodySnippet(raw))
}

// bodySnippet trims a response body to a loggable size.
func bodySnippet(raw []byte) string {
	const maxSnippet = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > maxSnippet {
		return s[:maxSnippet] + "... [truncated]"
	}
	return s
}
