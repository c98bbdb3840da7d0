package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NEREngineName identifies the high-recall detector in Records and audit
// detail.
const NEREngineName = "ner"

// nerLabels are the entity classes requested from the model. Structured
// identifiers are left to the pattern detector; the model earns its keep on
// names and organizations.
var nerLabels = []string{"person", "organization", "medical_id", "case_number"}

var nerLabelKinds = map[string]EntityKind{
	"person":       EntityPerson,
	"organization": EntityOrg,
	"medical_id":   EntityMedicalID,
	"case_number":  EntityCaseNumber,
}

// NERDetector calls a local GLiNER-style extraction endpoint over HTTP.
// It is optional: when the endpoint is absent or failing, the engine falls
// back to the pattern detector alone and reports degraded mode.
type NERDetector struct {
	endpoint string
	client   *http.Client
}

// NewNERDetector creates a detector against an extraction endpoint.
func NewNERDetector(endpoint string) *NERDetector {
	return &NERDetector{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *NERDetector) Name() string { return NEREngineName }

type nerRequest struct {
	Text   string   `json:"text"`
	Labels []string `json:"labels"`
}

type nerEntity struct {
	Label string  `json:"label"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Score float64 `json:"score"`
}

type nerResponse struct {
	Entities []nerEntity `json:"entities"`
}

// Detect sends text to the extraction endpoint and maps returned entities to
// Detections. Any transport or decode failure is returned so the engine can
// record degraded mode; the text itself is never logged.
func (d *NERDetector) Detect(ctx context.Context, text string) ([]Detection, error) {
	body, err := json.Marshal(nerRequest{Text: text, Labels: nerLabels})
	if err != nil {
		return nil, fmt.Errorf("marshal ner request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("ner endpoint returned %d", resp.StatusCode)
	}

	var parsed nerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode ner response: %w", err)
	}

	var out []Detection
	for _, e := range parsed.Entities {
		kind, ok := nerLabelKinds[e.Label]
		if !ok {
			continue
		}
		if e.Start < 0 || e.End > len(text) || e.Start >= e.End {
			continue
		}
		out = append(out, Detection{
			Kind:       kind,
			Confidence: clamp01(e.Score),
			Start:      e.Start,
			End:        e.End,
			Value:      text[e.Start:e.End],
			Engine:     NEREngineName,
		})
	}
	sortDetections(out)
	return out, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
