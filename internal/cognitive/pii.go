package cognitive

import (
	"context"
	"errors"
	"fmt"

	"github.com/sungwon/mail-dispatch/internal/azure"
	"github.com/sungwon/mail-dispatch/internal/policy"
)

const defaultLanguageAPIVersion = "2023-04-01"

// PIIClient calls the Language service's PII entity recognition.
type PIIClient struct {
	creds      Credentials
	apiVersion string
	client     azure.HTTPClient
}

// NewPIIClient creates a PII client. An empty apiVersion uses the default.
func NewPIIClient(creds Credentials, apiVersion string, client azure.HTTPClient) (*PIIClient, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}
	if apiVersion == "" {
		apiVersion = defaultLanguageAPIVersion
	}
	return &PIIClient{creds: creds, apiVersion: apiVersion, client: client}, nil
}

type analyzeTextRequest struct {
	Kind          string            `json:"kind"`
	AnalysisInput analysisInput     `json:"analysisInput"`
	Parameters    map[string]string `json:"parameters,omitempty"`
}

type analysisInput struct {
	Documents []document `json:"documents"`
}

type document struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

type analyzeTextResponse struct {
	Results struct {
		Documents []struct {
			ID           string `json:"id"`
			RedactedText string `json:"redactedText"`
			Entities     []struct {
				Text            string  `json:"text"`
				Category        string  `json:"category"`
				ConfidenceScore float64 `json:"confidenceScore"`
			} `json:"entities"`
		} `json:"documents"`
		Errors []struct {
			ID    string `json:"id"`
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		} `json:"errors"`
	} `json:"results"`
}

// DetectPII returns the entities found in text and the redacted text.
func (c *PIIClient) DetectPII(ctx context.Context, text string) (policy.PIIResult, error) {
	req := analyzeTextRequest{
		Kind: "PiiEntityRecognition",
		AnalysisInput: analysisInput{
			Documents: []document{{ID: "1", Language: "en", Text: text}},
		},
		Parameters: map[string]string{"modelVersion": "latest"},
	}

	var resp analyzeTextResponse
	url := fmt.Sprintf("%s/language/:analyze-text?api-version=%s", c.creds.baseURL(), c.apiVersion)
	if err := postJSON(ctx, c.client, "language-pii", url, "Ocp-Apim-Subscription-Key", c.creds.Key, req, &resp); err != nil {
		return policy.PIIResult{}, err
	}

	if len(resp.Results.Errors) > 0 {
		e := resp.Results.Errors[0].Error
		return policy.PIIResult{}, fmt.Errorf("language-pii: document error: %s: %s", e.Code, e.Message)
	}
	if len(resp.Results.Documents) == 0 {
		return policy.PIIResult{}, errors.New("language-pii: no document in response")
	}

	doc := resp.Results.Documents[0]
	result := policy.PIIResult{RedactedText: doc.RedactedText}
	for _, e := range doc.Entities {
		result.Entities = append(result.Entities, policy.Entity{
			Text:     e.Text,
			Category: e.Category,
			Score:    e.ConfidenceScore,
		})
	}
	return result, nil
}
