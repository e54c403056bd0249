package cognitive

import (
	"context"
	"fmt"

	"github.com/sungwon/mail-dispatch/internal/azure"
	"github.com/sungwon/mail-dispatch/internal/policy"
)

const defaultContentSafetyAPIVersion = "2023-10-01"

// HarmCategories are the categories every analysis requests.
var HarmCategories = []string{"Hate", "SelfHarm", "Sexual", "Violence"}

// ContentSafetyClient calls Content Safety text analysis.
type ContentSafetyClient struct {
	creds      Credentials
	apiVersion string
	client     azure.HTTPClient
}

// NewContentSafetyClient creates a client. An empty apiVersion uses the default.
func NewContentSafetyClient(creds Credentials, apiVersion string, client azure.HTTPClient) (*ContentSafetyClient, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}
	if apiVersion == "" {
		apiVersion = defaultContentSafetyAPIVersion
	}
	return &ContentSafetyClient{creds: creds, apiVersion: apiVersion, client: client}, nil
}

type analyzeRequest struct {
	Text       string   `json:"text"`
	Categories []string `json:"categories"`
	OutputType string   `json:"outputType"`
}

type analyzeResponse struct {
	CategoriesAnalysis []struct {
		Category string `json:"category"`
		Severity int    `json:"severity"`
	} `json:"categoriesAnalysis"`
}

// ScoreHarmfulContent returns a severity (0, 2, 4 or 6) per category.
func (c *ContentSafetyClient) ScoreHarmfulContent(ctx context.Context, text string) ([]policy.CategoryScore, error) {
	req := analyzeRequest{
		Text:       text,
		Categories: HarmCategories,
		OutputType: "FourSeverityLevels",
	}

	var resp analyzeResponse
	url := fmt.Sprintf("%s/contentsafety/text:analyze?api-version=%s", c.creds.baseURL(), c.apiVersion)
	if err := postJSON(ctx, c.client, "content-safety", url, "Ocp-Apim-Subscription-Key", c.creds.Key, req, &resp); err != nil {
		return nil, err
	}

	scores := make([]policy.CategoryScore, 0, len(resp.CategoriesAnalysis))
	for _, a := range resp.CategoriesAnalysis {
		scores = append(scores, policy.CategoryScore{Category: a.Category, Severity: a.Severity})
	}
	return scores, nil
}
