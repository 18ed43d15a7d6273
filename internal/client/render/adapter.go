package renderclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/errs"
)

// Adapter calls the external HTML→PDF renderer service (a headless
// browser behind an HTTP endpoint). Rendering is a pure function from
// (html, metadata) to pdf bytes.
type Adapter struct {
	baseURL    string
	httpClient *http.Client
}

func NewAdapter(baseURL string) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 45 * time.Second,
		},
	}
}

type renderRequest struct {
	HTML    string `json:"html"`
	Subject string `json:"subject,omitempty"`
	From    string `json:"from,omitempty"`
	Date    string `json:"date,omitempty"`
}

type renderResponse struct {
	PDF   string `json:"pdf"` // base64
	Pages int    `json:"pages"`
}

func (a *Adapter) Render(ctx context.Context, html string, meta dto.RenderMetadata) (dto.RenderResult, error) {
	payload, err := json.Marshal(renderRequest{
		HTML:    html,
		Subject: meta.Subject,
		From:    meta.From,
		Date:    meta.Date,
	})
	if err != nil {
		return dto.RenderResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return dto.RenderResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return dto.RenderResult{}, errs.NewExternalServiceError("renderer", err.Error(), true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return dto.RenderResult{}, errs.NewExternalServiceError("renderer",
			fmt.Sprintf("render returned %d", resp.StatusCode), resp.StatusCode >= 500)
	}

	var body renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return dto.RenderResult{}, errs.NewExternalServiceError("renderer", err.Error(), false)
	}

	pdf, err := base64.StdEncoding.DecodeString(body.PDF)
	if err != nil {
		return dto.RenderResult{}, errs.NewExternalServiceError("renderer", "malformed pdf payload", false)
	}
	return dto.RenderResult{PDF: pdf, Pages: body.Pages}, nil
}
