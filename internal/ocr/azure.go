package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// AzureOptions configures the Document Intelligence client.
type AzureOptions struct {
	Endpoint     string
	Key          string
	Model        string
	APIVersion   string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Azure calls the Document Intelligence "analyze" REST API and polls the
// returned operation until it completes.
type Azure struct {
	http         *http.Client
	endpoint     string
	key          string
	model        string
	apiVersion   string
	pollInterval time.Duration
}

func NewAzure(opts AzureOptions) (*Azure, error) {
	if opts.Endpoint == "" || opts.Key == "" {
		return nil, errors.New("missing AZURE_DOC_INTEL_ENDPOINT or AZURE_DOC_INTEL_KEY")
	}
	if opts.Model == "" {
		opts.Model = "prebuilt-read"
	}
	if opts.APIVersion == "" {
		opts.APIVersion = "2023-07-31"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Azure{
		http:         opts.HTTPClient,
		endpoint:     strings.TrimRight(opts.Endpoint, "/"),
		key:          opts.Key,
		model:        opts.Model,
		apiVersion:   opts.APIVersion,
		pollInterval: opts.PollInterval,
	}, nil
}

func (a *Azure) Name() string { return "azure" }

type azureAnalyzeResp struct {
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	AnalyzeResult struct {
		Pages []struct {
			PageNumber int `json:"pageNumber"`
			Lines      []struct {
				Content string `json:"content"`
			} `json:"lines"`
			Words []struct {
				Content    string   `json:"content"`
				Confidence *float64 `json:"confidence"`
			} `json:"words"`
		} `json:"pages"`
	} `json:"analyzeResult"`
}

func (a *Azure) Recognize(ctx context.Context, data []byte, pageRange string) (Result, error) {
	q := url.Values{}
	q.Set("api-version", a.apiVersion)
	if pageRange != "" {
		q.Set("pages", pageRange)
	}
	analyzeURL := fmt.Sprintf("%s/formrecognizer/documentModels/%s:analyze?%s", a.endpoint, a.model, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, analyzeURL, bytes.NewReader(data))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.key)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.http.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if err := a.checkStatus(resp); err != nil {
		return Result{}, err
	}
	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return Result{}, errors.New("azure: missing Operation-Location header")
	}
	log.Debug().Str("pages", pageRange).Int("bytes", len(data)).Msg("azure analyze submitted")

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		out, done, err := a.poll(ctx, opURL)
		if err != nil || done {
			return out, err
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Azure) poll(ctx context.Context, opURL string) (Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
	if err != nil {
		return Result{}, false, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.key)

	resp, err := a.http.Do(req)
	if err != nil {
		return Result{}, false, err
	}
	defer resp.Body.Close()
	if err := a.checkStatus(resp); err != nil {
		return Result{}, false, err
	}

	var r azureAnalyzeResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Result{}, false, fmt.Errorf("azure: decode analyze result: %w", err)
	}

	switch strings.ToLower(r.Status) {
	case "succeeded":
		return convertAzure(r), true, nil
	case "failed", "canceled":
		msg := r.Status
		if r.Error != nil {
			msg = r.Error.Code + ": " + r.Error.Message
		}
		return Result{}, true, fmt.Errorf("azure analyze %s", msg)
	default:
		return Result{}, false, nil
	}
}

func convertAzure(r azureAnalyzeResp) Result {
	pages := make(PageText, len(r.AnalyzeResult.Pages))
	var scores []float64
	for _, p := range r.AnalyzeResult.Pages {
		lines := make([]string, 0, len(p.Lines))
		for _, ln := range p.Lines {
			if ln.Content != "" {
				lines = append(lines, ln.Content)
			}
		}
		pages[p.PageNumber] = strings.TrimSpace(strings.Join(lines, "\n"))
		for _, w := range p.Words {
			if w.Confidence != nil {
				scores = append(scores, *w.Confidence)
			}
		}
	}
	return Result{Pages: pages, AvgConfidence: AverageConfidence(scores)}
}

func (a *Azure) checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(body), Provider: a.Name()}
	}
	return nil
}
