package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/providers"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Header: http.Header{}, Body: io.NopCloser(bytes.NewReader([]byte(body)))}
}

var fluxModel = providers.ModelSpec{ID: "flux-schnell", Provider: providers.ProviderReplicate, Kind: domain.MediaKindImage, RemoteModel: "black-forest-labs/flux-schnell", SupportsWebhook: true}

func TestSubmitSendsWebhook(t *testing.T) {
	var captured predictionRequest
	client := NewClient(Options{
		APIToken: "tok",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path != "/v1/models/black-forest-labs/flux-schnell/predictions" {
				t.Fatalf("unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer tok" {
				t.Fatalf("missing token")
			}
			_ = json.NewDecoder(r.Body).Decode(&captured)
			return jsonResponse(http.StatusCreated, `{"id":"pred-1","status":"starting"}`), nil
		})},
	})

	id, err := client.Submit(context.Background(), providers.Request{
		Model:       fluxModel,
		Prompt:      "a tree",
		NumOutputs:  2,
		CallbackURL: "https://api.example.com/v1/webhooks/replicate",
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if id != "pred-1" {
		t.Fatalf("id = %q", id)
	}
	if captured.Webhook != "https://api.example.com/v1/webhooks/replicate" || captured.WebhookEventsFilter[0] != "completed" {
		t.Fatalf("webhook not set: %+v", captured)
	}
	if captured.Input["num_outputs"] != float64(2) {
		t.Fatalf("num_outputs = %v", captured.Input["num_outputs"])
	}
}

func TestSubmitRequiresCallback(t *testing.T) {
	client := NewClient(Options{APIToken: "tok"})
	if _, err := client.Submit(context.Background(), providers.Request{Model: fluxModel}); err == nil {
		t.Fatal("expected error without callback url")
	}
}

func TestGeneratePollsUntilSucceeded(t *testing.T) {
	polls := 0
	client := NewClient(Options{
		APIToken:     "tok",
		PollInterval: time.Millisecond,
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.Method == http.MethodPost {
				return jsonResponse(http.StatusCreated, `{"id":"pred-2","status":"processing"}`), nil
			}
			polls++
			if polls < 2 {
				return jsonResponse(http.StatusOK, `{"id":"pred-2","status":"processing"}`), nil
			}
			return jsonResponse(http.StatusOK, `{"id":"pred-2","status":"succeeded","output":["https://r.example/0.webp","https://r.example/1.webp"]}`), nil
		})},
	})

	res, err := client.Generate(context.Background(), providers.Request{Model: fluxModel, Prompt: "x", NumOutputs: 2})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if res.PredictionID != "pred-2" || len(res.Outputs) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestGenerateFailedPrediction(t *testing.T) {
	client := NewClient(Options{
		APIToken: "tok",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusCreated, `{"id":"pred-3","status":"failed","error":"NSFW content detected"}`), nil
		})},
	})
	_, err := client.Generate(context.Background(), providers.Request{Model: fluxModel, Prompt: "x"})
	perr, ok := providers.AsError(err)
	if !ok || !strings.Contains(perr.Message, "NSFW") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestParseWebhook(t *testing.T) {
	client := NewClient(Options{})
	tests := []struct {
		name        string
		body        string
		wantStatus  string
		wantOutputs int
		wantErr     bool
	}{
		{"single output", `{"id":"p","status":"succeeded","output":"https://r.example/v.mp4"}`, providers.EventSucceeded, 1, false},
		{"list output", `{"id":"p","status":"succeeded","output":["a","","b"]}`, providers.EventSucceeded, 2, false},
		{"failed", `{"id":"p","status":"failed","error":"boom"}`, providers.EventFailed, 0, false},
		{"missing id", `{"status":"succeeded"}`, "", 0, true},
		{"bad json", `{`, "", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			event, err := client.ParseWebhook([]byte(tc.body))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseWebhook error: %v", err)
			}
			if event.Status != tc.wantStatus || len(event.Outputs) != tc.wantOutputs {
				t.Fatalf("unexpected event %+v", event)
			}
		})
	}
}

func TestFetchPrediction(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus string
		wantURLs   int
		wantErr    bool
	}{
		{name: "succeeded", status: http.StatusOK, body: `{"id":"pred-9","status":"succeeded","output":"https://r.example/0.png"}`, wantStatus: providers.EventSucceeded, wantURLs: 1},
		{name: "still running", status: http.StatusOK, body: `{"id":"pred-9","status":"processing"}`, wantStatus: "processing"},
		{name: "failed", status: http.StatusOK, body: `{"id":"pred-9","status":"failed","error":"boom"}`, wantStatus: providers.EventFailed},
		{name: "not found", status: http.StatusNotFound, body: `{"detail":"not found"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(Options{
				APIToken: "tok",
				HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
					if r.Method != http.MethodGet || r.URL.Path != "/v1/predictions/pred-9" {
						t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
					}
					return jsonResponse(tt.status, tt.body), nil
				})},
			})
			event, err := client.FetchPrediction(context.Background(), "pred-9")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchPrediction error: %v", err)
			}
			if event.PredictionID != "pred-9" || event.Status != tt.wantStatus || len(event.Outputs) != tt.wantURLs {
				t.Fatalf("unexpected event %+v", event)
			}
		})
	}
}
