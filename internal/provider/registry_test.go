package provider

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/renderloop/backend/internal/models"
)

func imageSpec() AdapterSpec {
	return AdapterSpec{
		Model:    "pixgen-1",
		Kind:     models.KindImage,
		Endpoint: "https://up/generate",
		BaseCost: 4,
	}
}

func TestAdapterCost(t *testing.T) {
	flat, err := NewAdapter(imageSpec())
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if got := flat.Cost(json.RawMessage(`{"prompt":"x"}`)); got != 4 {
		t.Errorf("flat cost: got %d, want 4", got)
	}

	spec := imageSpec()
	spec.Model = "vidgen-1"
	spec.Kind = models.KindVideo
	spec.BaseCost = 10
	spec.CostPerUnit = 2
	spec.UnitPath = "duration_seconds"
	perUnit, err := NewAdapter(spec)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if got := perUnit.Cost(json.RawMessage(`{"duration_seconds":8}`)); got != 26 {
		t.Errorf("unit cost: got %d, want 10 + 2*8 = 26", got)
	}
	// Missing unit field falls back to the base price.
	if got := perUnit.Cost(json.RawMessage(`{}`)); got != 10 {
		t.Errorf("cost without units: got %d, want 10", got)
	}
}

func TestAdapterBuildRequest(t *testing.T) {
	a, err := NewAdapter(imageSpec())
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	body, err := a.BuildRequest(json.RawMessage(`{"prompt":"a cat"}`),
		"http://broker/v1/webhooks/provider", "http://store/objects/abc")
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if got := gjson.GetBytes(body, "model").String(); got != "pixgen-1" {
		t.Errorf("model: got %q", got)
	}
	if got := gjson.GetBytes(body, "webhook_url").String(); got != "http://broker/v1/webhooks/provider" {
		t.Errorf("webhook_url: got %q", got)
	}
	if got := gjson.GetBytes(body, "input_url").String(); got != "http://store/objects/abc" {
		t.Errorf("input_url: got %q", got)
	}
	if got := gjson.GetBytes(body, "prompt").String(); got != "a cat" {
		t.Errorf("client params must survive: prompt is %q", got)
	}

	// Empty params and no input still produce a valid body.
	body, err = a.BuildRequest(nil, "http://broker/hook", "")
	if err != nil {
		t.Fatalf("BuildRequest with nil params: %v", err)
	}
	if gjson.GetBytes(body, "input_url").Exists() {
		t.Error("input_url must be absent when nothing was staged")
	}
}

func TestAdapterExtracts(t *testing.T) {
	spec := imageSpec()
	spec.TaskIDPath = "data.id"
	spec.ResultPath = "data.output.url"
	a, err := NewAdapter(spec)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if got := a.ExtractTaskID([]byte(`{"data":{"id":"pt-9"}}`)); got != "pt-9" {
		t.Errorf("task id: got %q", got)
	}
	if got := a.ExtractResultRef([]byte(`{"data":{"output":{"url":"https://cdn/x.png"}}}`)); got != "https://cdn/x.png" {
		t.Errorf("result ref: got %q", got)
	}
	if got := a.ExtractTaskID([]byte(`{"status":"ok"}`)); got != "" {
		t.Errorf("missing id must be empty, got %q", got)
	}

	// Defaults.
	d, _ := NewAdapter(imageSpec())
	if got := d.ExtractTaskID([]byte(`{"task_id":"pt-1"}`)); got != "pt-1" {
		t.Errorf("default task id path: got %q", got)
	}
	if got := d.ExtractResultRef([]byte(`{"result":{"url":"https://cdn/y.png"}}`)); got != "https://cdn/y.png" {
		t.Errorf("default result path: got %q", got)
	}
}

func TestAdapterValidateParams(t *testing.T) {
	spec := imageSpec()
	spec.ParamsSchema = `{
		"type": "object",
		"required": ["prompt"],
		"properties": {"prompt": {"type": "string", "minLength": 1}}
	}`
	a, err := NewAdapter(spec)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if err := a.ValidateParams(json.RawMessage(`{"prompt":"a cat"}`)); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
	err = a.ValidateParams(json.RawMessage(`{"prompt":""}`))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}
	err = a.ValidateParams(json.RawMessage(`not json`))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for malformed JSON, got: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry([]AdapterSpec{imageSpec()})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, ok := reg.Lookup("pixgen-1"); !ok {
		t.Error("registered model must resolve")
	}
	if _, ok := reg.Lookup("nope"); ok {
		t.Error("unknown model must not resolve")
	}

	if _, err := NewRegistry([]AdapterSpec{imageSpec(), imageSpec()}); err == nil {
		t.Error("duplicate model names must be rejected")
	}

	bad := imageSpec()
	bad.Kind = "hologram"
	if _, err := NewRegistry([]AdapterSpec{bad}); err == nil {
		t.Error("unknown kinds must be rejected")
	}
}
