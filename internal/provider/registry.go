package provider

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/renderloop/backend/internal/models"
)

// AdapterSpec describes one upstream model in broker config. Only endpoint,
// cost calculation, and request/response shape vary per model; the control
// flow around them is shared.
type AdapterSpec struct {
	Model          string `yaml:"model"`
	Kind           string `yaml:"kind"`
	Endpoint       string `yaml:"endpoint"`
	ResultEndpoint string `yaml:"result_endpoint"`
	BaseCost       int    `yaml:"base_cost"`
	CostPerUnit    int    `yaml:"cost_per_unit"`
	UnitPath       string `yaml:"unit_path"`
	TaskIDPath     string `yaml:"task_id_path"`
	ResultPath     string `yaml:"result_path"`
	ParamsSchema   string `yaml:"params_schema"`
}

// Adapter is the compiled, per-model strategy: where to submit, what to
// charge, how to shape the request, and where ids and results live in the
// provider's JSON.
type Adapter struct {
	Model          string
	Kind           string
	Endpoint       string
	ResultEndpoint string

	baseCost    int
	costPerUnit int
	unitPath    string
	taskIDPath  string
	resultPath  string
	schema      *paramsSchema
}

var validKinds = map[string]bool{
	models.KindImage: true,
	models.KindVideo: true,
	models.KindAudio: true,
	models.KindText:  true,
}

// NewAdapter compiles a spec, applying defaults for the JSON paths.
func NewAdapter(spec AdapterSpec) (*Adapter, error) {
	if spec.Model == "" {
		return nil, fmt.Errorf("adapter spec is missing a model name")
	}
	if !validKinds[spec.Kind] {
		return nil, fmt.Errorf("adapter %q: unknown kind %q", spec.Model, spec.Kind)
	}
	if spec.Endpoint == "" {
		return nil, fmt.Errorf("adapter %q: endpoint is required", spec.Model)
	}
	if spec.BaseCost <= 0 {
		return nil, fmt.Errorf("adapter %q: base_cost must be > 0", spec.Model)
	}
	a := &Adapter{
		Model:          spec.Model,
		Kind:           spec.Kind,
		Endpoint:       spec.Endpoint,
		ResultEndpoint: spec.ResultEndpoint,
		baseCost:       spec.BaseCost,
		costPerUnit:    spec.CostPerUnit,
		unitPath:       spec.UnitPath,
		taskIDPath:     spec.TaskIDPath,
		resultPath:     spec.ResultPath,
	}
	if a.ResultEndpoint == "" {
		a.ResultEndpoint = spec.Endpoint
	}
	if a.taskIDPath == "" {
		a.taskIDPath = "task_id"
	}
	if a.resultPath == "" {
		a.resultPath = "result.url"
	}
	if spec.ParamsSchema != "" {
		s, err := compileParamsSchema(spec.Model, spec.ParamsSchema)
		if err != nil {
			return nil, fmt.Errorf("adapter %q: %w", spec.Model, err)
		}
		a.schema = s
	}
	return a, nil
}

// Cost is the credit price for a request, fixed at admission time. Unit-
// priced models (video seconds, upscale factors) add cost_per_unit times the
// numeric field at unit_path in the params.
func (a *Adapter) Cost(params json.RawMessage) int {
	cost := a.baseCost
	if a.costPerUnit > 0 && a.unitPath != "" {
		if v := gjson.GetBytes(params, a.unitPath); v.Exists() && v.Int() > 0 {
			cost += a.costPerUnit * int(v.Int())
		}
	}
	return cost
}

// ValidateParams checks client params against the model's schema, if any.
func (a *Adapter) ValidateParams(params json.RawMessage) error {
	if a.schema == nil {
		return nil
	}
	return a.schema.validate(params)
}

// BuildRequest shapes the upstream submission body: the client params with
// the model name, the webhook callback, and the staged input URL injected.
func (a *Adapter) BuildRequest(params json.RawMessage, webhookURL, inputURL string) ([]byte, error) {
	body := []byte(params)
	if len(body) == 0 {
		body = []byte(`{}`)
	}
	body, err := sjson.SetBytes(body, "model", a.Model)
	if err != nil {
		return nil, fmt.Errorf("set model: %w", err)
	}
	body, err = sjson.SetBytes(body, "webhook_url", webhookURL)
	if err != nil {
		return nil, fmt.Errorf("set webhook_url: %w", err)
	}
	if inputURL != "" {
		body, err = sjson.SetBytes(body, "input_url", inputURL)
		if err != nil {
			return nil, fmt.Errorf("set input_url: %w", err)
		}
	}
	return body, nil
}

// ExtractTaskID pulls the provider-assigned task id out of a submission
// response. Empty means the provider gave us nothing trackable.
func (a *Adapter) ExtractTaskID(response []byte) string {
	return gjson.GetBytes(response, a.taskIDPath).String()
}

// ExtractResultRef pulls the result reference out of a result payload.
func (a *Adapter) ExtractResultRef(response []byte) string {
	return gjson.GetBytes(response, a.resultPath).String()
}

// Registry is the model → adapter table, built once at startup. Webhook and
// submission paths resolve models through it instead of cascading on the
// model string.
type Registry struct {
	adapters map[string]*Adapter
}

func NewRegistry(specs []AdapterSpec) (*Registry, error) {
	adapters := make(map[string]*Adapter, len(specs))
	for _, spec := range specs {
		a, err := NewAdapter(spec)
		if err != nil {
			return nil, err
		}
		if _, dup := adapters[a.Model]; dup {
			return nil, fmt.Errorf("duplicate adapter for model %q", a.Model)
		}
		adapters[a.Model] = a
	}
	return &Registry{adapters: adapters}, nil
}

// Lookup returns the adapter for a model, or false for unknown models.
func (r *Registry) Lookup(model string) (*Adapter, bool) {
	a, ok := r.adapters[model]
	return a, ok
}

func (r *Registry) Len() int { return len(r.adapters) }
