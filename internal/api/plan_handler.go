package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/engine"
	"github.com/shaiso/megs/internal/launch"
)

// Plan строит граф по параметрам без создания run.
// POST /api/v1/plan
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	params, _, err := resolveParams(req.Params, req.Preset)
	if HandleRepoError(w, h.logger, err, "preset not found") {
		return
	}

	spec, err := engine.BuildTaxonomyFlow(params)
	if err != nil {
		InvalidParams(w, err)
		return
	}

	dag, err := engine.BuildDAG(spec)
	if err != nil {
		InvalidParams(w, err)
		return
	}

	resp := PlanResponse{Spec: *spec}
	for _, n := range dag.GetExecutableNodes() {
		resp.Steps++
		if n.Tier == domain.TierHeavy {
			resp.Heavy++
		}
	}

	Success(w, resp)
}

// ParamResponse — описание параметра пайплайна.
type ParamResponse struct {
	Name string `json:"name"`
	domain.InputDef
}

// ListParams описывает параметры пайплайна для интерфейса запуска.
// GET /api/v1/params
func (h *Handler) ListParams(w http.ResponseWriter, r *http.Request) {
	inputs := engine.ParamInputs()

	result := make([]ParamResponse, 0, len(inputs))
	for name, def := range inputs {
		result = append(result, ParamResponse{Name: name, InputDef: def})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })

	List(w, result, len(result))
}

// ListPresets возвращает встроенные launch presets.
// GET /api/v1/presets
func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := launch.Presets()
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	result := make([]PresetResponse, len(presets))
	for i, p := range presets {
		result[i] = PresetFromLaunch(p)
	}

	List(w, result, len(result))
}

// GetPreset возвращает launch preset по имени.
// GET /api/v1/presets/{name}
func (h *Handler) GetPreset(w http.ResponseWriter, r *http.Request) {
	p, err := launch.Get(r.PathValue("name"))
	if HandleRepoError(w, h.logger, err, "preset not found") {
		return
	}

	Success(w, PresetFromLaunch(*p))
}
