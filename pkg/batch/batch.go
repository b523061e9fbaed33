// Package batch defines the inbound BatchSpec/Claim data model, validates
// it against a JSON schema before it reaches the inbox, and resolves
// claim_id references to full Claim bodies (spec §3, §4.5, §6).
//
// Grounded on github.com/Mindburn-Labs/helm/core's MCP tool-arg validation
// pattern (manifest.ValidateAndCanonicalizeToolArgs, read during survey)
// for "validate untrusted JSON against a schema before it enters the
// system"; reimplemented here with
// github.com/santhosh-tekuri/jsonschema/v5 since that validator is what
// the teacher's go.mod actually carries.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/caster-hub/validator-core/pkg/runtime"
)

// VerdictOptionSet is one of the three allowed discrete verdict domains
// (spec §3).
type VerdictOptionSet string

const (
	VerdictBinarySigned   VerdictOptionSet = "signed"   // {-1, 1}
	VerdictTernarySigned  VerdictOptionSet = "ternary"   // {-1, 0, 1}
	VerdictFiveStar       VerdictOptionSet = "five_star" // {1..5}
)

// AllowedVerdicts returns the concrete integer domain for a VerdictOptionSet.
func AllowedVerdicts(set VerdictOptionSet) ([]int, error) {
	switch set {
	case VerdictBinarySigned:
		return []int{-1, 1}, nil
	case VerdictTernarySigned:
		return []int{-1, 0, 1}, nil
	case VerdictFiveStar:
		return []int{1, 2, 3, 4, 5}, nil
	default:
		return nil, fmt.Errorf("unknown verdict option set %q", set)
	}
}

// Rubric describes how a claim should be judged.
type Rubric struct {
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	VerdictOptions VerdictOptionSet `json:"verdict_options"`
}

// Claim is one question a candidate must answer (spec §3).
type Claim struct {
	ClaimID         string                 `json:"claim_id"`
	Text            string                 `json:"text"`
	Rubric          Rubric                 `json:"rubric"`
	ReferenceAnswer interface{}            `json:"reference_answer"`
	BudgetUSD       float64                `json:"budget_usd"`
	Context         map[string]interface{} `json:"context,omitempty"`
}

// ArtifactSpec identifies one candidate submission under evaluation.
type ArtifactSpec struct {
	UID         int    `json:"uid"`
	ArtifactID  string `json:"artifact_id"`
	ContentHash string `json:"content_hash"`
	SizeBytes   int64  `json:"size_bytes"`
}

// BatchSpec is the inbound unit of work (spec §3, §6 POST /batch).
type BatchSpec struct {
	BatchID        string         `json:"batch_id"`
	EntrypointName string         `json:"entrypoint_name"`
	CutoffAt       string         `json:"cutoff_at"`
	CreatedAt      string         `json:"created_at"`
	Claims         []Claim        `json:"claims"`
	Candidates     []ArtifactSpec `json:"candidates"`
}

// batchSpecSchema is the JSON Schema the teacher's analogous validator
// would call "the contract for untrusted input"; it enforces the
// required fields and the three-valued verdict_options enum before a
// BatchSpec is ever unmarshaled into the Go struct above.
const batchSpecSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["batch_id", "entrypoint_name", "claims", "candidates"],
  "properties": {
    "batch_id": {"type": "string", "minLength": 1},
    "entrypoint_name": {"type": "string", "minLength": 1},
    "cutoff_at": {"type": "string"},
    "created_at": {"type": "string"},
    "claims": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["claim_id", "text", "rubric", "budget_usd"],
        "properties": {
          "claim_id": {"type": "string", "minLength": 1},
          "text": {"type": "string"},
          "budget_usd": {"type": "number", "minimum": 0},
          "rubric": {
            "type": "object",
            "required": ["title", "verdict_options"],
            "properties": {
              "title": {"type": "string"},
              "description": {"type": "string"},
              "verdict_options": {"enum": ["signed", "ternary", "five_star"]}
            }
          }
        }
      }
    },
    "candidates": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["uid", "artifact_id", "content_hash"],
        "properties": {
          "uid": {"type": "integer"},
          "artifact_id": {"type": "string", "minLength": 1},
          "content_hash": {"type": "string", "minLength": 1},
          "size_bytes": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("batch_spec.json", strings.NewReader(batchSpecSchema)); err != nil {
		panic(fmt.Errorf("batch: invalid embedded schema: %w", err))
	}
	schema, err := compiler.Compile("batch_spec.json")
	if err != nil {
		panic(fmt.Errorf("batch: failed to compile embedded schema: %w", err))
	}
	return schema
}

// ValidateRaw validates raw inbound JSON against the BatchSpec schema
// before it is unmarshaled, and returns the parsed BatchSpec on success.
func ValidateRaw(raw []byte) (*BatchSpec, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, runtime.Wrap(runtime.ErrMalformedRequest, err, "batch spec is not valid JSON")
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, runtime.Wrap(runtime.ErrMalformedRequest, err, "batch spec failed schema validation")
	}

	var spec BatchSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, runtime.Wrap(runtime.ErrMalformedRequest, err, "batch spec did not decode after schema validation")
	}
	return &spec, nil
}

// ClaimProvider resolves a claim reference to its full body. A Claim
// that already carries Text/Rubric inline is returned unchanged; a Claim
// that only carries ClaimID is looked up externally (SPEC_FULL supplement
// #7, grounded on the original implementation's claim-provider
// abstraction, which falls back to the inline claim when no external
// claim store is configured).
type ClaimProvider interface {
	Resolve(ctx context.Context, claimID string) (*Claim, error)
}

// InlineClaimProvider is the default ClaimProvider: every claim in the
// BatchSpec is already fully specified, so Resolve just looks it up from
// a pre-built map.
type InlineClaimProvider struct {
	claims map[string]Claim
}

func NewInlineClaimProvider(spec *BatchSpec) *InlineClaimProvider {
	m := make(map[string]Claim, len(spec.Claims))
	for _, c := range spec.Claims {
		m[c.ClaimID] = c
	}
	return &InlineClaimProvider{claims: m}
}

func (p *InlineClaimProvider) Resolve(ctx context.Context, claimID string) (*Claim, error) {
	c, ok := p.claims[claimID]
	if !ok {
		return nil, runtime.New(runtime.ErrMalformedRequest, "claim %s not present in batch", claimID)
	}
	return &c, nil
}
