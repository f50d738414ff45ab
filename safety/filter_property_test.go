package safety

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/BaSui01/voiceflow/types"
)

func TestProperty_ScreenInputTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	f, err := NewFilter(DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}

	properties.Property("every input yields exactly one verdict and blocks carry a rule", prop.ForAll(
		func(text string) bool {
			v := f.ScreenInput(context.Background(), text, nil)
			if v == nil {
				t.Logf("nil verdict for %q", text)
				return false
			}
			if !v.Allowed && (v.Rule == "" || v.Checker == "") {
				t.Logf("block without rule/checker for %q", text)
				return false
			}
			return true
		},
		gen.AnyString(),
	))

	properties.Property("alphanumeric inputs within the length limit are allowed", prop.ForAll(
		func(text string) bool {
			if len(text) > DefaultMaxInputLength {
				return true
			}
			v := f.ScreenInput(context.Background(), text, nil)
			if !v.Allowed {
				t.Logf("blocked %q on rule %s", text, v.Rule)
				return false
			}
			return true
		},
		gen.RegexMatch("[a-zA-Z0-9]*"),
	))

	properties.TestingRun(t)
}

func TestProperty_ConfidenceFloorMonotone(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	f, err := NewFilter(DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}

	properties.Property("acceptance is exactly confidence >= policy floor", prop.ForAll(
		func(confidence, floor float64) bool {
			policy := &types.PolicyContext{TenantID: "t", MinConfidence: floor}
			v := f.ValidateOutput(context.Background(), "a clean response", confidence, policy)
			return v.Allowed == (confidence >= floor)
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0.01, 1),
	))

	properties.TestingRun(t)
}
