package spacing

import (
	"math"
	"testing"

	"github.com/paletteops/tokenflow/token"
)

func spacingToken(name string, px float64, confidence float64) token.TokenResult {
	return token.TokenResult{
		Type:       token.TypeSpacing,
		Name:       name,
		W3CType:    token.W3CDimension,
		Value:      px,
		Confidence: confidence,
	}
}

func TestPercentDiff(t *testing.T) {
	tests := []struct {
		a, b, want float64
	}{
		{15, 16, 100.0 / 16.0}, // 6.25%
		{16, 15, 100.0 / 16.0}, // symmetric
		{15, 20, 25},
		{0, 0, 0},
		{10, 10, 0},
	}
	for _, tc := range tests {
		if got := PercentDiff(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("PercentDiff(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSimilarValuesMergeAtThreshold(t *testing.T) {
	engine := NewEngine(Config{ThresholdPercent: 10})

	// 15 and 16 differ by 6.25% < 10%: one token.
	res, err := engine.Aggregate([][]token.TokenResult{
		{spacingToken("a", 15, 0.9)},
		{spacingToken("b", 16, 0.8)},
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(res.Values) != 1 {
		t.Fatalf("15 and 16 should merge at 10%% threshold, got %d tokens", len(res.Values))
	}
	v := res.Values[0]
	if v.Value != 16 { // round(15.5) == 16
		t.Errorf("expected rounded average 16, got %v", v.Value)
	}
	if len(v.RawValues) != 2 {
		t.Errorf("expected both raw values retained, got %v", v.RawValues)
	}
	if v.Provenance["image_0"] != 0.9 || v.Provenance["image_1"] != 0.8 {
		t.Errorf("unexpected provenance: %v", v.Provenance)
	}

	// 15 and 20 differ by 25% > 10%: two tokens.
	res, err = engine.Aggregate([][]token.TokenResult{
		{spacingToken("a", 15, 0.9)},
		{spacingToken("b", 20, 0.8)},
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(res.Values) != 2 {
		t.Errorf("15 and 20 should not merge at 10%% threshold, got %d tokens", len(res.Values))
	}
}

func TestClosestMatchWinsOverFirstMatch(t *testing.T) {
	engine := NewEngine(Config{ThresholdPercent: 15})

	// 10 and 13 are 23% apart, so they stay distinct. 11.5 is within the
	// threshold of both (13.0% of 10, 11.5% of 13); it must merge into
	// 13, the closer one, regardless of insertion order.
	res, err := engine.Aggregate([][]token.TokenResult{
		{spacingToken("a", 10, 0.9), spacingToken("b", 13, 0.7)},
		{spacingToken("c", 11.5, 0.8)},
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(res.Values) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(res.Values))
	}

	var merged *AggregatedSpacing
	for i := range res.Values {
		if len(res.Values[i].RawValues) == 2 {
			merged = &res.Values[i]
		}
	}
	if merged == nil {
		t.Fatal("no merged token found")
	}
	if merged.RawValues[0] != 13 || merged.RawValues[1] != 11.5 {
		t.Errorf("11.5 merged into wrong entry: raw values %v", merged.RawValues)
	}
}

func TestHigherConfidenceNamesToken(t *testing.T) {
	engine := NewEngine(Config{})
	res, err := engine.Aggregate([][]token.TokenResult{
		{spacingToken("gap-weak", 16, 0.5)},
		{spacingToken("gap-strong", 16, 0.95)},
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(res.Values) != 1 {
		t.Fatalf("expected merge, got %d tokens", len(res.Values))
	}
	if res.Values[0].Name != "gap-strong" || res.Values[0].Confidence != 0.95 {
		t.Errorf("expected higher-confidence observation to win naming, got %+v", res.Values[0])
	}
}

func TestDetectScale(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   ScaleSystem
	}{
		{"8pt", []float64{8, 16, 24, 32}, Scale8pt},
		{"4pt", []float64{4, 8, 12, 20}, Scale4pt},
		{"fibonacci", []float64{2, 3, 5, 8, 13, 21}, ScaleFibonacci},
		{"golden", []float64{10, 16, 26, 42}, ScaleGolden},
		{"custom", []float64{7, 13, 29}, ScaleCustom},
		{"empty", nil, ScaleCustom},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectScale(tc.values); got != tc.want {
				t.Errorf("DetectScale(%v) = %v, want %v", tc.values, got, tc.want)
			}
		})
	}
}

func TestRoleAssignment(t *testing.T) {
	engine := NewEngine(Config{})

	res, err := engine.Aggregate([][]token.TokenResult{{
		spacingToken("", 4, 0.9),
		spacingToken("", 8, 0.9),
		spacingToken("", 16, 0.9),
		spacingToken("", 24, 0.9),
		spacingToken("", 32, 0.9),
	}})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	wantRoles := []string{"xs", "sm", "md", "lg", "xl"}
	if len(res.Values) != len(wantRoles) {
		t.Fatalf("expected %d tokens, got %d", len(wantRoles), len(res.Values))
	}
	for i, v := range res.Values {
		if v.Role != wantRoles[i] {
			t.Errorf("position %d: expected role %q, got %q", i, wantRoles[i], v.Role)
		}
	}

	// Short scales use small/base/large.
	res, err = engine.Aggregate([][]token.TokenResult{{
		spacingToken("", 8, 0.9),
		spacingToken("", 16, 0.9),
		spacingToken("", 32, 0.9),
	}})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	wantRoles = []string{"small", "base", "large"}
	for i, v := range res.Values {
		if v.Role != wantRoles[i] {
			t.Errorf("short scale position %d: expected role %q, got %q", i, wantRoles[i], v.Role)
		}
	}
}

func TestUnparsableSpacingReported(t *testing.T) {
	engine := NewEngine(Config{})
	res, err := engine.Aggregate([][]token.TokenResult{{
		spacingToken("good", 16, 0.9),
		{Type: token.TypeSpacing, Name: "bad", Value: "wide", Confidence: 0.5},
	}})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(res.Values) != 1 || len(res.Skipped) != 1 {
		t.Errorf("expected 1 value and 1 skipped, got %d/%d", len(res.Values), len(res.Skipped))
	}
}

func TestStringAndIntValuesParse(t *testing.T) {
	engine := NewEngine(Config{})
	res, err := engine.Aggregate([][]token.TokenResult{{
		{Type: token.TypeSpacing, Name: "str", Value: "24px", Confidence: 0.9},
		{Type: token.TypeSpacing, Name: "int", Value: 48, Confidence: 0.9},
	}})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(res.Values) != 2 {
		t.Fatalf("expected 2 tokens, got %d (skipped: %v)", len(res.Values), res.Skipped)
	}
	if res.Values[0].Value != 24 || res.Values[1].Value != 48 {
		t.Errorf("unexpected values: %v %v", res.Values[0].Value, res.Values[1].Value)
	}
}

func TestScaleInStats(t *testing.T) {
	engine := NewEngine(Config{ThresholdPercent: 5})
	res, err := engine.Aggregate([][]token.TokenResult{
		{spacingToken("", 8, 0.9), spacingToken("", 16, 0.8)},
		{spacingToken("", 24, 0.7)},
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Stats.Scale != Scale8pt {
		t.Errorf("expected 8pt scale, got %v", res.Stats.Scale)
	}
	if res.Stats.UniqueValues != 3 || res.Stats.ImageCount != 2 {
		t.Errorf("unexpected stats: %+v", res.Stats)
	}
}
