package metabolate

import (
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MassTolerancePPM != 30 {
		t.Errorf("MassTolerancePPM = %g, want 30", cfg.MassTolerancePPM)
	}
	if cfg.RTTolerance != 0.03 {
		t.Errorf("RTTolerance = %g, want 0.03", cfg.RTTolerance)
	}
	if cfg.MinReplicates != 2 {
		t.Errorf("MinReplicates = %d, want 2", cfg.MinReplicates)
	}
	if cfg.EdgeWeight != EdgeWeightCoOccurrence {
		t.Errorf("EdgeWeight = %q, want %q", cfg.EdgeWeight, EdgeWeightCoOccurrence)
	}
	if cfg.MinEdgeWeight != 0 {
		t.Errorf("MinEdgeWeight = %g, want 0 (policy default applied at run time)", cfg.MinEdgeWeight)
	}
	if cfg.ActivityThreshold != 2 {
		t.Errorf("ActivityThreshold = %g, want 2", cfg.ActivityThreshold)
	}
	if cfg.ClusterThreshold != 0.3 {
		t.Errorf("ClusterThreshold = %g, want 0.3", cfg.ClusterThreshold)
	}
	if cfg.Resolution != 1.0 {
		t.Errorf("Resolution = %g, want 1.0", cfg.Resolution)
	}
	if cfg.MaxIterations != 100 {
		t.Errorf("MaxIterations = %d, want 100", cfg.MaxIterations)
	}
	if cfg.LeafSize != 40 {
		t.Errorf("LeafSize = %d, want 40", cfg.LeafSize)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	fs := mustFeatureSet(t, []Feature{
		{Sample: "A", Mz: 500, RT: 5, Intensity: 100},
	})

	cases := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"negative ppm", func(c *Config) { c.MassTolerancePPM = -1 }, "MassTolerancePPM"},
		{"zero rt tolerance", func(c *Config) { c.RTTolerance = -0.5 }, "RTTolerance"},
		{"zero min replicates", func(c *Config) { c.MinReplicates = -2 }, "MinReplicates"},
		{"unknown edge weight", func(c *Config) { c.EdgeWeight = "jaccard" }, "EdgeWeight"},
		{"negative min edge weight", func(c *Config) { c.MinEdgeWeight = -1 }, "MinEdgeWeight"},
		{"NaN activity threshold", func(c *Config) { c.ActivityThreshold = math.NaN() }, "ActivityThreshold"},
		{"NaN cluster threshold", func(c *Config) { c.ClusterThreshold = math.NaN() }, "ClusterThreshold"},
		{"negative resolution", func(c *Config) { c.Resolution = -1 }, "Resolution"},
		{"negative iterations", func(c *Config) { c.MaxIterations = -1 }, "MaxIterations"},
		{"negative leaf size", func(c *Config) { c.LeafSize = -1 }, "LeafSize"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			_, err := Run(fs, nil, cfg)
			if err == nil {
				t.Fatal("expected config error, got nil")
			}
			if !strings.Contains(err.Error(), tc.substr) {
				t.Errorf("error %q does not mention %s", err, tc.substr)
			}
		})
	}
}

func TestRun_ZeroFieldsGetDefaults(t *testing.T) {
	fs := mustFeatureSet(t, []Feature{
		{Sample: "A", Mz: 500.0000, RT: 5.00, Intensity: 1000},
		{Sample: "B", Mz: 500.0005, RT: 5.01, Intensity: 800},
	})

	// Only the fields without usable zero values are set; the rest must
	// be filled in rather than rejected.
	cfg := Config{MassTolerancePPM: 5, RTTolerance: 0.05, MinReplicates: 1}
	res, err := Run(fs, nil, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Baskets) != 1 {
		t.Fatalf("basket count = %d, want 1", len(res.Baskets))
	}
}

func TestRun_EndToEnd_WithoutActivity(t *testing.T) {
	fs := clusteredFixture(t)
	cfg := basketConfig()
	cfg.MinReplicates = 2

	res, err := Run(fs, nil, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Baskets) == 0 {
		t.Fatal("no baskets retained")
	}
	if res.Network == nil {
		t.Fatal("network not built")
	}
	if res.Scores != nil {
		t.Error("scores present without an activity matrix")
	}
	for _, b := range res.Baskets {
		if _, ok := res.Network.Community[b.ID]; !ok {
			t.Errorf("basket %d has no community label", b.ID)
		}
	}
}

func TestRun_EndToEnd_WithActivity(t *testing.T) {
	fs := clusteredFixture(t)
	rows := make(map[string][]float64)
	for i, s := range fs.Samples() {
		rows[s] = []float64{float64(i + 1), float64(2 * (i + 1))}
	}
	act := mustActivityMatrix(t, []string{"assay1", "assay2"}, rows)

	cfg := basketConfig()
	cfg.MinReplicates = 2
	res, err := Run(fs, act, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Scores) != len(res.Baskets) {
		t.Fatalf("score count = %d, want %d", len(res.Scores), len(res.Baskets))
	}
	for i, s := range res.Scores {
		if s.Activity < 0 {
			t.Errorf("basket %d activity = %g, want >= 0", i, s.Activity)
		}
	}
}

// TestRun_InactiveBasketExcludedFromNetwork: with bioactivity data, a
// basket whose samples have all-zero fingerprints scores zero activity
// and must not become a network node, while still being scored and
// reported in the basket table with community -1.
func TestRun_InactiveBasketExcludedFromNetwork(t *testing.T) {
	fs := mustFeatureSet(t, []Feature{
		{Sample: "A", Mz: 500.0000, RT: 5.00, Intensity: 1000},
		{Sample: "B", Mz: 500.0005, RT: 5.02, Intensity: 800},
		{Sample: "C", Mz: 600.0000, RT: 7.00, Intensity: 500},
		{Sample: "D", Mz: 600.0004, RT: 7.01, Intensity: 600},
	})
	act := mustActivityMatrix(t, []string{"assay1", "assay2"}, map[string][]float64{
		"A": {2, 3},
		"B": {2, 3},
		"C": {0, 0},
		"D": {0, 0},
	})

	cfg := basketConfig()
	cfg.MinReplicates = 2
	res, err := Run(fs, act, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Baskets) != 2 {
		t.Fatalf("basket count = %d, want 2", len(res.Baskets))
	}
	if len(res.Scores) != 2 {
		t.Fatalf("score count = %d, want 2 (every retained basket is scored)", len(res.Scores))
	}
	if res.Scores[1].Activity != 0 {
		t.Fatalf("inactive basket activity = %g, want 0", res.Scores[1].Activity)
	}

	if res.Network.Order() != 1 {
		t.Errorf("network order = %d, want 1 (inactive basket excluded)", res.Network.Order())
	}
	if _, ok := res.Network.Community[res.Baskets[0].ID]; !ok {
		t.Error("active basket has no community label")
	}
	if _, ok := res.Network.Community[res.Baskets[1].ID]; ok {
		t.Error("inactive basket received a community label")
	}

	rows := BasketTable(res)
	if rows[0].Community != 0 {
		t.Errorf("active row community = %d, want 0", rows[0].Community)
	}
	if rows[1].Community != -1 {
		t.Errorf("inactive row community = %d, want -1", rows[1].Community)
	}
	if !rows[1].Scored {
		t.Error("inactive row lost its scores")
	}
}

// Lowering both thresholds to -Inf disables the filter entirely.
func TestRun_ThresholdsNegInf_NetworkEveryBasket(t *testing.T) {
	fs := mustFeatureSet(t, []Feature{
		{Sample: "A", Mz: 500.0000, RT: 5.00, Intensity: 1000},
		{Sample: "B", Mz: 500.0005, RT: 5.02, Intensity: 800},
		{Sample: "C", Mz: 600.0000, RT: 7.00, Intensity: 500},
		{Sample: "D", Mz: 600.0004, RT: 7.01, Intensity: 600},
	})
	act := mustActivityMatrix(t, []string{"assay1"}, map[string][]float64{
		"A": {0}, "B": {0}, "C": {0}, "D": {0},
	})

	cfg := basketConfig()
	cfg.MinReplicates = 2
	cfg.ActivityThreshold = math.Inf(-1)
	cfg.ClusterThreshold = math.Inf(-1)
	res, err := Run(fs, act, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Network.Order() != len(res.Baskets) {
		t.Errorf("network order = %d, want %d", res.Network.Order(), len(res.Baskets))
	}
}

func TestRun_EmptyInput(t *testing.T) {
	fs := mustFeatureSet(t, nil)
	res, err := Run(fs, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Baskets) != 0 || res.Network != nil || res.Scores != nil {
		t.Errorf("empty input produced non-empty result: %+v", res)
	}
}

func TestRun_Deterministic(t *testing.T) {
	fs := clusteredFixture(t)
	cfg := basketConfig()
	cfg.MinReplicates = 2

	first, err := Run(fs, nil, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for trial := 0; trial < 3; trial++ {
		res, err := Run(fs, nil, cfg)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !reflect.DeepEqual(res.BasketResult, first.BasketResult) {
			t.Fatal("basket results differ across identical runs")
		}
		if !reflect.DeepEqual(res.Network.Community, first.Network.Community) {
			t.Fatal("community labels differ across identical runs")
		}
		if !reflect.DeepEqual(res.Network.Edges(), first.Network.Edges()) {
			t.Fatal("edge lists differ across identical runs")
		}
	}
}

func TestRun_DoesNotMutateConfig(t *testing.T) {
	fs := mustFeatureSet(t, []Feature{
		{Sample: "A", Mz: 500, RT: 5, Intensity: 100},
	})
	cfg := Config{MassTolerancePPM: 5, RTTolerance: 0.05, MinReplicates: 1}
	before := cfg
	if _, err := Run(fs, nil, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cfg != before {
		t.Errorf("caller config mutated: %+v", cfg)
	}
}
