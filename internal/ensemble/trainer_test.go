package ensemble

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"stackcast/internal/features"
	"stackcast/internal/synthetic"
)

func trainTestModel(t *testing.T, obs []features.Observation, params Params) *Model {
	t.Helper()
	model, err := train(context.Background(), obs, params, zerolog.Nop())
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	return model
}

func TestTrainReportAccounting(t *testing.T) {
	obs := synthetic.Series(300, 42)
	model := trainTestModel(t, obs, DefaultParams())
	report := model.Report()

	if report.Samples != 300 {
		t.Errorf("samples = %d, want 300", report.Samples)
	}
	rows := report.TrainRows + report.TestRows
	if report.TrainRows <= report.TestRows || rows >= 300 {
		t.Errorf("suspicious split: train=%d test=%d", report.TrainRows, report.TestRows)
	}
	if report.Columns != model.Schema().Len() {
		t.Errorf("columns = %d, want %d", report.Columns, model.Schema().Len())
	}

	total := 0
	for _, c := range report.ClassCounts {
		total += c
	}
	if total != rows {
		t.Errorf("class counts sum to %d, want %d", total, rows)
	}
	if len(report.LearnerAccuracy) != 3 {
		t.Errorf("expected accuracy for 3 learners, got %v", report.LearnerAccuracy)
	}
	if report.CombinedAccuracy < 0 || report.CombinedAccuracy > 1 {
		t.Errorf("combined accuracy out of range: %f", report.CombinedAccuracy)
	}
	if report.TrainedAt.IsZero() || report.Elapsed <= 0 {
		t.Error("timing fields not populated")
	}
}

func TestTrainScalerSeesOnlyLeadingSplit(t *testing.T) {
	obs := synthetic.Series(300, 42)
	params := DefaultParams()
	model := trainTestModel(t, obs, params)

	pipeline, err := features.NewPipeline(params.Features)
	if err != nil {
		t.Fatal(err)
	}
	matrix, err := pipeline.BuildMatrix(obs)
	if err != nil {
		t.Fatal(err)
	}
	want := FitScaler(matrix.Rows[:model.Report().TrainRows])

	for j := range want.Means {
		if model.scaler.Means[j] != want.Means[j] {
			t.Fatalf("column %d mean fitted on wrong split: %f vs %f",
				j, model.scaler.Means[j], want.Means[j])
		}
	}
}

func TestTrainLearnerOrderStable(t *testing.T) {
	model := trainTestModel(t, synthetic.Series(300, 42), DefaultParams())

	want := []string{"boosted_trees", "feed_forward", "sequence"}
	statuses := model.Learners()
	if len(statuses) != len(want) {
		t.Fatalf("learners = %v", statuses)
	}
	for i, name := range want {
		if statuses[i].Name != name {
			t.Errorf("slot %d = %q, want %q", i, statuses[i].Name, name)
		}
		if statuses[i].Status != LearnerActive {
			t.Errorf("slot %q status = %q, want active", name, statuses[i].Status)
		}
	}
	for i, name := range model.meta.LearnerOrder {
		if name != want[i] {
			t.Errorf("meta order %d = %q, want %q", i, name, want[i])
		}
	}
}

func TestTrainDegradesFailedLearner(t *testing.T) {
	params := DefaultParams()
	params.Net.BatchSize = 100000 // impossible minimum, forces a fit failure

	model := trainTestModel(t, synthetic.Series(300, 42), params)
	report := model.Report()

	if len(report.Degraded) != 1 || report.Degraded[0].Name != "feed_forward" {
		t.Fatalf("degraded = %+v, want feed_forward", report.Degraded)
	}

	statuses := model.Learners()
	if statuses[1].Status != LearnerDegraded || statuses[1].Reason == "" {
		t.Errorf("slot status = %+v, want degraded with reason", statuses[1])
	}

	// degraded slot contributes a flat distribution but predictions still work
	p, err := model.Predict(map[string]float64{"price": 150}, nil)
	if err != nil {
		t.Fatalf("predict after degradation: %v", err)
	}
	ff := p.Probabilities["feed_forward"]
	for _, v := range ff {
		if v != 1.0/features.NumLabels {
			t.Fatalf("degraded learner output %v, want uniform", ff)
		}
	}
	if !validProbs(p.Probabilities["combined"]) {
		t.Errorf("combined distribution invalid: %v", p.Probabilities["combined"])
	}
}

func TestTrainSequenceSkipReasons(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		params := DefaultParams()
		params.Sequence.Enabled = false

		model := trainTestModel(t, synthetic.Series(300, 42), params)
		if model.Report().SequenceSkipped != "disabled in configuration" {
			t.Errorf("skip reason = %q", model.Report().SequenceSkipped)
		}
		if len(model.Learners()) != 2 {
			t.Errorf("learners = %v, want 2 slots", model.Learners())
		}
		if len(model.meta.LearnerOrder) != 2 {
			t.Errorf("meta order = %v", model.meta.LearnerOrder)
		}
	})

	t.Run("shallow history", func(t *testing.T) {
		// 150 observations leave ~104 training rows, under the 120 minimum
		model := trainTestModel(t, synthetic.Series(150, 42), DefaultParams())
		if model.Report().SequenceSkipped == "" {
			t.Fatal("expected sequence skip on shallow history")
		}
		if len(model.Learners()) != 2 {
			t.Errorf("learners = %v, want 2 slots", model.Learners())
		}
	})
}

func TestTrainInsufficientData(t *testing.T) {
	_, err := train(context.Background(), synthetic.Series(30, 1), DefaultParams(), zerolog.Nop())

	var insufficient *features.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
	if insufficient.Have != 30 {
		t.Errorf("have = %d, want 30", insufficient.Have)
	}
}

func TestTrainHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := train(ctx, synthetic.Series(300, 42), DefaultParams(), zerolog.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
