// MODUL: train_test
// ZWECK: Tests fuer Options-Parsing und Schritt-Horizont des train-Commands
// INPUT: CLI-Flags
// OUTPUT: Testresultate
// NEBENEFFEKTE: keine

package cmd

import (
	"testing"

	"github.com/spf13/cobra"
)

func trainCommand(t *testing.T) *cobra.Command {
	t.Helper()
	for _, c := range NewCLI().Commands() {
		if c.Name() == "train" {
			return c
		}
	}
	t.Fatal("train command not registered")
	return nil
}

func TestTotalSteps(t *testing.T) {
	cases := []struct {
		pairs, batchSize, cacheBatchSize, epochs int
		want                                     int
	}{
		// 5 Paare, bs 2 -> 3 Shards; cb 2 -> 2 Schritte/Epoche
		{5, 2, 2, 3, 6},
		// Exakte Teilung
		{8, 4, 1, 10, 20},
		// Partieller letzter Shard und partielle letzte Gruppe
		{7, 2, 3, 1, 2},
		{0, 2, 2, 5, 0},
	}

	for _, tc := range cases {
		if got := totalSteps(tc.pairs, tc.batchSize, tc.cacheBatchSize, tc.epochs); got != tc.want {
			t.Errorf("totalSteps(%d, %d, %d, %d) = %d, want %d",
				tc.pairs, tc.batchSize, tc.cacheBatchSize, tc.epochs, got, tc.want)
		}
	}
}

func TestParseTrainOptionsDefaults(t *testing.T) {
	cmd := trainCommand(t)
	opts, err := parseTrainOptions(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if opts.modelName != "transfusion" || opts.maxLength != 128 {
		t.Errorf("unexpected defaults: %+v", opts)
	}
}

func TestParseTrainOptionsRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name  string
		flag  string
		value string
	}{
		{"indivisible patch size", "patch-size", "5"},
		{"zero max length", "max-length", "0"},
		{"negative max length", "max-length", "-3"},
		{"zero batch size", "batch-size", "0"},
		{"zero cache batch size", "cache-batch-size", "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := trainCommand(t)
			if err := cmd.Flags().Set(tc.flag, tc.value); err != nil {
				t.Fatal(err)
			}
			if _, err := parseTrainOptions(cmd); err == nil {
				t.Errorf("expected error for %s=%s", tc.flag, tc.value)
			}
		})
	}
}
