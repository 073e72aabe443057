// train.go - Handler fuer den train-Command
//
// Ablauf: Paare laden -> Latent-Cache bauen -> Collaborators aus der
// Registry -> Trainingsschleife starten. Alle Fehler sind fatal und werden
// unveraendert an cobra durchgereicht.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/latentflow/latentflow/checkpoint"
	"github.com/latentflow/latentflow/dataset"
	"github.com/latentflow/latentflow/envconfig"
	"github.com/latentflow/latentflow/metrics"
	"github.com/latentflow/latentflow/model"
	"github.com/latentflow/latentflow/train"
)

type trainOptions struct {
	resume         bool
	modelName      string
	learningRate   float64
	batchSize      int
	cacheBatchSize int
	imageSize      int
	patchSize      int
	gradCkpt       bool
	diffLossWeight float64
	maxLength      int
	epochs         int
	debugSteps     int
	inferenceSteps int
	saveSteps      int
	forceCache     bool
	seed           int64
	sources        []string
	statusAddr     string
}

func parseTrainOptions(cmd *cobra.Command) (*trainOptions, error) {
	opts := &trainOptions{}
	var err error

	flags := cmd.Flags()
	if opts.resume, err = flags.GetBool("resume"); err != nil {
		return nil, err
	}
	if opts.modelName, err = flags.GetString("model"); err != nil {
		return nil, err
	}
	if opts.learningRate, err = flags.GetFloat64("learning-rate"); err != nil {
		return nil, err
	}
	if opts.batchSize, err = flags.GetInt("batch-size"); err != nil {
		return nil, err
	}
	if opts.cacheBatchSize, err = flags.GetInt("cache-batch-size"); err != nil {
		return nil, err
	}
	if opts.imageSize, err = flags.GetInt("image-size"); err != nil {
		return nil, err
	}
	if opts.patchSize, err = flags.GetInt("patch-size"); err != nil {
		return nil, err
	}
	if opts.gradCkpt, err = flags.GetBool("gradient-checkpointing"); err != nil {
		return nil, err
	}
	if opts.diffLossWeight, err = flags.GetFloat64("diffusion-loss-weight"); err != nil {
		return nil, err
	}
	if opts.maxLength, err = flags.GetInt("max-length"); err != nil {
		return nil, err
	}
	if opts.epochs, err = flags.GetInt("epochs"); err != nil {
		return nil, err
	}
	if opts.debugSteps, err = flags.GetInt("debug-steps"); err != nil {
		return nil, err
	}
	if opts.inferenceSteps, err = flags.GetInt("inference-steps"); err != nil {
		return nil, err
	}
	if opts.saveSteps, err = flags.GetInt("save-steps"); err != nil {
		return nil, err
	}
	if opts.forceCache, err = flags.GetBool("cache"); err != nil {
		return nil, err
	}
	if opts.seed, err = flags.GetInt64("seed"); err != nil {
		return nil, err
	}
	if opts.sources, err = flags.GetStringSlice("source"); err != nil {
		return nil, err
	}
	if opts.statusAddr, err = flags.GetString("status-addr"); err != nil {
		return nil, err
	}

	// Latent-Grid muss sich exakt in Patches zerlegen lassen
	latentSize := opts.imageSize / 8
	if opts.patchSize <= 0 || latentSize%opts.patchSize != 0 {
		return nil, fmt.Errorf("image size %d (latent %d) is not divisible by patch size %d",
			opts.imageSize, latentSize, opts.patchSize)
	}
	if opts.maxLength < 1 {
		return nil, fmt.Errorf("max length %d must be at least 1", opts.maxLength)
	}
	if opts.batchSize < 1 || opts.cacheBatchSize < 1 {
		return nil, fmt.Errorf("batch size %d and cache batch size %d must be positive",
			opts.batchSize, opts.cacheBatchSize)
	}
	return opts, nil
}

// totalSteps returns the number of optimizer steps a full run performs:
// pairs grouped into shards of batchSize, shards grouped per step by
// cacheBatchSize, times epochs. Schedulers with a fixed horizon (cosine
// decay) need this before the first step.
func totalSteps(pairs, batchSize, cacheBatchSize, epochs int) int {
	shards := (pairs + batchSize - 1) / batchSize
	perEpoch := (shards + cacheBatchSize - 1) / cacheBatchSize
	return perEpoch * epochs
}

// printConfig zeigt die effektive Konfiguration als Tabelle
func printConfig(opts *trainOptions) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Parameter", "Value"})
	table.SetBorder(false)
	table.Append([]string{"model", opts.modelName})
	table.Append([]string{"learning rate", strconv.FormatFloat(opts.learningRate, 'g', -1, 64)})
	table.Append([]string{"gradient checkpointing", strconv.FormatBool(opts.gradCkpt)})
	table.Append([]string{"batch size", strconv.Itoa(opts.batchSize)})
	table.Append([]string{"cache batch size", strconv.Itoa(opts.cacheBatchSize)})
	table.Append([]string{"image size", strconv.Itoa(opts.imageSize)})
	table.Append([]string{"patch size", strconv.Itoa(opts.patchSize)})
	table.Append([]string{"diffusion loss weight", strconv.FormatFloat(opts.diffLossWeight, 'g', -1, 64)})
	table.Append([]string{"max length", strconv.Itoa(opts.maxLength)})
	table.Append([]string{"epochs", strconv.Itoa(opts.epochs)})
	table.Append([]string{"debug / inference / save", fmt.Sprintf("%d / %d / %d", opts.debugSteps, opts.inferenceSteps, opts.saveSteps)})
	table.Append([]string{"cache dir", envconfig.CacheDir()})
	table.Append([]string{"checkpoint", envconfig.CheckpointFile()})
	table.Render()
}

// TrainHandler fuehrt den kompletten Trainingslauf aus
func TrainHandler(cmd *cobra.Command, _ []string) error {
	opts, err := parseTrainOptions(cmd)
	if err != nil {
		return err
	}
	printConfig(opts)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Paare zuerst: der Scheduler-Horizont haengt von der Datensatzgroesse ab
	pairs, err := dataset.EnsurePairs(envconfig.PairsFile(), opts.sources)
	if err != nil {
		return err
	}

	bundle, err := model.Build(model.Options{
		Name:                  opts.modelName,
		LearningRate:          opts.learningRate,
		PatchSize:             opts.patchSize,
		ImageSize:             opts.imageSize,
		MaxTextLen:            opts.maxLength,
		DiffusionLossWeight:   opts.diffLossWeight,
		GradientCheckpointing: opts.gradCkpt,
		TotalSteps:            totalSteps(len(pairs), opts.batchSize, opts.cacheBatchSize, opts.epochs),
		Seed:                  opts.seed,
	})
	if err != nil {
		return err
	}

	cache := &dataset.LatentCache{
		Dir:        envconfig.CacheDir(),
		BatchSize:  opts.batchSize,
		ImageSize:  opts.imageSize,
		MaxTextLen: opts.maxLength,
		Workers:    int(envconfig.CacheWorkers()),
	}
	if err := cache.Build(ctx, pairs, bundle.Tokenizer, bundle.Encoder, opts.forceCache); err != nil {
		return err
	}

	cached, err := dataset.OpenCached(envconfig.CacheDir(), opts.batchSize)
	if err != nil {
		return err
	}

	collab := train.Collaborators{
		Model:       bundle.Model,
		Optimizer:   bundle.Optimizer,
		Scheduler:   bundle.Scheduler,
		Checkpoints: checkpoint.NewManager(envconfig.CheckpointFile()),
	}

	if path := envconfig.MetricsFile(); path != "" {
		recorder, err := metrics.Open(path)
		if err != nil {
			return err
		}
		defer recorder.Close()
		collab.Metrics = recorder
	}

	if opts.statusAddr != "" {
		status, err := train.NewStatusServer(opts.statusAddr)
		if err != nil {
			return err
		}
		defer status.Shutdown(context.Background())
		collab.Status = status
	}

	loop := train.New(train.Config{
		NumEpochs:      opts.epochs,
		CacheBatchSize: opts.cacheBatchSize,
		PatchSize:      opts.patchSize,
		DebugEvery:     opts.debugSteps,
		InferEvery:     opts.inferenceSteps,
		SaveEvery:      opts.saveSteps,
		Seed:           opts.seed,
	}, cached, collab)

	return loop.Run(ctx, opts.resume)
}
