package main

import (
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/scenic-viber/viber/config"
	"github.com/scenic-viber/viber/inference/providers"
	"github.com/scenic-viber/viber/logging"
	"github.com/scenic-viber/viber/models/postprocess"
	"github.com/scenic-viber/viber/viber"
)

const (
	// Global flags.
	flagConfig    = "config"
	flagBackbone  = "backbone"
	flagModel     = "model"
	flagModelDir  = "model-dir"
	flagTask      = "task"
	flagProvider  = "provider"
	flagLibrary   = "library"
	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"

	// Command flags.
	flagJSON         = "json"
	flagOverlayDir   = "overlay-dir"
	flagDB           = "db"
	flagLat          = "lat"
	flagLon          = "lon"
	flagToken        = "token"
	flagMapillaryURL = "mapillary-url"
	flagLimit        = "limit"
	flagIterations   = "iterations"
	flagWarmup       = "warmup"
)

// runner holds what the commands share once the global flags are parsed.
type runner struct {
	cfg    *config.Config
	logger *zap.Logger
	// extra options are appended to every model, tests inject an engine here.
	extra []viber.Option
}

func newApp(extra ...viber.Option) *cli.App {
	r := &runner{extra: extra, logger: zap.NewNop()}

	return &cli.App{
		Name:  "viber",
		Usage: "segment street imagery and score how pleasant it is to ride through",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagBackbone,
				Usage: "swin-tiny, swin-small, swin-base or swin-large",
			},
			&cli.StringFlag{
				Name:  flagModel,
				Usage: "ONNX model `FILE`",
			},
			&cli.StringFlag{
				Name:  flagModelDir,
				Usage: "`DIR` holding the default ONNX file of each backbone",
			},
			&cli.StringFlag{
				Name:  flagTask,
				Usage: "semantic, instance or panoptic",
			},
			&cli.StringFlag{
				Name:  flagProvider,
				Usage: "execution provider: cpu, cuda or coreml",
			},
			&cli.StringFlag{
				Name:    flagLibrary,
				Usage:   "onnxruntime shared library `FILE`",
				EnvVars: []string{providers.LibraryPathEnv},
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  flagLogFormat,
				Usage: "console or json",
			},
		},
		Before: r.before,
		After: func(*cli.Context) error {
			_ = r.logger.Sync()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "predict",
				Usage:     "segment one image and print what it contains",
				ArgsUsage: "<image>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagJSON, Usage: "print the result as JSON"},
				},
				Action: r.predictAction,
			},
			{
				Name:      "score",
				Usage:     "compute the scenic score of an image or of every image in a folder",
				ArgsUsage: "<image|dir>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagOverlayDir, Usage: "write colour overlays to `DIR`"},
					&cli.StringFlag{Name: flagDB, Usage: "save the scores to the sqlite `FILE`"},
					&cli.BoolFlag{Name: flagJSON, Usage: "print the reports as JSON"},
				},
				Action: r.scoreAction,
			},
			{
				Name:  "fetch",
				Usage: "score the street imagery closest to a coordinate",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: flagLat, Usage: "latitude", Required: true},
					&cli.Float64Flag{Name: flagLon, Usage: "longitude", Required: true},
					&cli.StringFlag{Name: flagToken, Usage: "Mapillary access token", EnvVars: []string{config.TokenEnv}},
					&cli.StringFlag{Name: flagMapillaryURL, Usage: "base URL of the Mapillary Graph API", Hidden: true},
					&cli.StringFlag{Name: flagOverlayDir, Usage: "write the colour overlay to `DIR`"},
					&cli.StringFlag{Name: flagDB, Usage: "save the score to the sqlite `FILE`"},
					&cli.BoolFlag{Name: flagJSON, Usage: "print the report as JSON"},
				},
				Action: r.fetchAction,
			},
			{
				Name:  "history",
				Usage: "list saved scores, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagDB, Usage: "sqlite `FILE`"},
					&cli.IntFlag{Name: flagLimit, Value: 20, Usage: "number of records, 0 for all"},
					&cli.BoolFlag{Name: flagJSON, Usage: "print the records as JSON"},
				},
				Action: r.historyAction,
			},
			{
				Name:      "bench",
				Usage:     "time sequential predictions over the images of a folder",
				ArgsUsage: "<image|dir>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: flagIterations, Usage: "timed predictions, defaults to one per image"},
					&cli.IntFlag{Name: flagWarmup, Value: 1, Usage: "untimed predictions run first"},
					&cli.BoolFlag{Name: flagJSON, Usage: "print the metrics as JSON"},
				},
				Action: r.benchAction,
			},
		},
	}
}

// before loads the configuration and applies the global flag overrides.
func (r *runner) before(c *cli.Context) error {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return err
	}

	if c.IsSet(flagBackbone) {
		cfg.Model.Backbone = c.String(flagBackbone)
	}
	if c.IsSet(flagModel) {
		cfg.Model.Path = c.String(flagModel)
	}
	if c.IsSet(flagModelDir) {
		cfg.Model.Dir = c.String(flagModelDir)
	}
	if c.IsSet(flagTask) {
		cfg.Model.Task = c.String(flagTask)
	}
	if c.IsSet(flagProvider) {
		backend, err := providers.ParseBackend(c.String(flagProvider))
		if err != nil {
			return err
		}
		cfg.Provider.Backend = backend
	}
	if c.IsSet(flagLibrary) {
		cfg.Provider.LibraryPath = c.String(flagLibrary)
	}
	if c.IsSet(flagLogLevel) {
		cfg.Log.Level = c.String(flagLogLevel)
	}
	if c.IsSet(flagLogFormat) {
		cfg.Log.Format = c.String(flagLogFormat)
	}

	r.cfg = cfg
	r.logger = logging.New(cfg.Log)
	return nil
}

// newModel builds the model wrapper from the configuration. An empty task
// uses the configured one.
func (r *runner) newModel(task postprocess.Task) (*viber.Model, error) {
	if task == "" {
		task = postprocess.Task(r.cfg.Model.Task)
	}

	opts := []viber.Option{
		viber.WithModelPath(r.cfg.Model.Path),
		viber.WithModelDir(r.cfg.Model.Dir),
		viber.WithTask(task),
		viber.WithInputSize(r.cfg.Model.InputSize),
		viber.WithThresholds(r.cfg.Model.Thresholds),
		viber.WithProvider(r.cfg.Provider),
		viber.WithLogger(r.logger),
	}
	return viber.New(r.cfg.Model.Backbone, append(opts, r.extra...)...)
}
