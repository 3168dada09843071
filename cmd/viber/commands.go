package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/scenic-viber/viber/benchmark"
	"github.com/scenic-viber/viber/images"
	"github.com/scenic-viber/viber/mapillary"
	"github.com/scenic-viber/viber/models"
	"github.com/scenic-viber/viber/models/postprocess"
	"github.com/scenic-viber/viber/render"
	"github.com/scenic-viber/viber/scenic"
	"github.com/scenic-viber/viber/store"
	"github.com/scenic-viber/viber/viber"
)

// scoreEntry is one line of a score run.
type scoreEntry struct {
	Source string         `json:"source"`
	Report *scenic.Report `json:"report"`
	Error  string         `json:"error,omitempty"`
}

func printf(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, format+"\n", a...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.Errorf("%s expects exactly one argument: %s", c.Command.Name, c.Command.ArgsUsage)
	}
	return c.Args().First(), nil
}

func (r *runner) predictAction(c *cli.Context) error {
	path, err := firstArg(c)
	if err != nil {
		return err
	}

	m, err := r.newModel("")
	if err != nil {
		return err
	}
	defer m.Close()

	result, err := m.Predict(c.Context, path)
	if err != nil {
		return err
	}

	w := c.App.Writer
	if result.Task == postprocess.TaskSemantic {
		breakdown := result.Breakdown(0)
		if c.Bool(flagJSON) {
			return printJSON(w, struct {
				*postprocess.Result
				Breakdown []postprocess.ClassCoverage `json:"breakdown"`
			}{result, breakdown})
		}
		printf(w, "%s %dx%d %s", path, result.Width, result.Height, result.Task)
		for _, cov := range breakdown {
			printf(w, "  %-32s %6.2f%%", cov.Label, cov.Ratio*100)
		}
		return nil
	}

	if c.Bool(flagJSON) {
		return printJSON(w, result)
	}
	printf(w, "%s %dx%d %s, %d segments", path, result.Width, result.Height, result.Task, len(result.Segments))
	for _, s := range result.Segments {
		printf(w, "  %3d %-32s score=%.3f area=%d", s.ID, s.Label, s.Score, s.Area)
	}
	return nil
}

// scoreImage segments img and scores it. Failures are returned next to an
// error report so batch runs can carry on.
func scoreImage(ctx context.Context, m *viber.Model, scorer *scenic.Scorer, img image.Image) (*scenic.Report, *postprocess.Result, error) {
	result, err := m.PredictImage(ctx, img)
	if err != nil {
		return scenic.ErrorReport(), nil, err
	}
	report, err := scorer.Score(result)
	if err != nil {
		return scenic.ErrorReport(), nil, err
	}
	return report, result, nil
}

func decodeFile(path string) (image.Image, error) {
	file, err := images.Load(path)
	if err != nil {
		return nil, err
	}
	return file.Decode()
}

func (r *runner) openStore(c *cli.Context) (*store.Store, error) {
	path := r.cfg.Store.Path
	if c.IsSet(flagDB) {
		path = c.String(flagDB)
	}
	if path == "" {
		return nil, nil
	}
	return store.Open(path)
}

func (r *runner) overlayDir(c *cli.Context) string {
	if c.IsSet(flagOverlayDir) {
		return c.String(flagOverlayDir)
	}
	return r.cfg.Render.OverlayDir
}

// finish persists and renders a scored image.
func (r *runner) finish(ctx context.Context, db *store.Store, dir string, rec *store.Record, img image.Image, result *postprocess.Result, report *scenic.Report) error {
	if db != nil {
		if err := db.Save(ctx, rec); err != nil {
			return err
		}
	}
	if dir != "" && result != nil {
		out := render.OverlayPath(dir, rec.Source)
		caption := fmt.Sprintf("%s %.2f", report.Status, report.Score)
		if err := render.NewRenderer(r.cfg.Render.Alpha).Save(out, img, result, caption); err != nil {
			return err
		}
		r.logger.Debug("overlay written", zap.String("path", out))
	}
	return nil
}

func (r *runner) scoreAction(c *cli.Context) error {
	arg, err := firstArg(c)
	if err != nil {
		return err
	}
	paths, err := images.Expand(arg)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.Errorf("no images in %s", arg)
	}

	// The score is defined on the per-pixel class map.
	m, err := r.newModel(postprocess.TaskSemantic)
	if err != nil {
		return err
	}
	defer m.Close()

	db, err := r.openStore(c)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	dir := r.overlayDir(c)
	scorer := scenic.NewScorer(models.MapillaryVistas)

	w := c.App.Writer
	entries := make([]scoreEntry, 0, len(paths))
	failed, best := 0, -1
	for _, path := range paths {
		if err := c.Context.Err(); err != nil {
			return err
		}

		entry := scoreEntry{Source: path}
		var result *postprocess.Result
		img, err := decodeFile(path)
		if err == nil {
			entry.Report, result, err = scoreImage(c.Context, m, scorer, img)
		} else {
			entry.Report = scenic.ErrorReport()
		}
		if err != nil {
			if c.Context.Err() != nil {
				return c.Context.Err()
			}
			failed++
			entry.Error = err.Error()
			r.logger.Warn("image not scored", zap.String("path", path), zap.Error(err))
		}

		rec := store.NewRecord(path, string(m.Backbone()), string(m.Task()), entry.Report)
		rec.Error = entry.Error
		if err := r.finish(c.Context, db, dir, rec, img, result, entry.Report); err != nil {
			return err
		}

		if entry.Error == "" && (best < 0 || entry.Report.Score > entries[best].Report.Score) {
			best = len(entries)
		}
		entries = append(entries, entry)
		if !c.Bool(flagJSON) {
			printf(w, "%-40s %-24s %.2f", filepath.Base(path), entry.Report.Status, entry.Report.Score)
		}
	}

	if c.Bool(flagJSON) {
		return printJSON(w, entries)
	}
	printf(w, "scored %d images, %d errors", len(entries)-failed, failed)
	if best >= 0 {
		printf(w, "best: %s %.2f", filepath.Base(entries[best].Source), entries[best].Report.Score)
	}
	return nil
}

func (r *runner) fetchAction(c *cli.Context) error {
	lat, lon := c.Float64(flagLat), c.Float64(flagLon)

	token := r.cfg.Mapillary.Token
	if c.IsSet(flagToken) {
		token = c.String(flagToken)
	}
	baseURL := r.cfg.Mapillary.BaseURL
	if c.IsSet(flagMapillaryURL) {
		baseURL = c.String(flagMapillaryURL)
	}
	client := mapillary.NewClient(token,
		mapillary.WithBaseURL(baseURL),
		mapillary.WithRadius(r.cfg.Mapillary.Radius),
		mapillary.WithTimeout(r.cfg.Mapillary.Timeout),
		mapillary.WithLogger(r.logger),
	)

	w := c.App.Writer
	ref, err := client.ImageNear(c.Context, lat, lon)
	if errors.Is(err, mapillary.ErrNoImagery) {
		if c.Bool(flagJSON) {
			return printJSON(w, scoreEntry{
				Source: mapillary.BBox(lat, lon, r.cfg.Mapillary.Radius),
				Report: &scenic.Report{Score: scenic.NeutralScore, Status: scenic.StatusNoData},
			})
		}
		printf(w, "No street view data for %v, %v", lat, lon)
		return nil
	}
	if err != nil {
		return err
	}
	r.logger.Info("found image", zap.String("id", ref.ID), zap.Float64("lat", lat), zap.Float64("lon", lon))

	img, err := client.Download(c.Context, ref.ThumbURL)
	if err != nil {
		return err
	}

	m, err := r.newModel(postprocess.TaskSemantic)
	if err != nil {
		return err
	}
	defer m.Close()

	report, result, err := scoreImage(c.Context, m, scenic.NewScorer(models.MapillaryVistas), img)
	if err != nil {
		return err
	}

	db, err := r.openStore(c)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	source := "mapillary_" + ref.ID
	rec := store.NewRecord(source, string(m.Backbone()), string(m.Task()), report).WithLocation(lat, lon)
	if err := r.finish(c.Context, db, r.overlayDir(c), rec, img, result, report); err != nil {
		return err
	}

	if c.Bool(flagJSON) {
		return printJSON(w, scoreEntry{Source: source, Report: report})
	}
	printf(w, "%s at %v, %v: %s %.2f", source, lat, lon, report.Status, report.Score)
	for _, cov := range report.Breakdown {
		printf(w, "  %-32s %6.2f%%", cov.Label, cov.Ratio*100)
	}
	return nil
}

func (r *runner) historyAction(c *cli.Context) error {
	db, err := r.openStore(c)
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("history needs a database, set --db or store.path")
	}
	defer db.Close()

	records, err := db.List(c.Context, c.Int(flagLimit))
	if err != nil {
		return err
	}

	w := c.App.Writer
	if c.Bool(flagJSON) {
		return printJSON(w, records)
	}
	for _, rec := range records {
		printf(w, "%s  %-40s %-24s %.2f", rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Source, rec.Status, rec.Score)
	}
	return nil
}

func (r *runner) benchAction(c *cli.Context) error {
	arg, err := firstArg(c)
	if err != nil {
		return err
	}
	paths, err := images.Expand(arg)
	if err != nil {
		return err
	}

	imgs := make([]image.Image, 0, len(paths))
	for _, path := range paths {
		img, err := decodeFile(path)
		if err != nil {
			return errors.Wrapf(err, "failed to decode %s", path)
		}
		imgs = append(imgs, img)
	}

	m, err := r.newModel("")
	if err != nil {
		return err
	}
	defer m.Close()

	metrics, err := benchmark.Run(c.Context, m, imgs, benchmark.Scenario{
		Name:       filepath.Base(arg),
		Backbone:   string(m.Backbone()),
		Task:       string(m.Task()),
		Iterations: c.Int(flagIterations),
		WarmupRuns: c.Int(flagWarmup),
	})
	if err != nil {
		return err
	}

	w := c.App.Writer
	if c.Bool(flagJSON) {
		return metrics.WriteJSON(w)
	}
	printf(w, "%s %s %s: %d predictions over %d images",
		metrics.Scenario.Name, metrics.Scenario.Backbone, metrics.Scenario.Task,
		metrics.Scenario.Iterations, metrics.Images)
	printf(w, "  avg %v  min %v  max %v  %.2f fps", metrics.AverageDuration, metrics.MinDuration, metrics.MaxDuration, metrics.FramesPerSecond)
	printf(w, "  errors %d (%.1f%%)  alloc %.1f MB", metrics.Errors, metrics.ErrorRate*100, float64(metrics.MemoryStats.TotalAllocBytes)/(1024*1024))
	if s := metrics.Session; s != nil {
		printf(w, "  session %d runs  avg %v  total %v", s.InferenceCount, s.AverageTime, s.TotalTime)
	}
	return nil
}
