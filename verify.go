package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/golang/geo/s2"

	"github.com/rtm0/ensverif/internal/config"
	"github.com/rtm0/ensverif/internal/ensemble"
	"github.com/rtm0/ensverif/internal/obs"
	"github.com/rtm0/ensverif/internal/units"
	"github.com/rtm0/ensverif/internal/verify"
	"github.com/rtm0/ensverif/internal/vm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Could not load config", "err", err)
		os.Exit(1)
	}
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid config", "err", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, cfg, logger); err != nil {
		logger.Error("Verification failed", "err", err)
		os.Exit(1)
	}
}

// run verifies the ensemble at the configured point and returns the scores,
// one per member followed by the ensemble mean.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]verify.Score, error) {
	unit, err := units.Parse(cfg.Unit)
	if err != nil {
		return nil, err
	}
	obsUnit, err := units.Parse(cfg.ObsUnit)
	if err != nil {
		return nil, err
	}
	var precipUnit units.Unit
	if cfg.PrecipUnit != "" {
		if precipUnit, err = units.Parse(cfg.PrecipUnit); err != nil {
			return nil, err
		}
	}
	files, err := expand(cfg.Members)
	if err != nil {
		return nil, err
	}

	ds, err := ensemble.Open(ctx, ensemble.Options{
		Files:       files,
		PrecipVar:   cfg.PrecipVar,
		LatVar:      cfg.LatVar,
		LonVar:      cfg.LonVar,
		TimeVar:     cfg.TimeVar,
		MemberDim:   cfg.MemberDim,
		Unit:        precipUnit,
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("could not open ensemble: %w", err)
	}
	logger.Info("Ensemble summary", ds.Summary()...)

	target := s2.LatLngFromDegrees(*cfg.Lat, *cfg.Lon)
	idx, dist, err := ds.Grid.Nearest(target)
	if err != nil {
		return nil, err
	}
	cellLat, cellLon := ds.Grid.At(idx)
	logger.Info("Nearest grid point",
		"row", idx.Row, "col", idx.Col,
		"lat", cellLat, "lon", cellLon,
		"distanceKm", dist/1000)

	members, err := ds.Point(idx)
	if err != nil {
		return nil, err
	}
	for i := range members {
		if members[i].Series, err = members[i].Series.In(unit); err != nil {
			return nil, err
		}
	}

	f, err := os.Open(cfg.ObsFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	inc, err := obs.Read(f, obs.Options{
		TimeColumn:  cfg.ObsTimeColumn,
		ValueColumn: cfg.ObsValueColumn,
		TimeLayout:  cfg.ObsTimeLayout,
		Unit:        obsUnit,
	})
	if err != nil {
		return nil, fmt.Errorf("could not read observations: %w", err)
	}
	observed, err := inc.Series(ds.ValidTimes)
	if err != nil {
		return nil, err
	}
	if observed, err = observed.In(unit); err != nil {
		return nil, err
	}

	scores, err := verify.Evaluate(members, observed)
	if err != nil {
		return nil, err
	}
	for _, s := range scores {
		logger.Info("Score", "member", s.Label, "unit", unit, "rmse", s.RMSE, "bias", s.Bias, "mae", s.MAE)
	}

	if cfg.VMInsertURL == "" {
		return scores, nil
	}
	vmCli, err := vm.NewClient(logger, cfg.VMInsertURL, cfg.Concurrency, cfg.VMMetricPrefix)
	if err != nil {
		return nil, fmt.Errorf("could not create VM client: %w", err)
	}
	recs := records(members, observed, scores)
	if err := vmCli.InsertBatched(ctx, recs, cfg.RecsPerInsert); err != nil {
		return nil, fmt.Errorf("could not export to VM: %w", err)
	}
	logger.Info("Exported", "recs", len(recs))
	return scores, nil
}

// expand resolves glob patterns. Names without glob metacharacters are kept
// as given so a missing file is reported by the reader.
func expand(patterns []string) ([]string, error) {
	var files []string
	for _, p := range patterns {
		if !strings.ContainsAny(p, "*?[") {
			files = append(files, p)
			continue
		}
		m, err := filepath.Glob(p)
		if err != nil {
			return nil, err
		}
		if len(m) == 0 {
			return nil, fmt.Errorf("no files match %q", p)
		}
		files = append(files, m...)
	}
	return files, nil
}

// records flattens the aligned series and the scores for export. Series
// values are stamped with their valid time, scores with the last valid time.
func records(members []verify.Member, observed verify.TimeSeries, scores []verify.Score) []vm.Record {
	var recs []vm.Record
	for k, t := range observed.Times {
		recs = append(recs, vm.Record{Timestamp: t.UnixMilli(), Member: "observed", Kind: "accumulated", Value: observed.Values[k]})
	}
	for i, m := range members {
		for k, t := range m.Series.Times {
			ms := t.UnixMilli()
			recs = append(recs,
				vm.Record{Timestamp: ms, Member: m.Label, Kind: "accumulated", Value: m.Series.Values[k]},
				vm.Record{Timestamp: ms, Member: m.Label, Kind: "error", Value: scores[i].Errors[k]},
			)
		}
	}
	if n := len(observed.Times); n > 0 {
		last := observed.Times[n-1].UnixMilli()
		for _, s := range scores {
			recs = append(recs,
				vm.Record{Timestamp: last, Member: s.Label, Kind: "rmse", Value: s.RMSE},
				vm.Record{Timestamp: last, Member: s.Label, Kind: "bias", Value: s.Bias},
				vm.Record{Timestamp: last, Member: s.Label, Kind: "mae", Value: s.MAE},
			)
		}
	}
	return recs
}
