package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/urbanviz/mobview/internal/loader"
	"github.com/urbanviz/mobview/internal/model"
	"github.com/urbanviz/mobview/internal/playback"
	"github.com/urbanviz/mobview/internal/session"
)

func printUsage() {
	fmt.Println(`usage: mobview <command> [flags]

commands:
  version                                  print version info
  healthcheck                              check the mobility server is reachable
  datasets                                 list datasets on the server
  stats <datasetID>                        print statistics for a dataset
  import <datasetID> <sourceType> <path> [format]
                                           trigger a server-side import
  fetch [flags]                            fetch points for a viewport or entity
  replay [flags]                           fetch, then play back the time window

fetch/replay flags:
  -min-lon, -min-lat, -max-lon, -max-lat   viewport bounds
  -start, -end                             time window (RFC3339, date, or unix seconds)
  -entity                                  entity ID (switches to trajectory mode)
  -dataset                                 dataset ID filter`)
}

func cmdHealthcheck() error {
	if err := apiClient.Healthcheck(); err != nil {
		return err
	}
	fmt.Println("server is reachable")
	return nil
}

func cmdDatasets() error {
	datasets, err := apiClient.Datasets()
	if err != nil {
		return err
	}
	if len(datasets) == 0 {
		fmt.Println("no datasets")
		return nil
	}
	fmt.Printf("%-36s  %-24s  %-12s  %-8s  %s\n", "ID", "NAME", "TYPE", "ACTIVE", "SCOPE")
	for _, ds := range datasets {
		fmt.Printf("%-36s  %-24s  %-12s  %-8t  %s\n", ds.ID, ds.Name, ds.Type, ds.IsActive, ds.Scope)
	}
	return nil
}

func cmdStats(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mobview stats <datasetID>")
	}
	stats, err := apiClient.DatasetStatistics(args[0])
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func cmdImport(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: mobview import <datasetID> <sourceType> <sourcePath> [fileFormat]")
	}
	fileFormat := ""
	if len(args) > 3 {
		fileFormat = args[3]
	}
	if err := apiClient.StartImport(args[0], args[1], args[2], fileFormat); err != nil {
		return err
	}
	fmt.Println("import started")
	return nil
}

// scopeFlags registers the viewport/window/selection flags shared by fetch
// and replay on the given flag set.
type scopeFlags struct {
	minLon, minLat *float64
	maxLon, maxLat *float64
	start, end     *string
	entity         *string
	dataset        *string
}

func registerScopeFlags(fs *flag.FlagSet) scopeFlags {
	return scopeFlags{
		minLon:  fs.Float64("min-lon", 116.20, "viewport west bound"),
		minLat:  fs.Float64("min-lat", 39.75, "viewport south bound"),
		maxLon:  fs.Float64("max-lon", 116.55, "viewport east bound"),
		maxLat:  fs.Float64("max-lat", 40.05, "viewport north bound"),
		start:   fs.String("start", "", "window start (RFC3339, date, or unix seconds)"),
		end:     fs.String("end", "", "window end (RFC3339, date, or unix seconds)"),
		entity:  fs.String("entity", "", "entity ID (trajectory mode)"),
		dataset: fs.String("dataset", viper.GetString("map.dataset"), "dataset ID filter"),
	}
}

// applyScope pushes the parsed flags into the state store. The dispatcher
// wiring in wireSubscriptions turns each change into a background refresh;
// the caller follows up with a synchronous refresh so its generation wins.
func (f scopeFlags) applyScope() {
	if *f.dataset != "" {
		viewState.SetDataset(*f.dataset)
		loadDatasetContext(*f.dataset)
	}
	if *f.start != "" || *f.end != "" {
		viewState.SetWindowRaw(*f.start, *f.end)
	}
	viewState.SetViewport(model.Viewport{
		MinLon: *f.minLon,
		MinLat: *f.minLat,
		MaxLon: *f.maxLon,
		MaxLat: *f.maxLat,
	})
	if *f.entity != "" {
		viewState.SetSelection(*f.entity)
	}
}

// loadDatasetContext resolves the dataset name and statistics for the status
// monitor. Failures only cost us display metadata, so they are logged and
// swallowed.
func loadDatasetContext(datasetID string) {
	datasets, err := apiClient.Datasets()
	if err != nil {
		Logger.Warn("Failed to list datasets", "error", err)
		return
	}
	for i := range datasets {
		if datasets[i].ID == datasetID {
			stats, err := apiClient.DatasetStatistics(datasetID)
			if err != nil {
				Logger.Warn("Failed to load dataset statistics", "dataset", datasetID, "error", err)
			}
			datasetCtx.SetDataset(&datasets[i], stats)
			return
		}
	}
	Logger.Warn("Dataset not found on server", "dataset", datasetID)
}

func currentScope() loader.Scope {
	v, sel, w, ds := viewState.Scope()
	return loader.Scope{
		Viewport:   v,
		Selection:  sel,
		Window:     w,
		Dataset:    ds,
		EntityType: viper.GetString("map.entityType"),
	}
}

func cmdFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	flags := registerScopeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := sessionBackend.StartSession(*flags.dataset, "fetch"); err != nil {
		return fmt.Errorf("failed to start recording session: %w", err)
	}
	flags.applyScope()

	gen := loaderManager.RefreshSync(currentScope())
	fmt.Printf("generation %d: %d points across %d entities\n",
		gen, pointStore.Len(), pointStore.Entities())
	fmt.Printf("markers: %d created, %d attached, %d polylines\n",
		markerManager.Handles(), markerManager.Attached(), markerManager.Lines())

	if err := sessionBackend.EndSession(); err != nil {
		return fmt.Errorf("failed to end recording session: %w", err)
	}
	if exp, ok := sessionBackend.(session.Exportable); ok {
		if path := exp.GetExportedFilePath(); path != "" {
			fmt.Println("session exported to", path)
		}
	}
	return nil
}

func cmdReplay(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	flags := registerScopeFlags(fs)
	maxRun := fs.Duration("max-run", 5*time.Minute, "stop playback after this wall-clock duration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *flags.start == "" || *flags.end == "" {
		return fmt.Errorf("replay needs both -start and -end")
	}

	if err := sessionBackend.StartSession(*flags.dataset, "replay"); err != nil {
		return fmt.Errorf("failed to start recording session: %w", err)
	}
	flags.applyScope()

	gen := loaderManager.RefreshSync(currentScope())
	fmt.Printf("generation %d: %d points across %d entities, starting playback\n",
		gen, pointStore.Len(), pointStore.Entities())

	if err := monitorService.Start(); err != nil {
		Logger.Error("Failed to start status monitor", "error", err)
	}
	if err := engine.Start(); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	deadline := time.After(*maxRun)
	poll := time.NewTicker(time.Second)
	defer poll.Stop()
	for {
		select {
		case <-deadline:
			engine.Stop()
		case <-poll.C:
		}
		snap := engine.Snapshot()
		if snap.Status != playback.Playing {
			break
		}
		fmt.Printf("cursor %s: %d/%d markers visible\n",
			snap.Cursor.UTC().Format(time.RFC3339),
			markerManager.Attached(), markerManager.Handles())
	}

	monitorService.Stop()
	fmt.Println("playback finished")

	if err := sessionBackend.EndSession(); err != nil {
		return fmt.Errorf("failed to end recording session: %w", err)
	}
	if exp, ok := sessionBackend.(session.Exportable); ok {
		if path := exp.GetExportedFilePath(); path != "" {
			fmt.Println("session exported to", path)
		}
	}
	return nil
}
