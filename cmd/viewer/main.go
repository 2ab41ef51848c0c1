package main

import (
	"flag"
	"log"
	"path/filepath"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/Garsondee/squad-formation/internal/config"
	"github.com/Garsondee/squad-formation/internal/simlog"
)

func main() {
	var scenarioPath string
	var archetypesPath string
	var verbose bool

	flag.StringVar(&scenarioPath, "scenario", "", "scenario YAML file")
	flag.StringVar(&archetypesPath, "archetypes", "", "archetype JSON file, reloaded on change")
	flag.BoolVar(&verbose, "verbose", false, "debug logging")
	flag.Parse()

	if scenarioPath == "" {
		log.Fatal("-scenario is required")
	}

	logger := simlog.Must(simlog.NewLogger(verbose))
	defer func() { _ = logger.Sync() }()

	sc, err := config.LoadScenario(scenarioPath)
	if err != nil {
		log.Fatal(err)
	}
	as := config.Archetypes{}
	var watcher *config.Watcher
	if archetypesPath != "" {
		if as, err = config.LoadArchetypes(archetypesPath); err != nil {
			log.Fatal(err)
		}
		watcher, err = config.NewWatcher(filepath.Dir(archetypesPath))
		if err != nil {
			log.Fatal(err)
		}
		defer watcher.Close()
	}

	v, err := NewViewer(sc, as, archetypesPath, watcher, logger)
	if err != nil {
		log.Fatal(err)
	}

	ebiten.SetWindowTitle("Squad Formation - " + sc.Name)
	ebiten.SetWindowSize(screenW, screenH)
	ebiten.SetTPS(tps)
	if err := ebiten.RunGame(v); err != nil {
		log.Fatal(err)
	}
}
