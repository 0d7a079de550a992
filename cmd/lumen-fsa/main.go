// Package main provides the entry point for the Lumen finalizer safety
// checker. It loads a type-facts snapshot produced by the front end, gates
// every managed-allocation construction site in it, and prints structured
// diagnostics for each rejection.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/lumen-lang/lumen/internal/diagnostics"
	"github.com/lumen-lang/lumen/internal/fsa"
	"github.com/lumen-lang/lumen/internal/typefacts"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		factsPath   = flag.String("facts", "", "type-facts snapshot file (YAML)")
		watch       = flag.Bool("watch", false, "re-run the analysis whenever the snapshot changes")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("Lumen FSA v%s (%s)\n", version, commit)
		return
	}

	path := *factsPath
	if path == "" && flag.NArg() > 0 {
		path = flag.Arg(0)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "Error: no type-facts snapshot specified")
		fmt.Fprintln(os.Stderr, "Usage: lumen-fsa [-watch] -facts <snapshot.yaml>")
		os.Exit(2)
	}

	if *watch {
		if err := watchAndCheck(path); err != nil {
			log.Fatalf("watch failed: %v", err)
		}
		return
	}

	errorCount, err := checkSnapshot(path)
	if err != nil {
		log.Fatalf("analysis failed: %v", err)
	}
	if errorCount > 0 {
		os.Exit(1)
	}
}

// checkSnapshot loads one snapshot and checks every allocation site in it,
// printing diagnostics as it goes. It returns the number of error-level
// diagnostics.
func checkSnapshot(path string) (int, error) {
	snap, err := typefacts.LoadSnapshotFile(path)
	if err != nil {
		return 0, err
	}

	checker := fsa.NewChecker(snap.Universe)
	manager := diagnostics.NewManager()

	for _, site := range snap.Sites {
		report, err := checker.Check(site.Type, site.Span)
		if err != nil {
			return 0, fmt.Errorf("checking %s: %w", site.Type.Name, err)
		}
		for _, d := range diagnostics.FromReport(report) {
			manager.Add(d)
		}
	}

	manager.Sort()
	for _, d := range manager.Diagnostics() {
		fmt.Println(manager.Format(d))
		fmt.Println()
	}
	fmt.Println(manager.FormatSummary())
	return manager.ErrorCount(), nil
}

// watchAndCheck runs one analysis, then re-runs on every write to the
// snapshot file until interrupted.
func watchAndCheck(path string) error {
	if _, err := checkSnapshot(path); err != nil {
		log.Printf("analysis failed: %v", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return err
	}

	log.Printf("watching %s", path)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.Printf("snapshot changed, re-running analysis")
			if _, err := checkSnapshot(path); err != nil {
				log.Printf("analysis failed: %v", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch error: %v", err)
		}
	}
}
