package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/astromechza/lru-mirror/pkg/journal"
	"github.com/astromechza/lru-mirror/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	keyVar := flag.String("key", "", "print and render the history of this key")
	svgVar := flag.Bool("svg", false, "render the history of -key to an svg in the temp dir")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the journal to read")
	}
	j, err := journal.LoadFile(flag.Arg(0))
	if err != nil {
		return err
	}
	doc := j.Doc()

	entries, err := j.Entries()
	if err != nil {
		return err
	}
	slog.Info("loaded journal", "keys", len(entries), "heads", doc.Heads())
	for k, e := range entries {
		slog.Info("entry", "key", k, "value", e.Value, "expiry", e.Expiry)
	}

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "dep", change.Dependencies())
	}

	if *keyVar == "" {
		return nil
	}

	fmt.Println(`digraph "log" {`)
	for _, change := range changes {
		label, err := viz.Label(doc, change, *keyVar)
		if err != nil {
			return err
		}
		fmt.Printf("    \"%s\" [label=%q]\n", change.Hash(), label)
		for _, hash := range change.Dependencies() {
			fmt.Printf("    \"%s\" -> \"%s\"\n", hash, change.Hash())
		}
	}
	fmt.Println("}")

	if *svgVar {
		svgPath, err := viz.RenderToTemp(doc, *keyVar)
		if err != nil {
			return fmt.Errorf("failed to render: %w", err)
		}
		slog.Info("rendered", "key", *keyVar, "path", "file://"+svgPath)
	}
	return nil
}
