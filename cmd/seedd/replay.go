package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/seedrun/seed/config"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/taskproj"
)

func replayCmd() *cobra.Command {
	var fromEventID string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild and print the task projection from the configured event store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(resolveConfigPath(), ident.EventID(fromEventID))
		},
	}
	cmd.Flags().StringVar(&fromEventID, "after-id", "", "only count events after this eventId (default: from the start)")
	return cmd
}

// runReplay opens the configured store read-only-in-spirit (it never
// Appends), prints how many events follow afterID, then rebuilds the task
// projection through NewProjector's own bootstrap pass (the saved
// checkpoint, if any, plus the events after it, folded through
// taskproj.Reduce) and prints one line per task. The events themselves are
// not printed.
func runReplay(cfgPath string, afterID ident.EventID) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("build event store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	ctx := context.Background()
	events, err := store.ReadAll(ctx, afterID)
	if err != nil {
		return fmt.Errorf("read event log: %w", err)
	}
	fmt.Printf("replayed %d event(s)\n", len(events))

	proj, err := taskproj.NewProjector(ctx, store)
	if err != nil {
		return fmt.Errorf("rebuild projection: %w", err)
	}
	defer proj.Close()

	view := proj.View()
	for id, t := range view.Tasks {
		fmt.Printf("%s\t%-12s\t%s\n", id, t.Status, t.Title)
	}
	return nil
}
