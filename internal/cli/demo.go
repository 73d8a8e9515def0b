package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/retcon/internal/engine"
	"github.com/roach88/retcon/internal/patch"
	"github.com/roach88/retcon/internal/remote"
	"github.com/roach88/retcon/internal/store"
)

// NewDemoCommand creates the "demo" subcommand: a scripted task-board
// session against the sqlite task service, with injected failures to
// show rollback rewriting the board.
func NewDemoCommand(opts *RootOptions) *cobra.Command {
	var dbPath string
	var failPuts int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the task-board demo against the sqlite task service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, opts, dbPath, failPuts)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "retcon-demo.db", "task database path (\":memory:\" for throwaway)")
	cmd.Flags().IntVar(&failPuts, "fail-puts", 1, "reject this many task writes to trigger rollback")
	return cmd
}

func runDemo(cmd *cobra.Command, opts *RootOptions, dbPath string, failPuts int) error {
	out := cmd.OutOrStdout()

	db, err := remote.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	board := store.NewMemory(map[string]any{"tasks": map[string]any{}})

	eng := engine.New(
		engine.WithOnQueueChange(func(snaps []engine.Snapshot) {
			if opts.Verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "queue: %s\n", formatQueue(snaps))
			}
		}),
		engine.WithOnMutationSuccess(func(snap engine.Snapshot) {
			fmt.Fprintf(out, "ok    %s\n", snap.Label)
		}),
		engine.WithOnMutationError(func(snap engine.Snapshot, err error) {
			fmt.Fprintf(out, "undo  %s: %v\n", snap.Label, err)
		}),
	)

	addTask := func(label, id, title string) error {
		tx := eng.CreateTransaction(label, engine.WithDefaultStore(board))
		err := tx.Set(func(d *patch.Draft) {
			d.Map("tasks").Set(id, map[string]any{"title": title, "status": "todo"})
		})
		if err != nil {
			return err
		}
		tx.Remote(db.PutRemote(remote.Task{ID: id, Title: title, Status: "todo"}))
		return tx.Commit()
	}

	if err := addTask("add-groceries", "t1", "Buy groceries"); err != nil {
		return err
	}
	if err := addTask("add-laundry", "t2", "Do laundry"); err != nil {
		return err
	}

	// Let the first two writes land before arming the failure, so the
	// injected rejections hit only the writes that follow.
	if err := waitSettled(eng, 5*time.Second); err != nil {
		return err
	}

	// Trip the wire: the next writes reject and the board rolls back.
	if failPuts > 0 {
		db.FailNext(failPuts, errors.New("task service unavailable"))
	}
	if err := addTask("add-doomed", "t3", "This one will not stick"); err != nil {
		return err
	}

	if err := waitSettled(eng, 5*time.Second); err != nil {
		return err
	}

	boardJSON, err := json.Marshal(board.Read())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "board: %s\n", boardJSON)

	tasks, err := db.ListTasks(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "server tasks:")
	for _, task := range tasks {
		fmt.Fprintf(out, "  %-4s %-30s %s\n", task.ID, task.Title, task.Status)
	}
	return nil
}

// waitSettled polls until no mutation is live.
func waitSettled(eng *engine.Engine, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !eng.Queue().HasPending() {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("engine did not settle within %s", timeout)
}

// formatQueue renders one snapshot batch as a compact line.
func formatQueue(snaps []engine.Snapshot) string {
	if len(snaps) == 0 {
		return "(empty)"
	}
	parts := make([]string, len(snaps))
	for i, s := range snaps {
		parts[i] = fmt.Sprintf("%s=%s", s.Label, s.Status)
	}
	return strings.Join(parts, " | ")
}
