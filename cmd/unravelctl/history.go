package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/RowanDark/unravel/internal/store"
)

// HistoryGroup inspects the run database.
type HistoryGroup struct {
	List HistoryListCmd `cmd:"" help:"List recent runs."`
	Show HistoryShowCmd `cmd:"" help:"Print a stored run."`
}

// HistoryListCmd lists runs newest first.
type HistoryListCmd struct {
	Limit int  `short:"n" default:"20" help:"Maximum runs to list; 0 lists all."`
	JSON  bool `help:"Emit JSON."`
}

func (c *HistoryListCmd) Run(a *app) error {
	db, err := store.Open(context.Background(), a.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.List(context.Background(), c.Limit)
	if err != nil {
		return err
	}
	if c.JSON {
		if runs == nil {
			runs = []store.Summary{}
		}
		return writeJSON(a.stdout, runs)
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSIZE\tFINAL\tSOURCE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.ID, r.CreatedAt.Format("2006-01-02T15:04:05Z"), r.Size, r.FinalCount, r.Source)
	}
	return tw.Flush()
}

// HistoryShowCmd prints one stored run.
type HistoryShowCmd struct {
	ID     string `arg:"" help:"Run ID."`
	Format string `short:"f" enum:"json,text" default:"json" help:"Output format (json, text)."`
}

func (c *HistoryShowCmd) Run(a *app) error {
	db, err := store.Open(context.Background(), a.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := db.Get(context.Background(), c.ID)
	if errors.Is(err, store.ErrNotFound) {
		return usageError{msg: fmt.Sprintf("no run with id %s", c.ID)}
	}
	if err != nil {
		return err
	}
	if c.Format == "text" {
		return writeText(a.stdout, report{
			RunID:       run.ID,
			Source:      run.Source,
			Digest:      run.Digest,
			Size:        int(run.Size),
			Compression: "stored",
			Cached:      true,
			Result:      run.Result,
		})
	}
	return writeJSON(a.stdout, run)
}
