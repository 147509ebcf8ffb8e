package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/RowanDark/unravel/internal/extract"
	"github.com/RowanDark/unravel/internal/findings"
	"github.com/RowanDark/unravel/internal/logging"
	"github.com/RowanDark/unravel/internal/ranker"
	"github.com/RowanDark/unravel/internal/seer"
	"github.com/RowanDark/unravel/internal/source"
	"github.com/RowanDark/unravel/internal/store"
)

// AnalyzeCmd runs the pipeline over a local blob.
type AnalyzeCmd struct {
	Input       string   `arg:"" help:"File to analyse, or - for standard input."`
	Format      string   `short:"f" enum:"json,text" default:"json" help:"Output format (json, text)."`
	Findings    bool     `help:"Tag recovered strings with seer findings."`
	FindingsOut string   `name:"findings-out" help:"Append findings as JSON lines to this file." type:"path"`
	Emit        bool     `help:"Write ranked.jsonl, plus findings.jsonl with --findings, to the output directory."`
	Out         string   `help:"Output directory for --emit; implies it. Defaults to the configured output_dir." type:"path"`
	Save        bool     `help:"Persist the run in the history database."`
	Cache       bool     `help:"Reuse a stored result for identical input and options."`
	Workers     int      `help:"Candidate workers; 0 keeps the configured value."`
	Disable     []string `help:"Transforms to leave out of the bank." sep:","`
	Raw         bool     `help:"Do not unwrap xz or gzip input."`
}

// report is the analyze output document.
type report struct {
	RunID       string             `json:"runId,omitempty"`
	Source      string             `json:"source"`
	Digest      string             `json:"digest"`
	Size        int                `json:"size"`
	Compression source.Compression `json:"compression"`
	Cached      bool               `json:"cached,omitempty"`
	Result      *extract.Result    `json:"result"`
	Findings    []findings.Finding `json:"findings,omitempty"`
	RankedPath  string             `json:"rankedPath,omitempty"`
}

func (c *AnalyzeCmd) Run(a *app) error {
	ctx := context.Background()
	blob, err := source.Load(c.Input, source.Options{MaxBytes: a.cfg.MaxInputBytes, Raw: c.Raw, Logger: a.logger})
	if err != nil && !errors.Is(err, source.ErrEmptyInput) {
		return err
	}
	if blob == nil {
		blob = &source.Blob{Name: c.Input, Compression: source.None, Digest: source.Digest(nil)}
	}

	opts := a.cfg.AnalysisOptions()
	if c.Workers > 0 {
		opts.Workers = c.Workers
	}
	if len(c.Disable) > 0 {
		opts.DisabledTransforms = append(opts.DisabledTransforms, c.Disable...)
	}
	opts.Logger = a.logger

	var db *store.Store
	if c.Save || c.Cache {
		if db, err = store.Open(ctx, a.dbPath); err != nil {
			return err
		}
		defer db.Close()
	}

	rep := report{
		Source:      blob.Name,
		Digest:      blob.Digest,
		Size:        len(blob.Data),
		Compression: blob.Compression,
	}
	optionsKey := store.OptionsKey(opts)
	if c.Cache {
		if run, err := db.Lookup(ctx, blob.Digest, optionsKey); err == nil {
			rep.RunID, rep.Result, rep.Cached = run.ID, run.Result, true
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	if rep.Result == nil {
		a.audit.Record(logging.EventAnalysisStart, "", map[string]any{"source": blob.Name, "bytes": len(blob.Data)})
		res, err := extract.Analyze(ctx, blob.Data, opts)
		if err != nil {
			_ = a.audit.Emit(logging.AuditEvent{EventType: logging.EventAnalysisFailed, Decision: logging.DecisionDeny, Reason: err.Error()})
			return err
		}
		rep.Result = res
		a.audit.Record(logging.EventAnalysisComplete, "", map[string]any{"source": blob.Name, "final": len(res.Final)})

		if c.Save {
			run := &store.Run{
				Source:     blob.Name,
				Digest:     blob.Digest,
				Size:       int64(len(blob.Data)),
				OptionsKey: optionsKey,
				Result:     res,
			}
			if err := db.Save(ctx, run); err != nil {
				return err
			}
			rep.RunID = run.ID
			a.audit.Record(logging.EventStoreWrite, run.ID, map[string]any{"digest": run.Digest})
		}
	}

	outDir := strings.TrimSpace(c.Out)
	if outDir == "" && c.Emit {
		outDir = a.cfg.OutputDir
	}
	findingsOut := c.FindingsOut
	if outDir != "" {
		rep.RankedPath = filepath.Join(outDir, ranker.Filename)
		if err := ranker.WriteJSONL(rep.RankedPath, rep.Result.Final); err != nil {
			return err
		}
		if c.Findings && findingsOut == "" {
			findingsOut = filepath.Join(outDir, findings.Filename)
		}
	}

	if c.Findings || findingsOut != "" {
		rep.Findings = seer.Scan(blob.Name, rep.Result, a.cfg.Seer)
		for _, f := range rep.Findings {
			a.audit.Record(logging.EventFindingEmitted, rep.RunID, map[string]any{"type": f.Type, "offset": f.Offset})
		}
		if findingsOut != "" {
			w := findings.NewWriter(findingsOut)
			if err := w.WriteAll(rep.Findings); err != nil {
				_ = w.Close()
				return fmt.Errorf("write findings: %w", err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("close findings: %w", err)
			}
		}
	}

	if c.Format == "text" {
		return writeText(a.stdout, rep)
	}
	return writeJSON(a.stdout, rep)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func writeText(w io.Writer, rep report) error {
	res := rep.Result
	fmt.Fprintf(w, "%s: %d bytes (%s), %d candidates, %d raw hits, %d unique\n",
		rep.Source, rep.Size, rep.Compression, len(res.Candidates), res.RawCount, res.UniqueCount)
	if rep.RunID != "" {
		fmt.Fprintf(w, "run %s", rep.RunID)
		if rep.Cached {
			fmt.Fprint(w, " (cached)")
		}
		fmt.Fprintln(w)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFSET\tLEN\tTRANSFORM\tSCORE\tTEXT")
	for _, h := range res.Final {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%.3f\t%q\n", h.Start, h.Len, h.Transform, h.Score, h.Text)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(rep.Findings) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEVERITY\tTYPE\tOFFSET\tTRANSFORM\tEVIDENCE")
		for _, f := range rep.Findings {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", f.Severity, f.Type, f.Offset, f.Transform, f.Evidence)
		}
		return tw.Flush()
	}
	return nil
}
