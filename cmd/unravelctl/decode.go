package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/RowanDark/unravel/internal/cipher"
	"github.com/RowanDark/unravel/internal/extract"
	"github.com/RowanDark/unravel/internal/scorer"
	"github.com/RowanDark/unravel/internal/source"
)

// DecodeCmd applies a single transform to a span for manual review.
type DecodeCmd struct {
	Input     string `arg:"" help:"File holding the span, or - for standard input."`
	Offset    int    `required:"" help:"Start offset of the span."`
	Length    int    `required:"" help:"Length of the span in bytes."`
	Transform string `short:"t" default:"raw" help:"Transform name (see transforms)."`
	Raw       bool   `help:"Do not unwrap xz or gzip input."`
}

func (c *DecodeCmd) Run(a *app) error {
	blob, err := source.Load(c.Input, source.Options{MaxBytes: a.cfg.MaxInputBytes, Raw: c.Raw, Logger: a.logger})
	if err != nil {
		return err
	}
	text, err := extract.DecodeSpan(blob.Data, c.Offset, c.Length, c.Transform)
	if err != nil {
		return usageError{msg: err.Error()}
	}
	th := a.cfg.Analysis.Thresholds
	fmt.Fprintf(a.stdout, "%q\n", text)
	fmt.Fprintf(a.stdout, "looks_like_text=%t score=%.3f\n", scorer.LooksLikeText(text, th), scorer.NormalizedEntropy(text))
	return nil
}

// TransformsCmd lists the bank in evaluation order.
type TransformsCmd struct {
	JSON   bool   `help:"Emit JSON."`
	Family string `help:"Only list one family."`
}

func (c *TransformsCmd) Run(a *app) error {
	transforms := cipher.DefaultBank()
	if c.Family != "" {
		selected := cipher.ListTransformsByFamily(cipher.Family(c.Family))
		if len(selected) == 0 {
			return usageError{msg: fmt.Sprintf("unknown transform family %q", c.Family)}
		}
		transforms = inBankOrder(selected)
	}
	infos := make([]cipher.Info, 0, len(transforms))
	for _, tr := range transforms {
		infos = append(infos, cipher.Describe(tr))
	}
	if c.JSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	families := make(map[cipher.Family]int)
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFAMILY\tDESCRIPTION")
	for _, info := range infos {
		families[info.Family]++
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, info.Family, info.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	names := make([]string, 0, len(families))
	for f := range families {
		names = append(names, string(f))
	}
	sort.Strings(names)
	fmt.Fprintf(a.stdout, "%d transforms in %d families\n", len(infos), len(names))
	return nil
}

// inBankOrder restores evaluation order to a name-sorted registry listing.
func inBankOrder(trs []cipher.Transform) cipher.Bank {
	byName := make(map[string]cipher.Transform, len(trs))
	for _, tr := range trs {
		byName[tr.Name()] = tr
	}
	out := make(cipher.Bank, 0, len(trs))
	for _, name := range cipher.DefaultBank().Names() {
		if tr, ok := byName[name]; ok {
			out = append(out, tr)
		}
	}
	return out
}
