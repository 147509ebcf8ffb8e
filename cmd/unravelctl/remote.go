package main

import (
	"context"
	"time"

	"github.com/RowanDark/unravel/internal/seer"
	"github.com/RowanDark/unravel/internal/service"
	"github.com/RowanDark/unravel/internal/source"
)

// RemoteCmd sends a blob to unraveld.
type RemoteCmd struct {
	Input    string        `arg:"" help:"File to analyse, or - for standard input."`
	Addr     string        `help:"Daemon address; defaults to the configured server_addr."`
	Token    string        `help:"Auth token; defaults to the configured auth_token." env:"UNRAVEL_AUTH_TOKEN"`
	Timeout  time.Duration `default:"2m" help:"Deadline for the call."`
	Format   string        `short:"f" enum:"json,text" default:"json" help:"Output format (json, text)."`
	Findings bool          `help:"Tag recovered strings with seer findings."`
}

func (c *RemoteCmd) Run(a *app) error {
	addr, token := c.Addr, c.Token
	if addr == "" {
		addr = a.cfg.ServerAddr
	}
	if token == "" {
		token = a.cfg.AuthToken
	}
	if token == "" {
		return usageError{msg: "an auth token is required (--token or auth_token)"}
	}

	blob, err := source.Load(c.Input, source.Options{MaxBytes: a.cfg.MaxInputBytes, Logger: a.logger})
	if err != nil {
		return err
	}
	client, err := service.Dial(addr, token)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	res, err := client.Analyze(ctx, blob.Data)
	if err != nil {
		return err
	}

	rep := report{
		Source:      blob.Name,
		Digest:      blob.Digest,
		Size:        len(blob.Data),
		Compression: blob.Compression,
		Result:      res,
	}
	if c.Findings {
		rep.Findings = seer.Scan(blob.Name, res, a.cfg.Seer)
	}
	if c.Format == "text" {
		return writeText(a.stdout, rep)
	}
	return writeJSON(a.stdout, rep)
}
