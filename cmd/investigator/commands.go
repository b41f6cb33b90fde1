package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kaundiverse/fear-investigator/internal/audit"
	"github.com/kaundiverse/fear-investigator/internal/config"
	"github.com/kaundiverse/fear-investigator/internal/llm"
	"github.com/kaundiverse/fear-investigator/internal/prompts"
)

// ModelsCmd prints the model chain.
type ModelsCmd struct{}

func (c *ModelsCmd) Run(g *Globals) error {
	cfg, err := config.Read(g.Config)
	if err != nil {
		return err
	}
	registry := llm.NewRegistry(llm.Credentials{}, cfg.LLM.Timeouts)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tMODEL\tADAPTER\tTIMEOUT\tUSER-FIRST")
	for i, model := range cfg.LLM.Chain {
		a := registry.Lookup(model)
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\n", i+1, model, a.Kind(), a.Timeout(), a.UserFirst())
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d attempts per model, endpoint %s\n", cfg.LLM.MaxAttemptsPerModel, cfg.LLM.BaseURL)
	return nil
}

// InitConfigCmd writes a sample config.
type InitConfigCmd struct {
	Path  string `arg:"" optional:"" default:"investigator.yaml" help:"Destination (.yaml or .toml)."`
	Force bool   `help:"Overwrite an existing file, keeping a .bak copy."`
}

func (c *InitConfigCmd) Run(g *Globals) error {
	if err := config.WriteSample(c.Path, c.Force); err != nil {
		return err
	}
	fmt.Printf("wrote %s\nset %s and %s in the environment or a .env file\n", c.Path, config.EnvBotToken, config.EnvAPIKey)
	return nil
}

// InitPromptsCmd writes the built-in prompts.
type InitPromptsCmd struct {
	Path  string `arg:"" optional:"" default:"prompts.yaml" help:"Destination file."`
	Force bool   `help:"Overwrite an existing file."`
}

func (c *InitPromptsCmd) Run(g *Globals) error {
	if _, err := os.Stat(c.Path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", c.Path)
	}
	data, err := prompts.Encode(prompts.Default())
	if err != nil {
		return err
	}
	if err := config.AtomicWrite(c.Path, data, 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\nset prompts.file to use it\n", c.Path)
	return nil
}

// AuditCmd lists recent exchanges.
type AuditCmd struct {
	Limit int `short:"n" default:"20" help:"Number of exchanges to show."`
}

func (c *AuditCmd) Run(g *Globals) error {
	cfg, err := config.Read(g.Config)
	if err != nil {
		return err
	}
	if cfg.Audit.Sink != "sqlite" {
		return fmt.Errorf("audit listing needs the sqlite sink (configured: %q)", cfg.Audit.Sink)
	}
	sink, err := audit.NewSQLiteSink(cfg.Audit.Path)
	if err != nil {
		return err
	}
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	records, err := sink.Recent(ctx, c.Limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LOGGED\tUSER\tTEXT\tREPLY")
	for _, r := range records {
		user := r.Username
		if user == "" {
			user = fmt.Sprint(r.UserID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.LoggedAt.Local().Format(time.DateTime), user, clip(r.UserText, 40), clip(r.BotReply, 60))
	}
	return w.Flush()
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("investigator %s\n", version)
	return nil
}
