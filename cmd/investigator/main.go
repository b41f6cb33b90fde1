// Command investigator runs the fear investigation Telegram bot.
package main

import (
	"github.com/alecthomas/kong"

	"github.com/kaundiverse/fear-investigator/internal/config"
	. "github.com/kaundiverse/fear-investigator/internal/logging"
)

const version = "0.3.0"

// Globals are the flags shared by every command.
type Globals struct {
	Config string `help:"Config file (YAML or TOML). Defaults to investigator.yaml in the working or user config directory." short:"c" type:"path"`
	Debug  bool   `help:"Enable debug logging."`
	Trace  bool   `help:"Enable trace logging (includes raw provider responses when dump_requests is set)."`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Run         RunCmd         `cmd:"" default:"1" help:"Run the bot (default)."`
	Models      ModelsCmd      `cmd:"" help:"Show the model chain with resolved adapters and timeouts."`
	InitConfig  InitConfigCmd  `cmd:"" name:"init-config" help:"Write a sample config file."`
	InitPrompts InitPromptsCmd `cmd:"" name:"init-prompts" help:"Write the built-in prompts to a file for editing."`
	Audit       AuditCmd       `cmd:"" help:"Show recently audited exchanges (sqlite sink)."`
	Version     VersionCmd     `cmd:"" help:"Print the version."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("investigator"),
		kong.Description("Fear investigation Telegram bot with multi-model failover."),
		kong.UsageOnError(),
	)

	initLogging(&cli.Globals, nil)
	if err := ctx.Run(&cli.Globals); err != nil {
		L_fatal("investigator: %v", err)
	}
}

// initLogging configures the logger from cfg, with flags taking precedence.
func initLogging(g *Globals, cfg *config.Config) {
	lc := DefaultConfig()
	if cfg != nil {
		lc.Level = ParseLevel(cfg.Log.Level)
		if cfg.Log.TimeFormat != "" {
			lc.TimeFormat = cfg.Log.TimeFormat
		}
		lc.ShowCaller = cfg.Log.Caller
	}
	switch {
	case g.Trace:
		lc.Level = LevelTrace
	case g.Debug:
		lc.Level = LevelDebug
	}
	Init(lc)
}
