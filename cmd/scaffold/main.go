package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// CLI represents the main CLI structure
type CLI struct {
	APIKey   string `env:"GEMINI_API_KEY" help:"Gemini API key"`
	Model    string `help:"Override the generation model"`
	BaseURL  string `help:"Custom API base URL"`
	LogLevel string `default:"warn" help:"Log level"`

	Chat         ChatCmd         `cmd:"" default:"1" help:"Start an interactive scaffolding conversation"`
	Sessions     SessionsCmd     `cmd:"" help:"Manage stored sessions"`
	Capabilities CapabilitiesCmd `cmd:"" help:"Probe and show system capabilities"`
	Migrate      MigrateCmd      `cmd:"" help:"Database migrations"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("scaffold"),
		kong.Description("AI-assisted project scaffolding"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	err := ctx.Run(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
