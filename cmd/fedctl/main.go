// Command fedctl is the administrative CLI for provisioning tenants,
// mirroring the teacher's cmdline.go action-dispatch idiom and its use
// of manifoldco/promptui for interactive confirmation prompts.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/manifoldco/promptui"

	"github.com/blogfed/apsrv/internal/config"
	"github.com/blogfed/apsrv/internal/eventbus"
	"github.com/blogfed/apsrv/internal/repo"
)

var (
	configFlag = flag.String("config", "config.ini", "Path to the server's INI configuration file")
)

type action struct {
	Name        string
	Description string
	Run         func(cfg config.Config, args []string) error
}

var actions = []action{
	{"provision", "Provision a new tenant site for a host", runProvision},
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fedctl: loading config: %v\n", err)
		os.Exit(1)
	}

	name := flag.Arg(0)
	for _, a := range actions {
		if a.Name == name {
			if err := a.Run(cfg, flag.Args()[1:]); err != nil {
				fmt.Fprintf(os.Stderr, "fedctl: %s: %v\n", name, err)
				os.Exit(1)
			}
			return
		}
	}
	fmt.Fprintf(os.Stderr, "fedctl: unknown action %q\n", name)
	usage()
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n\n    fedctl <action> [arguments]\n\nActions:\n")
	for _, a := range actions {
		fmt.Fprintf(os.Stderr, "    %-12s %s\n", a.Name, a.Description)
	}
}

func runProvision(cfg config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: fedctl provision <host>")
	}
	host := args[0]
	baseURL := cfg.ServerConfig.Scheme + "://" + host + cfg.ServerConfig.PathPrefix

	confirm := promptui.Prompt{
		Label: fmt.Sprintf("Provision tenant for %s at %s", host, baseURL),
		Templates: &promptui.PromptTemplates{
			Prompt:  fmt.Sprintf(`{{ "%s" | bold }} {{ . | bold }} {{ "[y/N]" | faint }}`, promptui.IconInitial),
			Valid:   fmt.Sprintf(`{{ "%s" | bold }} {{ . | bold }} {{ "[y/N]" | faint }}`, promptui.IconGood),
			Invalid: fmt.Sprintf(`{{ "%s" | bold }} {{ . | bold }} {{ "[y/N]" | faint }}`, promptui.IconBad),
		},
		Default: "n",
	}
	s, err := confirm.Run()
	if err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	if s != "y" && s != "Y" {
		fmt.Println("aborted")
		return nil
	}

	db, err := sql.Open("mysql", cfg.DatabaseConfig.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	bus := eventbus.New()
	accounts, err := repo.NewAccountRepository(db, bus)
	if err != nil {
		return fmt.Errorf("account repository: %w", err)
	}
	sites, err := repo.NewSiteRegistry(db)
	if err != nil {
		return fmt.Errorf("site registry: %w", err)
	}

	site, err := sites.Provision(context.Background(), host, baseURL, accounts)
	if err != nil {
		return fmt.Errorf("provision %q: %w", host, err)
	}

	fmt.Printf("Provisioned %s\n  webhook_secret: %s\n  actor:          %s/users/index\n",
		site.Host, site.WebhookSecret, baseURL)
	return nil
}
