// Raskol is a thrifty reverse proxy that shares one upstream API
// credential across many JWT-authenticated users, enforcing per-user
// rate limits and daily token quotas.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	raskol "github.com/eugener/raskol/internal"
	"github.com/eugener/raskol/internal/auth"
	"github.com/eugener/raskol/internal/config"
)

var version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `usage: raskol [flags] <command>

commands:
  server                       run the proxy server
  jwt <uid> <ttl_seconds> [role]  mint a signed token (role: USER, HACKER, ADMIN)

flags:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "conf/raskol.toml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println("raskol", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "server":
		err = run(*configPath)
	case "jwt":
		err = mint(*configPath, args[1:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// mint issues a token against the configured signing secret and prints
// it to stdout, one line, shell-friendly.
func mint(configPath string, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: raskol jwt <uid> <ttl_seconds> [role]")
	}
	uid := args[0]
	if uid == "" {
		return fmt.Errorf("uid must not be empty")
	}

	ttlSecs, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid ttl %q: %w", args[1], err)
	}

	role := raskol.RoleUser
	if len(args) == 3 {
		role = strings.ToUpper(args[2])
		switch role {
		case raskol.RoleUser, raskol.RoleHacker, raskol.RoleAdmin:
		default:
			return fmt.Errorf("unknown role %q", args[2])
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	token, err := auth.NewCodec(cfg.JWT).Mint(uid, time.Duration(ttlSecs*float64(time.Second)), role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
