package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rendis/routeflow/internal/cache"
	"github.com/rendis/routeflow/internal/secrets"
)

const secretUsage = "usage: routeflow secret <set <key> [value] | list | rm <key>>"

func runSecret(args []string) error {
	cfg := loadConfig()
	fs := flag.NewFlagSet("secret", flag.ExitOnError)
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New(secretUsage)
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	vault, err := openVault(cfg, st)
	if err != nil {
		return err
	}
	if vault == nil {
		return fmt.Errorf("vault_passphrase is not configured")
	}

	changed, err := secretCommand(ctx, vault, os.Stdout, os.Stdin, fs.Args())
	if err != nil || !changed {
		return err
	}

	// Integrations may be holding pools opened with the old value.
	rdb, err := newRedis(cfg)
	if err != nil || rdb == nil {
		return err
	}
	defer rdb.Close()
	return cache.NewPublisher(rdb, cfg.InvalidationChannel).Integration(ctx, "")
}

// secretCommand runs one secret subcommand and reports whether it changed
// the vault. set reads the value from stdin when it is not given.
func secretCommand(ctx context.Context, v secrets.Vault, out io.Writer, in io.Reader, args []string) (bool, error) {
	switch args[0] {
	case "set":
		if len(args) < 2 {
			return false, errors.New(secretUsage)
		}
		value := strings.Join(args[2:], " ")
		if len(args) == 2 {
			b, err := io.ReadAll(in)
			if err != nil {
				return false, err
			}
			value = strings.TrimRight(string(b), "\r\n")
		}
		if value == "" {
			return false, fmt.Errorf("secret %q: empty value", args[1])
		}
		if err := v.Store(ctx, args[1], []byte(value)); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "stored %s\n", args[1])
		return true, nil
	case "list":
		keys, err := v.List(ctx)
		if err != nil {
			return false, err
		}
		for _, k := range keys {
			fmt.Fprintln(out, k)
		}
		return false, nil
	case "rm":
		if len(args) != 2 {
			return false, errors.New(secretUsage)
		}
		if err := v.Delete(ctx, args[1]); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "removed %s\n", args[1])
		return true, nil
	default:
		return false, fmt.Errorf("unknown secret command %q\n%s", args[0], secretUsage)
	}
}
