package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fishroom/fishroom/internal/store"
)

// apiClientBackup is the on-disk shape dumpload reads and writes. It only
// covers the token-id -> display-name map: original_source/fishroom's
// dumpload.py also copies the raw sha1 hash bytes backing each token
// directly out of redis, bypassing the manager entirely. APIClientRegistry
// never exposes that raw hash (see store/apiclient.go's Auth/Add, which only
// ever compare or write a freshly-hashed key), so a restored client here
// gets a newly generated token_key that must be redistributed -- the
// tradeoff for never having a path that hands out a usable credential
// without the operator explicitly minting one.
type apiClientBackup struct {
	Names map[string]string `json:"api_client_names"`
}

// runDumploadCommand implements "fishroom dumpload {dump|load}", adapted
// from original_source/fishroom/dumpload.py's dump_meta/load_meta.
func runDumploadCommand(ctx context.Context, registry store.APIClientRegistry, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: fishroom dumpload {dump|load} ...")
		return 2
	}

	switch args[0] {
	case "dump", "d":
		return runDump(ctx, registry, args[1:])
	case "load", "l":
		return runLoad(ctx, registry, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown dumpload subcommand %q\n", args[0])
		return 2
	}
}

func runDump(ctx context.Context, registry store.APIClientRegistry, args []string) int {
	dumpDir := "."
	for i := 0; i < len(args); i++ {
		if (args[i] == "-d" || args[i] == "--dump-dir") && i+1 < len(args) {
			dumpDir = args[i+1]
			i++
		}
	}

	clients, err := registry.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dump: %v\n", err)
		return 1
	}
	backup := apiClientBackup{Names: make(map[string]string, len(clients))}
	for tokenID := range clients {
		name, _, err := registry.Name(ctx, tokenID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dump: reading name for %s: %v\n", tokenID, err)
			return 1
		}
		backup.Names[tokenID] = name
	}

	data, err := json.MarshalIndent(backup, "", "    ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "dump: %v\n", err)
		return 1
	}
	path := filepath.Join(dumpDir, "meta.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "dump: %v\n", err)
		return 1
	}
	fmt.Printf("wrote %s\n", path)
	return 0
}

func runLoad(ctx context.Context, registry store.APIClientRegistry, args []string) int {
	var metaFile string
	for i := 0; i < len(args); i++ {
		if args[i] == "--meta-file" && i+1 < len(args) {
			metaFile = args[i+1]
			i++
		}
	}
	if metaFile == "" {
		fmt.Fprintln(os.Stderr, "load: --meta-file is required")
		return 2
	}

	data, err := os.ReadFile(metaFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load: %v\n", err)
		return 1
	}
	var backup apiClientBackup
	if err := json.Unmarshal(data, &backup); err != nil {
		fmt.Fprintf(os.Stderr, "load: %v\n", err)
		return 1
	}

	for tokenID, name := range backup.Names {
		exists, err := registry.Exists(ctx, tokenID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load: checking %s: %v\n", tokenID, err)
			return 1
		}
		if exists {
			fmt.Printf("%s: already registered, skipping\n", tokenID)
			continue
		}
		tokenKey, err := randomAlnum(16)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load: %v\n", err)
			return 1
		}
		if err := registry.Add(ctx, tokenID, tokenKey, name); err != nil {
			fmt.Fprintf(os.Stderr, "load: restoring %s: %v\n", tokenID, err)
			return 1
		}
		fmt.Printf("%s restored with new token_key %s (redistribute to %s)\n", tokenID, tokenKey, name)
	}
	return 0
}
