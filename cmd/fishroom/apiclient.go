package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"sort"

	"github.com/fishroom/fishroom/internal/store"
)

// runAPIClientCommand implements the spec's "fishroom api-client
// {list|add|revoke|test}" CLI surface, adapted from
// original_source/fishroom/api_client.py's __main__ argparse block onto
// internal/store.APIClientRegistry's safe (hash-only) interface.
func runAPIClientCommand(ctx context.Context, registry store.APIClientRegistry, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: fishroom api-client {list|add|revoke|test} ...")
		return 2
	}

	switch args[0] {
	case "list", "l":
		return apiClientList(ctx, registry)
	case "add", "a":
		return apiClientAdd(ctx, registry, args[1:])
	case "revoke", "r":
		return apiClientRevoke(ctx, registry, args[1:])
	case "test":
		return apiClientTest(ctx, registry, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown api-client subcommand %q\n", args[0])
		return 2
	}
}

func apiClientList(ctx context.Context, registry store.APIClientRegistry) int {
	clients, err := registry.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list: %v\n", err)
		return 1
	}
	ids := make([]string, 0, len(clients))
	for id := range clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		name, _, err := registry.Name(ctx, id)
		if err != nil || name == "" {
			name = "nobot"
		}
		fmt.Printf("%s: %s\n", id, name)
	}
	return 0
}

func apiClientAdd(ctx context.Context, registry store.APIClientRegistry, args []string) int {
	var name, tokenID, tokenKey string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-n", "--name":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "add: -n/--name requires a value")
				return 2
			}
			name = args[i]
		default:
			if tokenID == "" {
				tokenID = args[i]
			} else if tokenKey == "" {
				tokenKey = args[i]
			}
		}
	}
	if name == "" {
		fmt.Fprintln(os.Stderr, "add: -n/--name is required")
		return 2
	}

	if tokenID == "" && tokenKey == "" {
		var err error
		tokenID, err = randomDigits(8)
		if err != nil {
			fmt.Fprintf(os.Stderr, "add: %v\n", err)
			return 1
		}
		for {
			exists, err := registry.Exists(ctx, tokenID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "add: %v\n", err)
				return 1
			}
			if !exists {
				break
			}
			tokenID, err = randomDigits(8)
			if err != nil {
				fmt.Fprintf(os.Stderr, "add: %v\n", err)
				return 1
			}
		}
		tokenKey, err = randomAlnum(16)
		if err != nil {
			fmt.Fprintf(os.Stderr, "add: %v\n", err)
			return 1
		}
	} else if tokenID == "" || tokenKey == "" {
		fmt.Fprintln(os.Stderr, "add: specify both token_id and token_key, or neither")
		return 2
	}

	if err := registry.Add(ctx, tokenID, tokenKey, name); err != nil {
		fmt.Fprintf(os.Stderr, "add: %v\n", err)
		return 1
	}
	fmt.Printf("%s %s %s\n", tokenID, tokenKey, name)
	return 0
}

func apiClientRevoke(ctx context.Context, registry store.APIClientRegistry, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: fishroom api-client revoke <token_id>")
		return 2
	}
	tokenID := args[0]
	fmt.Printf("Revoke token_id: %s? Y/[N]: ", tokenID)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	if len(line) == 0 || (line[0] != 'y' && line[0] != 'Y') {
		fmt.Println("Cancelled")
		return 0
	}
	if err := registry.Revoke(ctx, tokenID); err != nil {
		fmt.Fprintf(os.Stderr, "revoke: %v\n", err)
		return 1
	}
	return 0
}

func apiClientTest(ctx context.Context, registry store.APIClientRegistry, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: fishroom api-client test <token_id> <token_key>")
		return 2
	}
	ok, err := registry.Auth(ctx, args[0], args[1])
	if err != nil {
		fmt.Println(false)
		return 0
	}
	fmt.Println(ok)
	return 0
}

const digitAlphabet = "0123456789"
const alnumAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomDigits(n int) (string, error) { return randomString(n, digitAlphabet) }
func randomAlnum(n int) (string, error)  { return randomString(n, alnumAlphabet) }

func randomString(n int, alphabet string) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
