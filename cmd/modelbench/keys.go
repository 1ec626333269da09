package main

import (
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/allaspectsdev/modelbench/internal/store"
	"github.com/allaspectsdev/modelbench/internal/vault"
)

func cmdKeys(args []string) {
	f := mustParseFlags(args)
	if len(f.args) == 0 {
		fatalf("Usage: modelbench keys <status|set|delete>")
	}

	cfg := loadConfig(f.configPath)
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		fatalf("error opening store: %v", err)
	}
	defer st.Close()
	kv := vault.NewKV(vault.New(), st)

	switch f.args[0] {
	case "status", "list":
		_, ok, err := kv.Get(store.SlotAPIKey)
		if err != nil {
			fatalf("error reading key: %v", err)
		}
		if !ok {
			fmt.Println("No API key stored")
			return
		}
		fmt.Println("  openai: ****")

	case "set":
		key, err := readKey(f.args[1:])
		if err != nil {
			fatalf("error reading key: %v", err)
		}
		if key == "" {
			fatalf("empty key; use 'modelbench keys delete' to remove it")
		}
		if err := kv.Set(store.SlotAPIKey, key); err != nil {
			fatalf("error storing key: %v", err)
		}
		fmt.Println("API key stored successfully")

	case "delete":
		if err := kv.Remove(store.SlotAPIKey); err != nil {
			fatalf("error deleting key: %v", err)
		}
		fmt.Println("API key deleted")

	default:
		fatalf("unknown keys command: %s", f.args[0])
	}
}

// readKey takes the key from args when given (for scripts), otherwise from
// a hidden terminal prompt.
func readKey(args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(args[0]), nil
	}
	fmt.Print("Enter OpenAI API key: ")
	key, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(key)), nil
}
