// Command hashkey prints the NOTIFY_KEY_HASH value for an API key.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/johndosdos/courier/internal/auth"
)

func main() {
	key := ""
	if len(os.Args) > 1 {
		key = os.Args[1]
	} else {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		key = strings.TrimSpace(line)
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "usage: hashkey <key>  (or pass the key on stdin)")
		os.Exit(2)
	}

	hash, err := auth.HashKey(key)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
