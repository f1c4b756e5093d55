// Command authstore writes a basic-auth credentials file consumed by every
// other cmd/* driver's -credentials flag (spec §6 "Basic-auth credential
// store").
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hoogenboom-lab/render-pipeline/internal/auth"
	"github.com/hoogenboom-lab/render-pipeline/internal/renderclient"
)

func main() {
	var (
		username string
		password string
		path     string
	)

	flag.StringVar(&username, "username", "", "Render server username")
	flag.StringVar(&password, "password", "", "Render server password")
	flag.StringVar(&path, "out", "", "Path the credentials file is written to")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: authstore -username U -password P -out <path>\n\n")
		fmt.Fprintf(os.Stderr, "Writes a basic-auth credentials file (0600) for later use with\n")
		fmt.Fprintf(os.Stderr, "every other cmd/* driver's -credentials flag.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if username == "" || path == "" {
		flag.Usage()
		os.Exit(1)
	}

	creds := renderclient.Credentials{Username: username, Password: password}
	if err := auth.Save(path, creds); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote credentials for %q to %s\n", username, path)
}
