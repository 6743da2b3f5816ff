// backport-askpass is the GIT_ASKPASS helper invoked by git when a remote
// asks for credentials. It answers with the token from the environment, but
// only for the host the bot expects; any other host gets a deliberately
// wrong value so the token never leaks to an unexpected remote.
package main

import (
	"fmt"
	"log"
	"os"
	"regexp"
)

var promptRE = regexp.MustCompile(`Password for '.*@(.*)'`)

// respond returns the credential to emit for the given git prompt: the
// secret when the prompt names the expected host, a decoy otherwise.
func respond(prompt, expectedHost, pass string) string {
	host := ""
	if m := promptRE.FindStringSubmatch(prompt); m != nil {
		host = m[1]
	}
	if host != expectedHost {
		return "this is the wrong password"
	}
	return pass
}

func main() {
	pass := os.Getenv("BACKPORT_PASS")
	if pass == "" {
		log.Fatal("BACKPORT_PASS is not set")
	}
	expectedHost := os.Getenv("BACKPORT_HOST")
	if expectedHost == "" {
		log.Fatal("BACKPORT_HOST is not set")
	}

	prompt := ""
	if len(os.Args) > 1 {
		prompt = os.Args[1]
	}

	fmt.Println(respond(prompt, expectedHost, pass))
}
