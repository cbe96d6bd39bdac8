package main

import "github.com/yyupcompany/kyyupgame-sub117/cmd/schoolauthd/cmd"

func main() {
	cmd.Execute()
}
