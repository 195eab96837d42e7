// Copyright © 2018 One Concern

package main

import (
	"github.com/adahealth/munkipipe/cmd/munkipipe/cmd"
)

func main() {
	cmd.Execute()
}
