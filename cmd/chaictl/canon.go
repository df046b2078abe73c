package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/teaxyz/chai/pkg/urlnorm"
)

// canonicalize prints the canonical form and name candidates for each
// argument URL.
func canonicalize(_ context.Context, _ *commonConfig, args []string) error {
	if len(args) == 0 {
		return errors.New("canon takes one or more URLs")
	}
	var failed bool
	for _, raw := range args {
		c, err := urlnorm.Canonical(raw)
		if err != nil {
			fmt.Printf("%s\n\terror: %v\n", raw, err)
			failed = true
			continue
		}
		fmt.Printf("%s\n\tcanonical: %s\n", raw, c)
		if names := urlnorm.PossibleNames(raw); len(names) != 0 {
			fmt.Printf("\tnames:     %s\n", strings.Join(names, ", "))
		}
	}
	if failed {
		return errors.New("some URLs could not be canonicalized")
	}
	return nil
}
