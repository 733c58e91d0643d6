package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/MimeLyc/vidsub/internal/apperr"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
			if apperr.TypeOf(err) != apperr.ErrUnknown {
				fmt.Fprintln(os.Stderr, "hint:", apperr.Advice(err))
			}
		}
		os.Exit(1)
	}
}
