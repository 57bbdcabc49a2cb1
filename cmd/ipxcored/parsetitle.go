package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/streamrelay/ipxcore/pkg/titleparser"
)

func newParseTitleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-title <title...>",
		Short: "run the title-parser rule pipeline over a title and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args, " ")
			pt := titleparser.New().Parse(title)
			out, err := json.MarshalIndent(pt, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
