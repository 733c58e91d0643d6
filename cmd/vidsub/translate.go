package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/vidsub/internal/apperr"
)

func newTranslateCommand(ctx *commandContext) *cobra.Command {
	var (
		from   string
		to     string
		health bool
	)

	cmd := &cobra.Command{
		Use:   "translate [text...]",
		Short: "Translate text through the endpoint pool, or probe it with --health",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			gw, err := ctx.newGateway(ctx.config.Translate.Endpoints, ctx.translationCache(store))
			if err != nil {
				return err
			}
			if gw == nil {
				return apperr.New(apperr.ErrConfig, "TRANSLATE_ENDPOINTS is empty")
			}

			if health {
				statuses := gw.ProbeAll(cmd.Context())
				rows := make([][]string, 0, len(statuses))
				for _, st := range statuses {
					state := "up"
					if !st.Available {
						state = "down"
					}
					rows = append(rows, []string{st.Endpoint.URL, state, st.Latency.String(), st.Error})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Endpoint", "State", "Latency", "Error"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
				return nil
			}

			if len(args) == 0 {
				return apperr.New(apperr.ErrValidation, "text to translate is required")
			}
			res, err := gw.Translate(cmd.Context(), strings.Join(args, " "), from, to)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.TranslatedText)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "auto", "Source language")
	cmd.Flags().StringVar(&to, "to", "", "Target language")
	cmd.Flags().BoolVar(&health, "health", false, "Probe every endpoint and print latency")
	return cmd
}
