package main

import (
	"context"
	"fmt"

	"github.com/cuemby/pilot/pkg/clustering"
	"github.com/spf13/cobra"
)

var clusteringCmd = &cobra.Command{
	Use:   "clustering",
	Short: "Work with clustering specs",
}

var clusteringValidateCmd = &cobra.Command{
	Use:   "validate SPEC...",
	Short: "Check clustering specs",
	Long: `Check that each clustering spec parses and show how it is interpreted.

Accepted forms:
  hc-<tasks>-<nodes>                 fixed-size clusters, one level at a time
  dfjs-<seconds>-<nodes>             clusters bounded by estimated runtime
  hrb-<tasks>-<nodes>                runtime-balanced clusters
  <hc|dfjs|hrb>-vposterior-<n>-<nodes>
                                     the above, merged across two levels
  one_job-<nodes>                    the whole workflow in one reservation
  one_job_per_task                   one reservation per ready task
  vc                                 one reservation per task chain
  zhang[:overlap|nooverlap][:plimit|pnolimit]
                                     ratio search over consecutive levels

A node count of 0 picks the node count from wait-time predictions.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, spec := range args {
			// validation never queries the oracle
			s, err := clustering.Parse(spec, noOracle{})
			if err != nil {
				fmt.Printf("✗ %s: %v\n", spec, err)
				failed++
				continue
			}
			fmt.Printf("✓ %s: %s (%s)\n", spec, s.Name(), s.Mode())
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d specs are invalid", failed, len(args))
		}
		return nil
	},
}

func init() {
	clusteringCmd.AddCommand(clusteringValidateCmd)
}

type noOracle struct{}

func (noOracle) Predict(context.Context, int, float64) (float64, error) {
	return 0, fmt.Errorf("no batch service to query")
}
