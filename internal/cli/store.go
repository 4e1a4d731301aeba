package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func storeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Maintain the job store",
	}
	cmd.AddCommand(storeRepairCmd())
	return cmd
}

func storeRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Scan the store and quarantine corrupted job records",
		Long: `Scan every stored job record, validating its schedule and status. Records
that cannot be parsed are moved to a quarantine table so the scheduler can
keep operating on the healthy ones. Disaster recovery, not routine upkeep.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			rep, err := e.store.Repair(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("scanned:     %d\n", rep.Scanned)
			fmt.Printf("healthy:     %d\n", rep.Healthy)
			fmt.Printf("quarantined: %d\n", rep.Quarantined)
			return nil
		},
	}
	return cmd
}
