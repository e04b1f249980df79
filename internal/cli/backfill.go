package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bondkeeper/internal/app"
)

var (
	backfillFromBlock uint64
	backfillToBlock   uint64
	backfillChunk     uint64
	backfillDryRun    bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Import SnapshotRecorded events from a block range",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillToBlock != 0 && backfillFromBlock > backfillToBlock {
			return fmt.Errorf("--from-block must not exceed --to-block")
		}
		if backfillChunk == 0 {
			return fmt.Errorf("--chunk-size must be greater than zero")
		}

		opts := app.BackfillOptions{
			FromBlock: backfillFromBlock,
			ToBlock:   backfillToBlock,
			ChunkSize: backfillChunk,
			DryRun:    backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().Uint64Var(&backfillFromBlock, "from-block", 0, "First block to scan (inclusive)")
	backfillCmd.Flags().Uint64Var(&backfillToBlock, "to-block", 0, "Last block to scan (inclusive, 0 = chain head)")
	backfillCmd.Flags().Uint64Var(&backfillChunk, "chunk-size", 5000, "Blocks per eth_getLogs request")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
}
