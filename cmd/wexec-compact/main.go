// Command wexec-compact truncates the head of a worker's oplog, an
// operator-driven maintenance task (oplog compaction policy itself is out
// of scope; this tool only performs the truncation an operator has already
// decided is safe).
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/wexec/pkg/storage"
	"github.com/cuemby/wexec/pkg/types"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wexec-compact",
	Short: "Truncate the head of a worker's durable oplog",
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "./data", "node data directory")

	compactCmd.Flags().String("template-id", "", "worker's template id (uuid)")
	compactCmd.Flags().String("worker-name", "", "worker name")
	compactCmd.Flags().Int64("up-to", 0, "truncate entries with index <= this value")
	compactCmd.MarkFlagRequired("template-id")
	compactCmd.MarkFlagRequired("worker-name")
	compactCmd.MarkFlagRequired("up-to")
	rootCmd.AddCommand(compactCmd)

	rootCmd.AddCommand(lengthCmd)
	lengthCmd.Flags().String("template-id", "", "worker's template id (uuid)")
	lengthCmd.Flags().String("worker-name", "", "worker name")
	lengthCmd.MarkFlagRequired("template-id")
	lengthCmd.MarkFlagRequired("worker-name")
}

func workerIdFromFlags(cmd *cobra.Command) (types.WorkerId, error) {
	templateIdStr, _ := cmd.Flags().GetString("template-id")
	workerName, _ := cmd.Flags().GetString("worker-name")

	id, err := uuid.Parse(templateIdStr)
	if err != nil {
		return types.WorkerId{}, fmt.Errorf("invalid template-id: %w", err)
	}
	return types.WorkerId{TemplateId: types.TemplateId(id), WorkerName: workerName}, nil
}

var lengthCmd = &cobra.Command{
	Use:   "length",
	Short: "Print a worker's current oplog length",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		workerId, err := workerIdFromFlags(cmd)
		if err != nil {
			return err
		}

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open storage at %s: %w", dataDir, err)
		}
		defer store.Close()

		length, err := store.Length(workerId)
		if err != nil {
			return fmt.Errorf("failed to read oplog length: %w", err)
		}
		fmt.Printf("%s: %d entries\n", workerId, length)
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Truncate oplog entries at or below --up-to",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		upTo, _ := cmd.Flags().GetInt64("up-to")
		workerId, err := workerIdFromFlags(cmd)
		if err != nil {
			return err
		}

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open storage at %s: %w", dataDir, err)
		}
		defer store.Close()

		before, err := store.Length(workerId)
		if err != nil {
			return fmt.Errorf("failed to read oplog length: %w", err)
		}

		if err := store.TruncateHead(workerId, upTo); err != nil {
			return fmt.Errorf("failed to truncate oplog: %w", err)
		}

		after, err := store.Length(workerId)
		if err != nil {
			return fmt.Errorf("failed to read oplog length after truncation: %w", err)
		}

		fmt.Printf("%s: truncated entries <= %d (%d -> %d entries)\n", workerId, upTo, before, after)
		return nil
	},
}
