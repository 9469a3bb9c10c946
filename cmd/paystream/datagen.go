package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/paystream/internal/generator"
)

func datagenCmd() *cobra.Command {
	cfg := generator.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "datagen",
		Short: "Write a synthetic request dataset for replay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			count, _ := cmd.Flags().GetInt("count")
			users, _ := cmd.Flags().GetInt("users")
			seed, _ := cmd.Flags().GetInt64("seed")
			outputDir, _ := cmd.Flags().GetString("output-dir")
			writeStdout, _ := cmd.Flags().GetBool("stdout")

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			gen := generator.New(generator.Config{NumUsers: users, Seed: seed})
			dataset, err := gen.Generate(ctx, count)
			if err != nil {
				return fmt.Errorf("generation failed: %w", err)
			}

			if writeStdout {
				return json.NewEncoder(os.Stdout).Encode(dataset)
			}
			if err := generator.WriteDataset(dataset, outputDir); err != nil {
				return fmt.Errorf("failed to write dataset: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %d requests into %s\n", len(dataset.Requests), outputDir)
			return nil
		},
	}

	cmd.Flags().IntP("count", "n", 1000, "number of requests to generate")
	cmd.Flags().Int("users", cfg.NumUsers, "size of the user pool")
	cmd.Flags().Int64("seed", 0, "random seed for deterministic generation")
	cmd.Flags().StringP("output-dir", "o", "data", "directory to write "+generator.DatasetFile)
	cmd.Flags().Bool("stdout", false, "write the dataset to stdout instead of a file")
	return cmd
}
