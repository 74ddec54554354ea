package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openkim/KIMkit/pkg/index"
)

var queryFilter index.Filter

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Maintain and query the search index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the search index from the repository tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, idx, err := openRepo()
		if err != nil {
			return err
		}
		count, err := idx.Rebuild()
		if err != nil {
			return err
		}
		fmt.Printf("indexed %d item versions\n", count)
		return nil
	},
}

var indexQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List indexed items matching the filter flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, idx, err := openRepo()
		if err != nil {
			return err
		}
		rows, err := idx.Query(queryFilter)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	},
}

func init() {
	indexQueryCmd.Flags().StringVar(&queryFilter.ItemType, "type", "", "Filter by item type")
	indexQueryCmd.Flags().StringVar(&queryFilter.Number, "number", "", "Filter by 12 digit lineage number")
	indexQueryCmd.Flags().StringVar(&queryFilter.Prefix, "name", "", "Filter by human-readable name prefix")
	indexQueryCmd.Flags().StringVar(&queryFilter.Contributor, "contributor", "", "Filter by contributor UUID")
	indexQueryCmd.Flags().StringVar(&queryFilter.Maintainer, "maintainer", "", "Filter by maintainer UUID")
	indexQueryCmd.Flags().StringVar(&queryFilter.Driver, "driver", "", "Filter by model driver kimcode")
	indexQueryCmd.Flags().BoolVar(&queryFilter.AllVersions, "all-versions", false, "Include non-latest versions")

	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexQueryCmd)
}
