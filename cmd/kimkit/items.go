package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openkim/KIMkit/pkg/kimcode"
)

var (
	metadataFile  string
	gitURL        string
	gitRef        string
	importKimcode string
	exportOut     string
	collectionDir string
)

var importCmd = &cobra.Command{
	Use:   "import <name> <item-type> [tarball]",
	Short: "Import a new item from a tarball or a git repository",
	Long: `Import ingests item content, allocates a fresh identifier at version
000, validates the metadata, and commits the item. The item type is one
of portable-model, simulator-model, or model-driver. Content comes from
the tarball argument, or from a git repository with --from-git.

With --kimcode the item is imported under that previously reserved or
externally assigned identifier instead of a generated one; the import
fails if the identifier is already taken.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runImport,
}

var updateCmd = &cobra.Command{
	Use:   "update <kimcode> <tarball>",
	Short: "Create the next version of an item from new content",
	Args:  cobra.ExactArgs(2),
	RunE:  runUpdate,
}

var forkCmd = &cobra.Command{
	Use:   "fork <kimcode> <new-name>",
	Short: "Copy an item version into a new lineage under a fresh identifier",
	Args:  cobra.ExactArgs(2),
	RunE:  runFork,
}

var editCmd = &cobra.Command{
	Use:   "edit <kimcode> <field> <value>",
	Short: "Set a metadata field on an item version",
	Long: `Edit sets one metadata field. The value is parsed as JSON so arrays
and objects work; a bare word is taken as a string.`,
	Args: cobra.ExactArgs(3),
	RunE: runEdit,
}

var deleteFieldCmd = &cobra.Command{
	Use:   "delete-field <kimcode> <field>",
	Short: "Remove a metadata field from an item version",
	Args:  cobra.ExactArgs(2),
	RunE:  runDeleteField,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <kimcode>",
	Short: "Remove an item version from the repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var discontinueCmd = &cobra.Command{
	Use:   "discontinue <kimcode>",
	Short: "Mark an item version as no longer maintained",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscontinue,
}

var exportCmd = &cobra.Command{
	Use:   "export <kimcode>",
	Short: "Write an item version as a gzipped tarball",
	Long: `Export writes the item as a tarball to --output (stdout by default).
A portable model running on a model driver is bundled with its driver.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var installCmd = &cobra.Command{
	Use:   "install <kimcode>",
	Short: "Copy an item into a simulator collection and build it",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstall,
}

func init() {
	importCmd.Flags().StringVarP(&metadataFile, "metadata", "m", "", "JSON file with the item's metadata")
	importCmd.Flags().StringVar(&gitURL, "from-git", "", "Clone item content from this git URL instead of a tarball")
	importCmd.Flags().StringVar(&gitRef, "ref", "", "Branch or tag to clone with --from-git")
	importCmd.Flags().StringVar(&importKimcode, "kimcode", "", "Import under this reserved extended kimcode instead of generating one")
	importCmd.Flags().StringVarP(&comment, "comment", "c", "", "Provenance comment")

	updateCmd.Flags().StringVarP(&metadataFile, "metadata", "m", "", "JSON file with metadata overrides")
	updateCmd.Flags().StringVarP(&comment, "comment", "c", "", "Provenance comment")

	forkCmd.Flags().StringVarP(&comment, "comment", "c", "", "Provenance comment")
	editCmd.Flags().StringVarP(&comment, "comment", "c", "", "Provenance comment")
	deleteFieldCmd.Flags().StringVarP(&comment, "comment", "c", "", "Provenance comment")
	discontinueCmd.Flags().StringVarP(&comment, "comment", "c", "", "Provenance comment")

	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Output file (default stdout)")
	installCmd.Flags().StringVar(&collectionDir, "collection-dir", "", "Simulator collection directory (required)")
	_ = installCmd.MarkFlagRequired("collection-dir")
}

func runImport(cmd *cobra.Command, args []string) error {
	name := args[0]
	itemType := kimcode.ItemType(args[1])
	metadata, err := readMetadataFile(metadataFile)
	if err != nil {
		return err
	}
	repo, _, err := openRepo()
	if err != nil {
		return err
	}

	var code string
	switch {
	case importKimcode != "":
		if gitURL != "" {
			return fmt.Errorf("--kimcode cannot be combined with --from-git")
		}
		if len(args) != 3 {
			return fmt.Errorf("a tarball argument is required with --kimcode")
		}
		c, parseErr := kimcode.Parse(importKimcode)
		if parseErr != nil {
			return parseErr
		}
		if codeType, typeErr := c.ItemType(); typeErr != nil || codeType != itemType {
			return fmt.Errorf("kimcode %s does not name a %s", importKimcode, itemType)
		}
		if c.Name != name {
			return fmt.Errorf("kimcode %s does not carry the name %q", importKimcode, name)
		}
		f, openErr := os.Open(args[2])
		if openErr != nil {
			return openErr
		}
		defer f.Close()
		code = importKimcode
		err = repo.ImportWithIdentifier(f, importKimcode, metadata, comment)
	case gitURL != "":
		code, err = repo.ImportFromGit(gitURL, gitRef, name, itemType, metadata, comment)
	case len(args) == 3:
		f, openErr := os.Open(args[2])
		if openErr != nil {
			return openErr
		}
		defer f.Close()
		code, err = repo.Import(f, name, itemType, metadata, comment)
	default:
		return fmt.Errorf("either a tarball argument or --from-git is required")
	}
	if err != nil {
		return err
	}
	fmt.Println(code)
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	overrides, err := readMetadataFile(metadataFile)
	if err != nil {
		return err
	}
	repo, _, err := openRepo()
	if err != nil {
		return err
	}
	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	newCode, err := repo.VersionUpdate(args[0], f, overrides, comment, runAsEditor)
	if err != nil {
		return err
	}
	fmt.Println(newCode)
	return nil
}

func runFork(cmd *cobra.Command, args []string) error {
	repo, _, err := openRepo()
	if err != nil {
		return err
	}
	forkCode, err := repo.Fork(args[0], args[1], comment, runAsEditor)
	if err != nil {
		return err
	}
	fmt.Println(forkCode)
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	repo, _, err := openRepo()
	if err != nil {
		return err
	}
	var value any
	if err := json.Unmarshal([]byte(args[2]), &value); err != nil {
		value = args[2]
	}
	return repo.EditMetadata(args[0], args[1], value, comment, runAsEditor)
}

func runDeleteField(cmd *cobra.Command, args []string) error {
	repo, _, err := openRepo()
	if err != nil {
		return err
	}
	return repo.DeleteMetadataField(args[0], args[1], comment, runAsEditor)
}

func runDelete(cmd *cobra.Command, args []string) error {
	repo, _, err := openRepo()
	if err != nil {
		return err
	}
	return repo.Delete(args[0], runAsEditor)
}

func runDiscontinue(cmd *cobra.Command, args []string) error {
	repo, _, err := openRepo()
	if err != nil {
		return err
	}
	return repo.Discontinue(args[0], comment, runAsEditor)
}

func runExport(cmd *cobra.Command, args []string) error {
	repo, _, err := openRepo()
	if err != nil {
		return err
	}
	out := os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return repo.Export(args[0], out)
}

func runInstall(cmd *cobra.Command, args []string) error {
	repo, _, err := openRepo()
	if err != nil {
		return err
	}
	return repo.Install(context.Background(), args[0], collectionDir)
}
