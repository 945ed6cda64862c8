package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/rubricwatch/internal/printer"
	"github.com/dyluth/rubricwatch/internal/reconcile"
)

var criteriaFile string

// criteriaFileSpec is the YAML layout read by `criteria set`.
type criteriaFileSpec struct {
	Criteria []struct {
		ID          string  `yaml:"id"`
		Description string  `yaml:"description"`
		Rubric      string  `yaml:"rubric"`
		Weight      float64 `yaml:"weight"`
	} `yaml:"criteria"`
}

var criteriaCmd = &cobra.Command{
	Use:   "criteria",
	Short: "Manage a session's criteria",
}

var criteriaSetCmd = &cobra.Command{
	Use:   "set SESSION",
	Short: "Replace a session's criteria from a YAML file",
	Long: `Replace every criterion of a session.

Replacing the list discards all progress recorded against the old one, for
every group. Release flags and the session scenario are kept.

File format:
  criteria:
    - description: States the aim of the titration
      rubric: Mentions finding the unknown concentration
    - description: Identifies the indicator
      rubric: Names phenolphthalein or methyl orange
      weight: 2

Examples:
  rwctl criteria set chem-101 --file titration.yml`,
	Args: cobra.ExactArgs(1),
	RunE: runCriteriaSet,
}

func init() {
	criteriaSetCmd.Flags().StringVarP(&criteriaFile, "file", "f", "", "YAML file with the criteria list (required)")
	_ = criteriaSetCmd.MarkFlagRequired("file")
	criteriaCmd.AddCommand(criteriaSetCmd)
	rootCmd.AddCommand(criteriaCmd)
}

func runCriteriaSet(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	inputs, err := loadCriteriaFile(criteriaFile)
	if err != nil {
		return printer.Error(
			"invalid criteria file",
			err.Error(),
			[]string{"See the expected format:\n  rwctl criteria set --help"},
		)
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	criteria, err := client.ReplaceCriteria(context.Background(), sessionID, inputs)
	if err != nil {
		return apiError("replace criteria", err)
	}

	printer.Success("Replaced criteria for session '%s' (%d criteria)\n", sessionID, len(criteria))
	for _, c := range criteria {
		fmt.Fprintf(cmd.OutOrStdout(), "  %d. %s\n", c.Index+1, c.Description)
	}
	return nil
}

// loadCriteriaFile reads and decodes a criteria file.
func loadCriteriaFile(path string) ([]reconcile.CriterionInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var spec criteriaFileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(spec.Criteria) == 0 {
		return nil, fmt.Errorf("%s lists no criteria", path)
	}

	inputs := make([]reconcile.CriterionInput, len(spec.Criteria))
	for i, c := range spec.Criteria {
		inputs[i] = reconcile.CriterionInput{
			ID:          c.ID,
			Description: c.Description,
			Rubric:      c.Rubric,
			Weight:      c.Weight,
		}
	}
	return inputs, nil
}
