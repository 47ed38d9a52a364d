package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/assetcache/cli/output"
	"github.com/fluxbase-eu/assetcache/internal/build"
	"github.com/fluxbase-eu/assetcache/internal/bundle"
	"github.com/fluxbase-eu/assetcache/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate [document]",
	Short: "Check a bundle configuration document",
	Long: `Parse a bundle configuration document (YAML, or TOML for .toml files)
and resolve every bundle's dependency graph without building anything.

Without an argument the document named by assets.config_file in the
service configuration is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	formatter, err := newFormatter(cmd)
	if err != nil {
		return err
	}

	document := ""
	if len(args) == 1 {
		document = args[0]
	} else {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		document = cfg.Assets.ConfigFile
	}

	model, err := bundle.LoadFile(document)
	if err != nil {
		return err
	}

	data, failures := describeBundles(model)
	if err := formatter.PrintTable(data); err != nil {
		return err
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d bundles have dependency errors", failures, len(model.Bundles))
	}
	formatter.PrintSuccess(fmt.Sprintf("%s: %d bundles OK", document, len(model.Bundles)))
	return nil
}

// describeBundles plans every bundle in output-path order and reports the
// number whose dependency graph does not resolve.
func describeBundles(model *bundle.Model) (output.TableData, int) {
	data := output.TableData{
		Headers: []string{"BUNDLE", "CATEGORY", "PROFILE", "PATTERNS", "BUILD ORDER", "STATUS"},
	}

	failures := 0
	for _, id := range model.Paths() {
		def, _ := model.Lookup(id)

		status := "ok"
		order := "-"
		plan, err := build.Plan(model, id)
		if err != nil {
			failures++
			status = err.Error()
		} else {
			steps := make([]string, 0, len(plan))
			for _, step := range plan {
				steps = append(steps, step.OutputPath)
			}
			order = strings.Join(steps, " > ")
		}

		data.Rows = append(data.Rows, []string{
			def.OutputPath,
			def.Category.String(),
			def.Profile.String(),
			strconv.Itoa(len(def.Patterns)),
			order,
			status,
		})
	}
	return data, failures
}
