package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/3-lines-studio/ingot"
	"github.com/spf13/cobra"
)

var evalFile string

var evalCmd = &cobra.Command{
	Use:   "eval [code]",
	Short: "Evaluate JavaScript and print the JSON result",
	Long: `Evaluate JavaScript in a fresh runtime and print its completion value as
JSON. Code comes from the argument, from --file, or from stdin when the
argument is "-".`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVarP(&evalFile, "file", "f", "", "read code from a file")
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ingot.SetEvalTimeout(cfg.EvalTimeout)

	code, err := evalSource(cmd, args)
	if err != nil {
		return err
	}

	raw, err := ingot.EvaluateJSON(cmd.Context(), code)
	if err != nil {
		return err
	}

	var pretty strings.Builder
	encoder := json.NewEncoder(&pretty)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(raw); err != nil {
		return err
	}
	_, err = io.WriteString(cmd.OutOrStdout(), pretty.String())
	return err
}

func evalSource(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case evalFile != "":
		data, err := os.ReadFile(evalFile)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", evalFile, err)
		}
		return string(data), nil
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case len(args) == 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("no code given; pass it as an argument, with --file, or via stdin with -")
	}
}
