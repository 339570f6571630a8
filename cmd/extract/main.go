// Command extract runs the intelligence extractor over text without a server.
//
// Usage:
//
//	extract "call 9876543210 or pay x@ybl"
//	echo "..." | extract
//	extract --file chat.txt --rules rules.yaml --pretty
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/intel"
)

type result struct {
	Evidence domain.Evidence `json:"evidence"`
	Keywords []string        `json:"suspiciousKeywords"`
	Empty    bool            `json:"empty"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		rulesPath string
		filePath  string
		pretty    bool
	)

	cmd := &cobra.Command{
		Use:   "extract [text...]",
		Short: "Extract scam intelligence from text",
		Long: `Runs the same extractor the honeypot server uses and prints the
evidence as JSON. Text comes from the arguments, --file, or stdin.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd.InOrStdin(), args, filePath)
			if err != nil {
				return err
			}

			rules, err := intel.LoadRules(rulesPath)
			if err != nil {
				return fmt.Errorf("load rules: %w", err)
			}
			x := intel.New(rules)

			ev := x.Extract(text)
			res := result{
				Evidence: ev,
				Keywords: x.Keywords(text),
				Empty:    ev.IsEmpty(),
			}
			if res.Keywords == nil {
				res.Keywords = []string{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", os.Getenv("EXTRACTOR_RULES_PATH"), "YAML rules file (defaults to built-in rules)")
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "read text from file instead of arguments")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON output")
	return cmd
}

func readInput(stdin io.Reader, args []string, filePath string) (string, error) {
	switch {
	case filePath != "":
		b, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", filePath, err)
		}
		return string(b), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	default:
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
}
