package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kayz/tavern/internal/logger"
	"github.com/kayz/tavern/internal/promptbuild"
)

var (
	generateRequestPath string
	generateOutputPath  string
	generateRaw         bool
	generateNoCommit    bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [input]",
	Short: "Assemble a prompt and run one generation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		var req promptbuild.Request
		switch {
		case generateRequestPath != "":
			reqBytes, err := os.ReadFile(generateRequestPath)
			if err != nil {
				return fmt.Errorf("read request: %w", err)
			}
			if err := json.Unmarshal(reqBytes, &req); err != nil {
				return fmt.Errorf("parse request: %w", err)
			}
		case len(args) == 1:
			req.UserInput = args[0]
		default:
			return fmt.Errorf("either an input argument or --request is required")
		}

		ctx := cmd.Context()
		rt, err := buildRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		var out string
		if generateRaw {
			out, err = rt.exec.GenerateRaw(ctx, req.UserInput, false)
		} else {
			out, err = rt.exec.Generate(ctx, req)
		}
		if err != nil {
			return err
		}

		if !generateRaw && !generateNoCommit && req.UserInput != "" {
			if err := commitTurn(cmd, rt, req.UserInput, out); err != nil {
				logger.Warn("record turn failed: %v", err)
			}
		}

		if generateOutputPath == "" {
			fmt.Println(out)
			return nil
		}
		if err := os.WriteFile(generateOutputPath, []byte(out), 0644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		return nil
	},
}

// commitTurn appends the exchanged turns to the active chat so the next
// generation sees them as history.
func commitTurn(cmd *cobra.Command, rt *runtime, input, reply string) error {
	ctx := cmd.Context()
	if err := rt.active.Append(ctx, promptbuild.RolePrompt{Role: promptbuild.RoleUser, Content: input}); err != nil {
		return err
	}
	return rt.active.Append(ctx, promptbuild.RolePrompt{Role: promptbuild.RoleAssistant, Content: reply})
}

func init() {
	generateCmd.Flags().StringVar(&generateRequestPath, "request", "", "Path to JSON request file")
	generateCmd.Flags().StringVar(&generateOutputPath, "output", "", "Write output to file (default: stdout)")
	generateCmd.Flags().BoolVar(&generateRaw, "raw", false, "Send the input verbatim, skipping assembly")
	generateCmd.Flags().BoolVar(&generateNoCommit, "no-commit", false, "Do not append the exchange to chat history")
	rootCmd.AddCommand(generateCmd)
}
