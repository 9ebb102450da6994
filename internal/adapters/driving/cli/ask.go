package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driving"
)

var (
	askStore  string
	askPage   string
	askLocale string
	askJSON   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the knowledge base",
	Long: `Retrieves relevant content, assembles a prompt and asks the configured
generation provider. When nothing relevant is indexed the provider is told
to decline rather than guess, and the answer is marked as a fallback.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askStore, "store", "", "store name used in the prompt")
	askCmd.Flags().StringVar(&askPage, "page", "", "URL of the page the question was asked on")
	askCmd.Flags().StringVar(&askLocale, "locale", "", "preferred answer language, e.g. en-GB")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	if answerService == nil {
		return fmt.Errorf("answer service not configured: %w", domain.ErrGenerationUnavailable)
	}

	answer, err := answerService.Ask(cmd.Context(), driving.AskRequest{
		Query: strings.Join(args, " "),
		Context: domain.CallerContext{
			StoreName: askStore,
			PageURL:   askPage,
			Locale:    askLocale,
		},
	})
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if askJSON {
		return printJSON(cmd, answer)
	}

	cmd.Println(strings.TrimSpace(answer.Text))
	if answer.Fallback {
		cmd.Println()
		cmd.Println("(No matching store content was found.)")
		return nil
	}
	if len(answer.Citations) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for i, c := range answer.Citations {
			label := c.Title
			if label == "" {
				label = string(c.ContentType) + "/" + c.ContentID
			}
			if c.URL != "" {
				cmd.Printf("  [%d] %s - %s\n", i+1, label, c.URL)
			} else {
				cmd.Printf("  [%d] %s\n", i+1, label)
			}
		}
	}
	return nil
}
