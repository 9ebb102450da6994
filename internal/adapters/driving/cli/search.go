package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

var (
	searchLimit         int
	searchMinSimilarity float64
	searchJSON          bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Retrieve knowledge base passages for a query",
	Long: `Embeds the query and returns the most similar indexed chunks,
highest similarity first. Finding nothing above the threshold is not an error.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of chunks (default from config)")
	searchCmd.Flags().Float64Var(&searchMinSimilarity, "min-similarity", -1, "minimum similarity in [0,1] (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	if retrievalService == nil {
		return errors.New("retrieval service not configured")
	}

	limit, minSim := retrievalDefaults()
	if searchLimit > 0 {
		limit = searchLimit
	}
	if searchMinSimilarity >= 0 {
		minSim = searchMinSimilarity
	}

	results, err := retrievalService.Retrieve(cmd.Context(), query, limit, minSim)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputSearchJSON(cmd, results)
	}

	outputSearchTable(cmd, results)
	return nil
}

type searchResultJSON struct {
	ContentType string  `json:"content_type"`
	ContentID   string  `json:"content_id"`
	ChunkIndex  int     `json:"chunk_index"`
	Title       string  `json:"title,omitempty"`
	URL         string  `json:"url,omitempty"`
	Similarity  float64 `json:"similarity"`
	Text        string  `json:"text"`
}

func outputSearchJSON(cmd *cobra.Command, results []domain.RetrievalResult) error {
	out := make([]searchResultJSON, len(results))
	for i := range results {
		r := &results[i]
		out[i] = searchResultJSON{
			ContentType: string(r.ContentType),
			ContentID:   r.ContentID,
			ChunkIndex:  r.ChunkIndex,
			Title:       r.Title(),
			URL:         r.URL(),
			Similarity:  r.Similarity,
			Text:        r.Text,
		}
	}
	return printJSON(cmd, out)
}

// snippetLen is the number of runes of chunk text shown per result.
const snippetLen = 160

func outputSearchTable(cmd *cobra.Command, results []domain.RetrievalResult) {
	if len(results) == 0 {
		cmd.Println("No relevant content found.")
		return
	}

	cmd.Println("Results:")
	cmd.Println()
	for i := range results {
		r := &results[i]
		// Format: [N] Title (Similarity)
		title := r.Title()
		if title == "" {
			title = r.ContentID
		}

		cmd.Printf("  [%d] %s (%.2f)\n", i+1, title, r.Similarity)
		cmd.Printf("      %s/%s #%d\n", r.ContentType, r.ContentID, r.ChunkIndex)
		if u := r.URL(); u != "" {
			cmd.Printf("      %s\n", u)
		}
		cmd.Printf("      %s\n", snippet(r.Text, snippetLen))
		cmd.Println()
	}
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
