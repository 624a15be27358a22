package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/repograph/internal/knowledge"
)

var (
	addName       string
	searchLimit   int
	searchRepo    string
	searchContext bool
	wipeYes       bool
)

func init() {
	addCmd.Flags().StringVar(&addName, "name", "", "custom repository name (defaults to the source basename)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	searchCmd.Flags().StringVar(&searchRepo, "repo", "", "restrict results to one repository")
	searchCmd.Flags().BoolVar(&searchContext, "context", false, "group results by repository, ranked by mean score")
	wipeCmd.Flags().BoolVar(&wipeYes, "yes", false, "skip the confirmation prompt")
}

var addCmd = &cobra.Command{
	Use:   "add <source>",
	Short: "Index a repository",
	Long: `Index a repository into the knowledge base.

The source can be a local directory or a remote git URL. Remote sources
are cloned under the configured repos directory.

Examples:
  repograph add ~/projects/my-service
  repograph add --name billing ~/other/src
  repograph add https://github.com/owner/repo`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.graph.AddRepository(cmd.Context(), args[0], addName)
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %s: %d files (artifact: %s)\n", result.Name, result.FilesIndexed, result.ArtifactPath)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		infos := a.graph.ListRepositories()
		if len(infos) == 0 {
			fmt.Println("No repositories indexed.")
			return nil
		}
		for _, info := range infos {
			kind := "local"
			if info.IsRemote {
				kind = "remote"
			}
			fmt.Printf("%-30s %-6s %5d files  indexed %s\n",
				info.Name, kind, info.FilesProcessed,
				info.ProcessedAt.Local().Format(time.RFC3339))
		}
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Re-index a repository from its recorded source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.graph.UpdateRepository(cmd.Context(), args[0])
		if err != nil {
			if errors.Is(err, knowledge.ErrRepoNotFound) {
				return fmt.Errorf("repository %q is not indexed (see: repograph list)", args[0])
			}
			return err
		}
		fmt.Printf("Updated %s: %d files\n", result.Name, result.FilesIndexed)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a repository from the knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.graph.RemoveRepository(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !removed {
			fmt.Printf("Repository %q was not indexed.\n", args[0])
			return nil
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed repositories",
	Long: `Search indexed repositories with a natural-language query.

Examples:
  repograph search "http retry logic"
  repograph search --repo my-service "database migrations"
  repograph search --context "authentication middleware"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		query := strings.Join(args, " ")
		if searchContext {
			return runContextSearch(cmd.Context(), a, query)
		}

		results, err := a.graph.Search(cmd.Context(), query, searchLimit, searchRepo)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No results.")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%.3f  %s/%s\n", r.Score, r.RepoName, r.Path)
		}
		return nil
	},
}

func runContextSearch(ctx context.Context, a *app, query string) error {
	groups, err := a.graph.SearchWithContext(ctx, query, searchLimit)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for _, group := range groups {
		fmt.Printf("%s (mean score %.3f)\n", group.RepoName, group.MeanScore)
		for _, f := range group.Files {
			fmt.Printf("  %.3f  %s\n", f.Score, f.Path)
		}
	}
	return nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report := a.graph.Stats(cmd.Context())

		fmt.Printf("Repositories: %d\n", len(report.Repositories))
		fmt.Printf("Total files:  %d\n", report.TotalFiles)
		fmt.Printf("Total size:   %.3f MB\n", report.TotalSizeMB)
		if report.VectorStore != nil {
			fmt.Printf("Vector store: %s, %d documents, dim %d (%s)\n",
				report.VectorStore.Backend,
				report.VectorStore.TotalDocuments,
				report.VectorStore.VectorDimension,
				report.VectorStore.DistanceMetric)
		} else {
			fmt.Printf("Vector store: unavailable (%s)\n", report.VectorStoreError)
		}

		for _, repo := range report.Repositories {
			fmt.Printf("\n%s: %d files, %.3f MB\n", repo.Name, repo.FileCount, repo.SizeMB)
			exts := make([]string, 0, len(repo.Languages))
			for ext := range repo.Languages {
				exts = append(exts, ext)
			}
			sort.Strings(exts)
			for _, ext := range exts {
				fmt.Printf("  %-8s %d\n", ext, repo.Languages[ext])
			}
		}
		return nil
	},
}

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete all indexed content",
	Long: `Delete all indexed content: vector documents, artifacts and the
ledger. Cloned repositories on disk are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !wipeYes {
			fmt.Print("This deletes all indexed content. Continue? [y/N] ")
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			if strings.ToLower(strings.TrimSpace(answer)) != "y" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.graph.Wipe(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Knowledge base wiped.")
		return nil
	},
}
