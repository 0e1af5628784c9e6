// cmd/graft/main.go
package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"graft/client"
	"graft/internal/api"
	"graft/internal/config"
	"graft/internal/logging"
	"graft/internal/repo"
	"graft/internal/worktree"
	shared "graft/shared/types"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "graft",
	Short: "Graft is a content-addressed commit-graph store",
	Long: `Graft stores replicated application state as a linear chain of
content-addressed commits. Branches, tags, and remote-tracking refs name
positions in the chain; semantic commits carry the full replicated state
inside the commit message.`,
}

// openRepo opens the repository at the working directory with the
// file-or-default config.
func openRepo() (*repo.LocalRepository, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	cfg, err := config.LoadOrDefault("")
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return repo.Open(dir, repo.Options{
		Config:    cfg,
		Logger:    zap.NewNop(),
		Transport: client.New(),
	})
}

// parseHash parses the 40-char hex boundary form.
func parseHash(arg string) (shared.CommitHash, error) {
	h, err := shared.ParseCommitHash(arg)
	if err != nil {
		return h, fmt.Errorf("parsing commit hash: %w", err)
	}
	return h, nil
}

// snapshotWorktree reads every file under the checkout root, excluding
// repository metadata, as the content of the next commit.
func snapshotWorktree(dir string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if rel == worktree.MetaDir || strings.HasPrefix(rel, worktree.MetaDir+string(filepath.Separator)) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		files[rel] = content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshotting working tree: %w", err)
	}
	return files, nil
}

func init() {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize a new Graft repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}
			cfg, err := config.LoadOrDefault("")
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			r, err := repo.Init(dir, repo.Options{Config: cfg, Logger: zap.NewNop()})
			if err != nil {
				return fmt.Errorf("initializing repository: %w", err)
			}
			defer r.Close()

			fmt.Println("Initialized empty Graft repository in", dir)
			return nil
		},
	}

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve this repository's refs to fetch peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault("")
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger, err := logging.NewLogger(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			defer logger.Sync()

			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}
			r, err := repo.Open(dir, repo.Options{
				Config:    cfg,
				Logger:    logger.Logger,
				Transport: client.New(),
			})
			if err != nil {
				return fmt.Errorf("opening repository: %w", err)
			}
			defer r.Close()

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			logger.Info("starting server", zap.String("address", addr))
			return http.ListenAndServe(addr, api.NewRouter(r, logger))
		},
	}

	var branchCmd = &cobra.Command{
		Use:   "branch [name] [commit]",
		Short: "List branches, or create one at a commit",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if len(args) == 0 {
				names, err := r.ListBranches()
				if err != nil {
					return err
				}
				for _, name := range names {
					tip, err := r.LocateBranch(name)
					if err != nil {
						return err
					}
					fmt.Printf("%s  %s\n", green(name), tip.Short())
				}
				return nil
			}
			if len(args) != 2 {
				return fmt.Errorf("branch creation requires a name and a commit hash")
			}
			commit, err := parseHash(args[1])
			if err != nil {
				return err
			}
			if err := r.CreateBranch(args[0], commit); err != nil {
				return err
			}
			fmt.Printf("Created branch %s at %s\n", green(args[0]), commit.Short())
			return nil
		},
	}

	var branchDeleteCmd = &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.DeleteBranch(args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted branch %s\n", red(args[0]))
			return nil
		},
	}
	branchCmd.AddCommand(branchDeleteCmd)

	var tagCmd = &cobra.Command{
		Use:   "tag [name] [commit]",
		Short: "List tags, or create one at a commit",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if len(args) == 0 {
				names, err := r.ListTags()
				if err != nil {
					return err
				}
				for _, name := range names {
					target, err := r.LocateTag(name)
					if err != nil {
						return err
					}
					fmt.Printf("%s  %s\n", yellow(name), target.Short())
				}
				return nil
			}
			if len(args) != 2 {
				return fmt.Errorf("tag creation requires a name and a commit hash")
			}
			commit, err := parseHash(args[1])
			if err != nil {
				return err
			}
			if err := r.CreateTag(args[0], commit); err != nil {
				return err
			}
			fmt.Printf("Created tag %s at %s\n", yellow(args[0]), commit.Short())
			return nil
		},
	}

	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show the commit chain from HEAD back to the root",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			head, err := r.GetHead()
			if err != nil {
				return err
			}
			chain := []shared.CommitHash{head}
			ancestors, err := r.ListAncestors(head, 0)
			if err == nil {
				chain = append(chain, ancestors...)
			}

			for _, h := range chain {
				commit, err := r.GetCommit(h)
				if err != nil {
					return err
				}
				title := commit.Message
				if i := strings.Index(title, "\n"); i >= 0 {
					title = title[:i]
				}
				fmt.Printf("%s  %s  %s\n", cyan(h.Short()),
					commit.Timestamp.Format("2006-01-02 15:04"), title)
			}
			return nil
		},
	}

	var showCmd = &cobra.Command{
		Use:   "show [commit]",
		Short: "Show a commit's diff against its parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			commit, err := parseHash(args[0])
			if err != nil {
				return err
			}
			out, err := r.ShowCommit(commit)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}

	var detach bool
	var checkoutCmd = &cobra.Command{
		Use:   "checkout [branch|commit]",
		Short: "Check out a branch, or a raw commit with --detach",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if detach {
				commit, err := parseHash(args[0])
				if err != nil {
					return err
				}
				if err := r.CheckoutDetach(commit); err != nil {
					return err
				}
				fmt.Printf("HEAD detached at %s\n", commit.Short())
				return nil
			}
			if err := r.Checkout(args[0]); err != nil {
				return err
			}
			fmt.Printf("Switched to branch %s\n", green(args[0]))
			return nil
		},
	}
	checkoutCmd.Flags().BoolVar(&detach, "detach", false, "check out a raw commit (detached HEAD)")

	var cleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "Reset tracked files and remove untracked files",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.CheckoutClean(); err != nil {
				return err
			}
			fmt.Println("Working tree clean")
			return nil
		},
	}

	var message string
	var commitCmd = &cobra.Command{
		Use:   "commit",
		Short: "Snapshot the working tree into a new commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("commit message is required (-m)")
			}
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}
			files, err := snapshotWorktree(dir)
			if err != nil {
				return err
			}
			hash, err := r.CreateCommit(message, files)
			if err != nil {
				return err
			}
			fmt.Printf("Created commit %s\n", cyan(hash.Short()))
			return nil
		},
	}
	commitCmd.Flags().StringVarP(&message, "message", "m", "", "commit message")

	var remoteCmd = &cobra.Command{
		Use:   "remote",
		Short: "Manage remote repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			remotes, err := r.ListRemotes()
			if err != nil {
				return err
			}
			for _, remote := range remotes {
				fmt.Printf("%s  %s\n", green(remote.Name), remote.URL)
			}
			return nil
		},
	}

	var remoteAddCmd = &cobra.Command{
		Use:   "add [name] [url]",
		Short: "Register a remote repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.AddRemote(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Added remote %s\n", green(args[0]))
			return nil
		},
	}

	var remoteRemoveCmd = &cobra.Command{
		Use:   "remove [name]",
		Short: "Unregister a remote repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.RemoveRemote(args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed remote %s\n", red(args[0]))
			return nil
		},
	}

	var remoteTrackingCmd = &cobra.Command{
		Use:   "tracking",
		Short: "List remote-tracking branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			tracking, err := r.ListRemoteTrackingBranches()
			if err != nil {
				return err
			}
			for _, entry := range tracking {
				fmt.Printf("%s/%s  %s\n", green(entry.Remote), entry.Branch, entry.Commit.Short())
			}
			return nil
		},
	}
	remoteCmd.AddCommand(remoteAddCmd, remoteRemoveCmd, remoteTrackingCmd)

	var fetchCmd = &cobra.Command{
		Use:   "fetch",
		Short: "Fetch branch tips from all remotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.FetchAll(context.Background()); err != nil {
				return err
			}
			fmt.Println("Fetch complete")
			return nil
		},
	}

	var gcCmd = &cobra.Command{
		Use:   "gc",
		Short: "Remove commits unreachable from any ref",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			removed, err := r.RunGarbageCollection()
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d unreachable commits\n", removed)
			return nil
		},
	}

	rootCmd.AddCommand(initCmd, serveCmd, branchCmd, tagCmd, logCmd, showCmd,
		checkoutCmd, cleanCmd, commitCmd, remoteCmd, fetchCmd, gcCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
