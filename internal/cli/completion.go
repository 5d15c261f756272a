package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tasksync/backend"
)

// TaskIDCompletion completes task ids from store, with titles as descriptions
func TaskIDCompletion(store func() backend.Store) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		s := store()
		if s == nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		tasks, err := s.List(ctx)
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}

		var completions []string
		for _, t := range tasks {
			if strings.HasPrefix(t.ID, toComplete) {
				completions = append(completions, t.ID+"\t"+t.Title)
			}
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	}
}

// StaticCompletion completes from a fixed set of words
func StaticCompletion(words ...string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var completions []string
		for _, w := range words {
			if strings.HasPrefix(w, strings.ToLower(toComplete)) {
				completions = append(completions, w)
			}
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	}
}
