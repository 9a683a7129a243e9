package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jrsteele09/autopost-client/internal/config"
	"github.com/jrsteele09/autopost-client/oauthmodel"
	"github.com/jrsteele09/autopost-client/posts"
	"github.com/spf13/cobra"
)

type appKey struct{}

func appFrom(cmd *cobra.Command) *app {
	return cmd.Context().Value(appKey{}).(*app)
}

// rootCmd builds the command tree. The app opened for the invocation is kept in
// *opened so the caller can close it whatever the outcome.
func rootCmd(opened **app) *cobra.Command {
	var quiet, showMetrics bool
	root := &cobra.Command{
		Use:           "autopost",
		Short:         "Command line client for the Autopost scheduling service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.New()
			if !quiet {
				displayAppname(cfg.GetAppName())
			}
			a, err := newApp(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			*opened = a
			ctx := context.WithValue(cmd.Context(), appKey{}, a)
			a.session.Init(ctx)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if !showMetrics {
				return nil
			}
			return appFrom(cmd).printMetrics()
		},
	}
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "do not print the banner")
	root.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "print request and refresh counters after the command")
	root.SetContext(context.Background())

	root.AddCommand(
		loginCmd(),
		registerCmd(),
		logoutCmd(),
		whoamiCmd(),
		postsCmd(),
		statsCmd(),
		accountsCmd(),
		callbackCmd(),
	)
	return root
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <username> <password>",
		Short: "Sign in with a username and password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			user, err := a.session.Login(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Signed in as %s\n", user.DisplayName())
			return nil
		},
	}
}

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <username> <email> <password>",
		Short: "Create an account and sign in",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			user, err := a.session.Register(cmd.Context(), oauthmodel.RegisterRequest{
				Username:  args[0],
				Email:     args[1],
				Password:  args[2],
				Password2: args[2],
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Registered %s\n", user.Username)
			return nil
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credentials",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			a := appFrom(cmd)
			a.session.Logout(cmd.Context())
			fmt.Fprintln(a.out, "Signed out")
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			user := a.session.User()
			if user == nil {
				return errors.New("not signed in")
			}
			fmt.Fprintf(a.out, "%s <%s> (id %d)\n", user.DisplayName(), user.Email, user.ID)
			return nil
		},
	}
}

func postsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Manage scheduled posts",
	}

	var filter posts.ListFilter
	var platform, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			filter.Platform = posts.Platform(platform)
			filter.Status = posts.Status(status)
			page, err := a.client.ListPosts(cmd.Context(), filter)
			if err != nil {
				return err
			}
			for _, p := range page.Results {
				printPost(a, p)
			}
			fmt.Fprintf(a.out, "%d of %d\n", len(page.Results), page.Count)
			return nil
		},
	}
	list.Flags().StringVar(&platform, "platform", "", "only posts for this platform")
	list.Flags().StringVar(&status, "status", "", "only posts with this status")
	list.Flags().StringVar(&filter.Search, "search", "", "search the post content")
	list.Flags().StringVar(&filter.Ordering, "ordering", "", "sort field, prefix with - to reverse")
	list.Flags().IntVar(&filter.Page, "page", 1, "page number")

	var input posts.Input
	var when string
	create := &cobra.Command{
		Use:   "create <platform> <content>",
		Short: "Schedule a post",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			input.Platform = posts.Platform(args[0])
			input.Content = args[1]
			if when != "" {
				t, err := time.Parse(time.RFC3339, when)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				input.ScheduledTime = &t
			}
			p, err := a.client.CreatePost(cmd.Context(), input)
			if err != nil {
				return err
			}
			printPost(a, *p)
			return nil
		},
	}
	create.Flags().StringVar(&when, "at", "", "scheduled time (RFC 3339)")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one post",
		Args:  cobra.ExactArgs(1),
		RunE: withPostID(func(cmd *cobra.Command, a *app, id int64) error {
			p, err := a.client.GetPost(cmd.Context(), id)
			if err != nil {
				return err
			}
			printPost(a, *p)
			return nil
		}),
	}

	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending post",
		Args:  cobra.ExactArgs(1),
		RunE: withPostID(func(cmd *cobra.Command, a *app, id int64) error {
			if _, err := a.client.CancelPost(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Cancelled post %d\n", id)
			return nil
		}),
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a post",
		Args:  cobra.ExactArgs(1),
		RunE: withPostID(func(cmd *cobra.Command, a *app, id int64) error {
			if err := a.client.DeletePost(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted post %d\n", id)
			return nil
		}),
	}

	cmd.AddCommand(list, create, get, cancel, del)
	return cmd
}

func withPostID(fn func(cmd *cobra.Command, a *app, id int64) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		return fn(cmd, appFrom(cmd), id)
	}
}

func printPost(a *app, p posts.Post) {
	fmt.Fprintf(a.out, "#%d %-9s %-9s %s  %s\n",
		p.ID, p.Platform, p.Status, p.ScheduledTime.Local().Format(time.DateTime), p.Content)
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show post counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			s, err := a.client.PostStats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "total %d  pending %d  posted %d  failed %d  cancelled %d\n",
				s.Total, s.Pending, s.Posted, s.Failed, s.Cancelled)
			for _, p := range posts.Platforms {
				fmt.Fprintf(a.out, "  %-9s %d\n", p, s.ByPlatform[p])
			}
			return nil
		},
	}
}

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage connected social accounts",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List connected accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			accounts, err := a.client.ListSocialAccounts(cmd.Context())
			if err != nil {
				return err
			}
			for _, acc := range accounts {
				fmt.Fprintf(a.out, "#%d %-9s %s active=%t\n", acc.ID, acc.Platform, acc.PlatformUsername, acc.IsActive)
			}
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the connection status of every platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			statuses, err := a.client.SocialAccountStatus(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range posts.Platforms {
				s := statuses[p]
				fmt.Fprintf(a.out, "%-9s connected=%t active=%t\n", p, s.IsConnected, s.IsActive)
			}
			return nil
		},
	}

	connect := &cobra.Command{
		Use:   "connect <platform>",
		Short: "Start connecting a platform account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			resp, err := a.client.ConnectSocialAccount(cmd.Context(), posts.Platform(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Open %s to authorise the account\n", resp.AuthURL)
			return nil
		},
	}

	disconnect := &cobra.Command{
		Use:   "disconnect <id>",
		Short: "Disconnect an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			if err := a.client.DisconnectSocialAccount(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Disconnected account %d\n", id)
			return nil
		},
	}

	cmd.AddCommand(list, status, connect, disconnect)
	return cmd
}

func callbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "callback <address>",
		Short: "Complete a third party sign in from the address the browser landed on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			u, err := url.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid address: %w", err)
			}
			outcome := a.reconciler.Reconcile(cmd.Context(), u)
			if outcome.OK() {
				fmt.Fprintf(a.out, "Signed in with %s as %s\n", outcome.Provider, outcome.User.DisplayName())
				return nil
			}
			fmt.Fprintln(cmd.ErrOrStderr(), outcome.Message)
			if outcome.Redirect != nil {
				<-outcome.Redirect.Done()
			}
			return outcome.Err
		},
	}
}
