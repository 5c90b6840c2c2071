package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/lifecycle"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/storage"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/upvote"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTrendingLimit = 6
	launchDateLayout     = "2006-01-02"
)

var errMissingFlag = errors.New("missing required flag")

func newRootCommand(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "launchleap",
		Short:         "Discover, submit and upvote tools on LaunchLeap",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadConfig()
		},
	}
	rootCmd.SetOut(c.out)
	rootCmd.SetErr(c.errOut)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "Path to configuration file")
	flags.String("api-url", c.viper.GetString("api.url"), "LaunchLeap API base URL")
	flags.String("session-path", "", "Where the signed-in session is stored")
	flags.String("callback-address", c.viper.GetString("callback.address"), "Loopback address receiving the sign-in redirect")
	flags.String("log-level", c.viper.GetString("log.level"), "Log level (debug, info, warn, error)")
	c.bindFlag(rootCmd, "api.url", "api-url")
	c.bindFlag(rootCmd, "session.path", "session-path")
	c.bindFlag(rootCmd, "callback.address", "callback-address")
	c.bindFlag(rootCmd, "log.level", "log-level")

	rootCmd.AddCommand(
		newLoginCommand(c),
		newLogoutCommand(c),
		newWhoamiCommand(c),
		newProfileCommand(c),
		newToolsCommand(c),
		newUpvoteCommand(c),
		newSessionCommand(c),
	)
	return rootCmd
}

func (c *cli) bindFlag(cmd *cobra.Command, key, flag string) {
	if err := c.viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func newLoginCommand(c *cli) *cobra.Command {
	var idToken string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with Google",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				var err error
				if strings.TrimSpace(idToken) != "" {
					err = s.client.Auth.SignInWithIDToken(ctx, idToken)
				} else {
					err = s.manager.SignInWithGoogle(ctx)
				}
				if err != nil {
					return err
				}
				if _, err := s.navigator.await(ctx, navigationSettleTimeout); err != nil {
					return err
				}
				state := s.manager.State()
				if state.User == nil {
					return lifecycle.ErrUnauthenticated
				}
				fmt.Fprintf(c.out, "Signed in as %s\n", displayName(*state.User))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&idToken, "id-token", "", "Sign in with a Google ID token instead of the browser")
	return cmd
}

func newLogoutCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				if err := s.manager.SignOut(ctx); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "Signed out")
				return nil
			})
		},
	}
}

func newWhoamiCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				renderState(c.out, s.manager.State(), c.now())
				return nil
			})
		},
	}
}

func newProfileCommand(c *cli) *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit profiles",
	}

	showCmd := &cobra.Command{
		Use:   "show [username]",
		Short: "Show a profile, yours when no username is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				if len(args) == 1 {
					profile, err := s.manager.OpenProfile(ctx, args[0])
					if err != nil {
						return err
					}
					renderProfile(c.out, profile, c.now())
					return nil
				}
				state := s.manager.State()
				if state.User == nil {
					return lifecycle.ErrUnauthenticated
				}
				if state.Profile == nil {
					c.notify("Your profile is not set up yet.")
					c.notify("next: %s", commandForRoute(lifecycle.RouteProfileSetup))
					return nil
				}
				renderProfile(c.out, *state.Profile, c.now())
				return nil
			})
		},
	}

	var edit profileEdit
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Update your profile; an empty value clears a field other than the username",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			update, err := edit.build(cmd)
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, s *session) error {
				profile, err := s.manager.UpdateProfile(ctx, update)
				if err != nil {
					return err
				}
				c.notify("Profile updated")
				renderProfile(c.out, profile, c.now())
				c.notify("next: %s", commandForRoute(routeAfterProfileSave(profile)))
				return nil
			})
		},
	}
	updateCmd.Flags().StringVar(&edit.username, "username", "", "Public username")
	updateCmd.Flags().StringVar(&edit.tagline, "tagline", "", "One line about you")
	updateCmd.Flags().StringVar(&edit.bio, "bio", "", "Longer introduction")
	updateCmd.Flags().StringVar(&edit.avatarURL, "avatar-url", "", "Avatar image URL")

	profileCmd.AddCommand(showCmd, updateCmd)
	return profileCmd
}

func newToolsCommand(c *cli) *cobra.Command {
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Browse and manage tools",
	}

	var query backend.ToolQuery
	var mine bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				if mine {
					state := s.manager.State()
					if state.User == nil {
						return lifecycle.ErrUnauthenticated
					}
					query.OwnerID = state.User.ID
				}
				tools, err := s.client.Tools.List(ctx, query)
				if err != nil {
					return err
				}
				renderTools(c.out, tools, c.now())
				return nil
			})
		},
	}
	listCmd.Flags().StringVar(&query.Search, "search", "", "Match title or description")
	listCmd.Flags().StringVar(&query.Pricing, "pricing", "", "Filter by pricing (free, paid)")
	listCmd.Flags().StringVar(&query.Sort, "sort", "", "Order (upvotes, newest, launch)")
	listCmd.Flags().IntVar(&query.Limit, "limit", 0, "Maximum number of tools")
	listCmd.Flags().IntVar(&query.Offset, "offset", 0, "Tools to skip")
	listCmd.Flags().BoolVar(&mine, "mine", false, "Only tools you submitted")

	var trendingLimit int
	trendingCmd := &cobra.Command{
		Use:   "trending",
		Short: "Show the most upvoted tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				tools, err := s.client.Tools.Trending(ctx, trendingLimit)
				if err != nil {
					return err
				}
				renderTools(c.out, tools, c.now())
				return nil
			})
		},
	}
	trendingCmd.Flags().IntVar(&trendingLimit, "limit", defaultTrendingLimit, "Number of tools")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolID, err := parseToolID(args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, s *session) error {
				tool, err := s.client.Tools.Get(ctx, toolID)
				if err != nil {
					return err
				}
				renderTool(c.out, tool, c.now())
				return nil
			})
		},
	}

	var submission toolSubmission
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a tool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			newTool, err := submission.build(cmd)
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, s *session) error {
				if s.manager.State().User == nil {
					return lifecycle.ErrUnauthenticated
				}
				if submission.logoPath != "" {
					logoURL, err := c.uploadLogo(ctx, s, submission.logoPath)
					if err != nil {
						return err
					}
					newTool.LogoURL = &logoURL
				}
				tool, err := s.client.Tools.Create(ctx, newTool)
				if err != nil {
					return err
				}
				c.notify("Tool submitted")
				renderTool(c.out, tool, c.now())
				return nil
			})
		},
	}
	submitCmd.Flags().StringVar(&submission.title, "title", "", "Tool name")
	submitCmd.Flags().StringVar(&submission.description, "description", "", "What the tool does")
	submitCmd.Flags().StringVar(&submission.url, "url", "", "Tool website")
	submitCmd.Flags().StringVar(&submission.launchDate, "launch-date", "", "Launch date (YYYY-MM-DD)")
	submitCmd.Flags().BoolVar(&submission.paid, "paid", false, "The tool is paid")
	submitCmd.Flags().StringVar(&submission.logoPath, "logo", "", "Logo image to upload")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a tool you submitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolID, err := parseToolID(args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, s *session) error {
				if err := s.client.Tools.Delete(ctx, toolID); err != nil {
					return err
				}
				c.notify("Tool %d deleted", toolID)
				return nil
			})
		},
	}

	toolsCmd.AddCommand(listCmd, trendingCmd, showCmd, submitCmd, deleteCmd)
	return toolsCmd
}

func newUpvoteCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "upvote <id>",
		Short: "Toggle your upvote on a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolID, err := parseToolID(args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, s *session) error {
				request := upvote.Request{ToolID: toolID}
				if user := s.manager.State().User; user != nil {
					request.UserID = user.ID
					tool, err := s.client.Tools.Get(ctx, toolID)
					if err != nil {
						return err
					}
					request.CurrentlyUpvoted = tool.IsUpvoted
					request.Count = tool.UpvotesCount
				}
				result, err := s.toggler.Toggle(ctx, request)
				if err != nil {
					return err
				}
				renderUpvote(c.out, toolID, result)
				return nil
			})
		},
	}
}

func newSessionCommand(c *cli) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect the signed-in session",
	}
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow sign-ins, sign-outs and profile changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWith(cmd, true, func(ctx context.Context, s *session) error {
				return c.watchSession(ctx, s)
			})
		},
	}
	sessionCmd.AddCommand(watchCmd)
	return sessionCmd
}

// watchSession prints every state change. While signed in it also follows the
// backend event stream, reconnecting after each sign-in.
func (c *cli) watchSession(ctx context.Context, s *session) error {
	states, stop := s.manager.Watch()
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var lastPhase lifecycle.Phase
		var lastToken string
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case state, open := <-states:
				if !open {
					return nil
				}
				if state.Phase == lifecycle.PhaseInitializing {
					continue
				}
				token := ""
				if state.Session != nil {
					token = state.Session.AccessToken
				}
				if state.Phase == lastPhase && token == lastToken {
					continue
				}
				lastPhase, lastToken = state.Phase, token
				renderTransition(c.out, state, c.now())
			}
		}
	})
	group.Go(func() error {
		for {
			if s.manager.State().Authenticated() {
				if err := s.client.Auth.StreamEvents(groupCtx); err != nil && !errors.Is(err, backend.ErrUnauthorized) {
					s.logger.Warn("event stream ended", zap.Error(err))
				}
			}
			select {
			case <-groupCtx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	})
	return group.Wait()
}

type profileEdit struct {
	username  string
	tagline   string
	bio       string
	avatarURL string
}

func (e profileEdit) build(cmd *cobra.Command) (backend.ProfileUpdate, error) {
	update := backend.ProfileUpdate{
		Username:  changedString(cmd, "username", e.username),
		Tagline:   changedString(cmd, "tagline", e.tagline),
		Bio:       changedString(cmd, "bio", e.bio),
		AvatarURL: changedString(cmd, "avatar-url", e.avatarURL),
	}
	if update.Empty() {
		return backend.ProfileUpdate{}, fmt.Errorf("%w: pass at least one of --username, --tagline, --bio, --avatar-url", errMissingFlag)
	}
	if update.Username != nil && *update.Username == "" {
		return backend.ProfileUpdate{}, fmt.Errorf("%w: username required", backend.ErrInvalid)
	}
	return update, nil
}

// routeAfterProfileSave is the page a saved profile leads to.
func routeAfterProfileSave(profile backend.Profile) string {
	if profile.Username == nil || *profile.Username == "" {
		return lifecycle.RouteHome
	}
	return lifecycle.ProfileRoute(*profile.Username)
}

type toolSubmission struct {
	title       string
	description string
	url         string
	launchDate  string
	paid        bool
	logoPath    string
}

func (t toolSubmission) build(cmd *cobra.Command) (backend.NewTool, error) {
	required := []struct {
		flag  string
		value string
	}{
		{flag: "--title", value: t.title},
		{flag: "--description", value: t.description},
		{flag: "--url", value: t.url},
	}
	missing := make([]string, 0, len(required))
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.flag)
		}
	}
	if len(missing) > 0 {
		return backend.NewTool{}, fmt.Errorf("%w: %s", errMissingFlag, strings.Join(missing, ", "))
	}

	newTool := backend.NewTool{
		Title:       strings.TrimSpace(t.title),
		Description: strings.TrimSpace(t.description),
		URL:         strings.TrimSpace(t.url),
	}
	if cmd.Flags().Changed("paid") {
		paid := t.paid
		newTool.IsPaid = &paid
	}
	if strings.TrimSpace(t.launchDate) != "" {
		launch, err := time.Parse(launchDateLayout, strings.TrimSpace(t.launchDate))
		if err != nil {
			return backend.NewTool{}, fmt.Errorf("%w: launch date must be YYYY-MM-DD", backend.ErrInvalid)
		}
		newTool.LaunchDate = &launch
	}
	return newTool, nil
}

// uploadLogo stores the image in the logos bucket and returns its public URL.
func (c *cli) uploadLogo(ctx context.Context, s *session, logoPath string) (string, error) {
	data, err := afero.ReadFile(c.fs, logoPath)
	if err != nil {
		return "", fmt.Errorf("reading logo: %w", err)
	}
	key := storage.NewObjectKey(filepath.Ext(logoPath))
	storedKey, err := s.client.Storage.Upload(ctx, storage.BucketLogos, key, data)
	if err != nil {
		return "", err
	}
	return s.client.Storage.PublicURL(storage.BucketLogos, storedKey), nil
}

func changedString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	trimmed := strings.TrimSpace(value)
	return &trimmed
}

func parseToolID(raw string) (uint64, error) {
	toolID, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || toolID == 0 {
		return 0, fmt.Errorf("%w: %q is not a tool id", backend.ErrInvalid, raw)
	}
	return toolID, nil
}
