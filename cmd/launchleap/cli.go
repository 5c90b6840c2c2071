package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/apiclient"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/config"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/lifecycle"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/logging"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/upvote"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const navigationSettleTimeout = 15 * time.Second

// cli holds what every command shares: configuration sources and output streams.
type cli struct {
	viper      *viper.Viper
	cfgFile    string
	out        io.Writer
	errOut     io.Writer
	fs         afero.Fs
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
	openURL    func(string) error
}

func newCLI(out, errOut io.Writer) *cli {
	configViper := viper.New()
	config.ApplyClientDefaults(configViper)
	c := &cli{
		viper:  configViper,
		out:    out,
		errOut: errOut,
		fs:     afero.NewOsFs(),
		now:    time.Now,
	}
	c.openURL = c.openInBrowser
	return c
}

// session is one command's view of the backend.
type session struct {
	cfg       config.ClientConfig
	logger    *zap.Logger
	client    *apiclient.Client
	manager   *lifecycle.Manager
	navigator *hintNavigator
	toggler   *upvote.Toggler
	ownLogger bool
}

func (c *cli) loadConfig() error {
	if c.cfgFile != "" {
		c.viper.SetConfigFile(c.cfgFile)
		if err := c.viper.ReadInConfig(); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) open(ctx context.Context, watch bool) (*session, error) {
	cfg, err := config.LoadClient(c.viper)
	if err != nil {
		return nil, err
	}

	logger, ownLogger := c.logger, false
	if logger == nil {
		logger, err = logging.NewLoggerWithEncoding(cfg.LogLevel, logging.EncodingConsole)
		if err != nil {
			return nil, err
		}
		ownLogger = true
	}

	store, err := apiclient.NewSessionStore(c.fs, cfg.SessionPath)
	if err != nil {
		return nil, err
	}
	client, err := apiclient.New(apiclient.Config{
		BaseURL:      cfg.APIURL,
		HTTPClient:   c.httpClient,
		SessionStore: store,
		OpenURL:      c.openURL,
		WatchSession: watch,
		Clock:        c.now,
		Logger:       logger.Named("api"),
	})
	if err != nil {
		return nil, err
	}

	navigator := newHintNavigator(c.errOut)
	manager, err := lifecycle.New(lifecycle.Config{
		Auth:        client.Auth,
		Profiles:    client.Profiles,
		Navigator:   navigator,
		RedirectURL: cfg.CallbackURL(),
		Logger:      logger.Named("lifecycle"),
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	if err := manager.Init(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return &session{
		cfg:       cfg,
		logger:    logger,
		client:    client,
		manager:   manager,
		navigator: navigator,
		toggler:   upvote.NewToggler(client.Upvotes, logger.Named("upvote")),
		ownLogger: ownLogger,
	}, nil
}

func (s *session) close() {
	s.manager.Dispose()
	s.client.Close()
	if s.ownLogger {
		_ = s.logger.Sync()
	}
}

// run opens a session for the duration of fn.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	return c.runWith(cmd, false, fn)
}

func (c *cli) runWith(cmd *cobra.Command, watch bool, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := c.open(ctx, watch)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func (c *cli) notify(format string, args ...any) {
	fmt.Fprintf(c.errOut, format+"\n", args...)
}

// openInBrowser prints the sign-in URL and tries the desktop's URL opener.
func (c *cli) openInBrowser(loginURL string) error {
	c.notify("Opening %s", loginURL)
	var opener *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		opener = exec.Command("open", loginURL)
	case "windows":
		opener = exec.Command("rundll32", "url.dll,FileProtocolHandler", loginURL)
	default:
		opener = exec.Command("xdg-open", loginURL)
	}
	if err := opener.Start(); err != nil {
		c.notify("Could not open a browser. Visit the URL above to continue.")
		return nil
	}
	go func() {
		_ = opener.Wait()
	}()
	return nil
}

var errNavigationTimeout = errors.New("timed out waiting for sign-in to settle")
