package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/client/api"
	"github.com/dmitrijs2005/gophchat/internal/client/cache"
	"github.com/dmitrijs2005/gophchat/internal/client/config"
	"github.com/dmitrijs2005/gophchat/internal/client/models"
	"github.com/dmitrijs2005/gophchat/internal/client/objects"
	"github.com/dmitrijs2005/gophchat/internal/client/presence"
	"github.com/dmitrijs2005/gophchat/internal/client/session"
	"github.com/dmitrijs2005/gophchat/internal/client/transport"
	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/google/uuid"
)

// sessionView is the part of *session.Controller the commands use.
type sessionView interface {
	Open(ctx context.Context, channel string) error
	Close(ctx context.Context) error
	LoadOlder(ctx context.Context) (bool, error)
	SendText(ctx context.Context, text string) error
	SendFile(ctx context.Context, name, mime string, data []byte) (string, error)
	Search(ctx context.Context, term string) ([]models.Message, error)
	JumpTo(ctx context.Context, target models.Message) (bool, error)
	Messages() []models.Message
	Groups() []models.MessageGroup
	Channel() models.Channel
	State() session.State
	Err() error
	HasMore() bool
}

// channelList is the part of *presence.Tracker the commands use.
type channelList interface {
	Load(ctx context.Context, query string) error
	Search(ctx context.Context, query string)
	Channels() []models.Channel
	Presence(channel string) (models.Presence, bool)
	Err() error
}

type App struct {
	api      api.Client
	session  sessionView
	channels channelList
	history  *cache.SearchHistory
	self     string
	logger   logging.Logger

	in  io.Reader
	out io.Writer
	now func() time.Time

	results []models.Message // last search results, for jump
	closers []func(ctx context.Context) error
	run     func(ctx context.Context) error

	// mu guards the live notice state and serialises notice output.
	mu         sync.Mutex
	shownIn    string // channel whose messages were last rendered
	shownSeq   uint64 // Seq of the newest rendered message, 0 if none
	unreadSeen map[string]int
}

// NewApp builds every collaborator described by cfg. The transport identity
// comes from the backend's transport auth endpoint.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	a := &App{logger: logger, in: os.Stdin, out: os.Stdout, now: time.Now}

	httpClient := &http.Client{}
	client, err := api.NewHTTPClient(api.Options{
		BaseURL:    cfg.APIBaseURL,
		Tokens:     api.StaticToken(cfg.AccessToken),
		Timeout:    cfg.RequestTimeout,
		Retries:    apiRetries(cfg.RequestRetries),
		HTTPClient: httpClient,
		Logger:     logger.With("component", "api"),
	})
	if err != nil {
		return nil, err
	}
	a.api = client

	auth, err := client.TransportAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport auth: %w", err)
	}
	a.self = auth.ClientID

	hub, err := transport.NewHub(ctx, newBus(cfg, auth, logger), auth.ClientID, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return hub.Close() })

	store, err := newObjectStore(ctx, cfg, httpClient)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	kv, err := newCache(ctx, cfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.wire(cfg, hub, store, kv)
	return a, nil
}

// wire builds the presence tracker and the session controller over hub and
// registers the live notice listeners. a.api and a.self must be set.
func (a *App) wire(cfg *config.Config, hub *transport.Hub, store objects.Store, kv cache.Store) {
	a.history = cache.NewSearchHistory(kv)
	a.onClose(func(ctx context.Context) error {
		return errors.Join(kv.Clear(ctx), kv.Close())
	})

	tracker := presence.NewTracker(a.api, hub, presence.Options{
		Self:     a.self,
		Debounce: cfg.SearchDebounce,
		Logger:   a.logger,
	})
	a.channels = tracker
	a.onClose(tracker.Close)

	ctrl := session.NewController(a.api, hub, store, session.Options{
		MaxChunkBytes:  cfg.MaxChunkBytes,
		GroupThreshold: cfg.GroupThreshold,
		TransferTTL:    cfg.TransferTTL,
		SweepInterval:  cfg.SweepInterval,
		Unread:         tracker,
		Logger:         a.logger,
	})
	a.session = ctrl
	a.run = ctrl.Run
	a.onClose(ctrl.Shutdown)

	ctrl.OnChange(a.sessionChanged)
	tracker.OnChange(a.presenceChanged)
	tracker.OnSearch(a.searchDone)
}

// apiRetries maps the configured retry count, where zero disables retries,
// onto api.Options.Retries.
func apiRetries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

func newBus(cfg *config.Config, auth models.TransportAuth, logger logging.Logger) transport.Bus {
	switch cfg.Transport {
	case "kafka":
		return transport.NewKafkaBus(transport.KafkaOptions{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: "gophchat-" + uuid.NewString(),
		}, logger)
	case "memory":
		return transport.NewBroker().Connect()
	default:
		return transport.NewWebsocketBus(transport.WebsocketOptions{URL: cfg.GatewayURL, Token: auth.Token}, logger)
	}
}

func newObjectStore(ctx context.Context, cfg *config.Config, httpClient *http.Client) (objects.Store, error) {
	if cfg.ObjectStore == "s3" {
		return objects.NewS3Store(ctx, objects.S3Options{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			Bucket:       cfg.S3.Bucket,
			Prefix:       cfg.S3.Prefix,
			UsePathStyle: cfg.S3.PathStyle,
		}, httpClient)
	}
	return objects.NewLocalStore(cfg.ObjectDir)
}

func newCache(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	if cfg.Cache == "redis" {
		return cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "gophchat:" + uuid.NewString() + ":",
		})
	}
	return cache.OpenSQLite(ctx, cfg.SQLiteDSN)
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close tears collaborators down in reverse order of construction.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn(ctx, "shutdown", "error", err)
		}
	}
	a.closers = nil
}

// Run loads the channel list and runs the REPL until the user exits or
// ctx is done.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		a.Close(context.Background())
	}()

	if a.run != nil {
		go func() {
			if err := a.run(ctx); err != nil {
				a.logger.Error(ctx, "transfer sweeper stopped", "error", err)
			}
		}()
	}

	fmt.Fprintln(a.out, "Welcome to gophchat (type 'help' for commands)")
	if err := a.ListChannels(ctx, ""); err != nil {
		fmt.Fprintln(a.out, "Could not load channels:", err)
	}

	runREPL(ctx, a, a.status, bufio.NewScanner(a.in))
}

func (a *App) status() string {
	s := a.self
	if ch := a.session.Channel(); ch.Name != "" {
		s = fmt.Sprintf("%s #%s %s", s, ch.Title(a.self), a.session.State())
	}
	return fmt.Sprintf("(%s)", s)
}
