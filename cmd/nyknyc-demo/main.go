// Command nyknyc-demo wires the SDK end to end as a terminal host: it
// authorizes against a NYKNYC backend (the user opens the printed URL in a
// browser; completion arrives via status polling), then prints the
// connected account and chain.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"

	"github.com/nyknyc/nyknyc-go/pkg/api"
	"github.com/nyknyc/nyknyc-go/pkg/authflow"
	"github.com/nyknyc/nyknyc-go/pkg/connector"
	"github.com/nyknyc/nyknyc-go/pkg/pkce"
	"github.com/nyknyc/nyknyc-go/pkg/provider"
	"github.com/nyknyc/nyknyc-go/pkg/session"
	"github.com/nyknyc/nyknyc-go/pkg/slogx"
	"github.com/nyknyc/nyknyc-go/pkg/storage"
	"github.com/nyknyc/nyknyc-go/pkg/window"
)

type config struct {
	BackendURL  string `env:"NYKNYC_BACKEND_URL" envDefault:"https://api.nyknyc.app"`
	FrontendURL string `env:"NYKNYC_FRONTEND_URL" envDefault:"https://app.nyknyc.app"`
	AppID       string `env:"NYKNYC_APP_ID,required"`

	// StoragePath enables durable session persistence; empty keeps
	// everything in memory.
	StoragePath string `env:"NYKNYC_STORAGE_PATH"`

	VerifyOnReconnect bool `env:"NYKNYC_VERIFY_ON_RECONNECT" envDefault:"false"`

	LogLevel  string `env:"NYKNYC_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"NYKNYC_LOG_FORMAT" envDefault:"text"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := slogx.New(slogx.Config{
		Service: "nyknyc-demo",
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend := storage.Backend(storage.NewMemory())
	if cfg.StoragePath != "" {
		sqlite, err := storage.NewSQLite(cfg.StoragePath)
		if err != nil {
			log.Fatalf("failed to open session storage: %v", err)
		}
		defer sqlite.Close()
		backend = storage.NewDual(sqlite, storage.NewMemory(), logger)
	}

	store := session.NewStore(backend, logger)
	client := api.New(api.Config{
		BaseURL: cfg.BackendURL,
		AppID:   cfg.AppID,
		Logger:  logger,
	})
	windows := window.NewManager(&terminalOpener{}, terminalNotifier{}, logger)

	flow, err := authflow.New(authflow.Config{
		API:         client,
		Sessions:    store,
		Windows:     windows,
		PKCE:        &pkce.Generator{Logger: logger},
		FrontendURL: cfg.FrontendURL,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("failed to initialize auth flow: %v", err)
	}

	prov := provider.New(provider.Config{
		API:         client,
		Sessions:    store,
		Windows:     windows,
		FrontendURL: cfg.FrontendURL,
		Logger:      logger,
	})

	conn := connector.New(connector.Config{
		API:               client,
		Sessions:          store,
		Provider:          prov,
		Flow:              flow,
		VerifyOnReconnect: cfg.VerifyOnReconnect,
		Hooks: connector.Hooks{
			OnAccountsChanged: func(accounts []string) {
				logger.Info("accounts changed", "accounts", accounts)
			},
			OnChainChanged: func(hexChainID string) {
				logger.Info("chain changed", "chain_id", hexChainID)
			},
			OnDisconnect: func() {
				logger.Info("disconnected")
			},
		},
		Logger: logger,
	})

	result, err := conn.Connect(ctx, connector.ConnectOptions{})
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}

	fmt.Printf("connected: account=%s chain=%d\n", result.Accounts[0], result.ChainID)

	chainID, err := prov.Request(ctx, "eth_chainId")
	if err != nil {
		log.Fatalf("eth_chainId failed: %v", err)
	}
	fmt.Printf("eth_chainId: %s\n", chainID)
}

// terminalOpener satisfies window.Opener for a host without a browser: it
// prints the URL for the user to open by hand. The window never reports
// closure, so authorization completes through status polling.
type terminalOpener struct{}

func (*terminalOpener) Open(_ context.Context, url string) (window.Window, error) {
	fmt.Fprintf(os.Stderr, "\nOpen this URL in your browser:\n\n  %s\n\n", url)
	return &terminalWindow{done: make(chan struct{})}, nil
}

type terminalWindow struct {
	done chan struct{}
}

func (w *terminalWindow) Navigate(_ context.Context, url string) error {
	fmt.Fprintf(os.Stderr, "\nOpen this URL in your browser:\n\n  %s\n\n", url)
	return nil
}

func (w *terminalWindow) Close() error          { return nil }
func (w *terminalWindow) Done() <-chan struct{} { return w.done }

type terminalNotifier struct{}

func (terminalNotifier) Present(message string, retry func()) {
	fmt.Fprintln(os.Stderr, message)
	retry()
}

func (terminalNotifier) Clear() {}
