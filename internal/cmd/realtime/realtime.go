// Package realtime parses realtime command flags and composes the gateway
// with its persistence collaborators.
package realtime

import (
	"context"
	"flag"
	"fmt"
	"log"

	entrypoint "github.com/devorbit/devorbit/internal/platform/cmd"
	messagesdomain "github.com/devorbit/devorbit/internal/services/messages/domain"
	messagessqlite "github.com/devorbit/devorbit/internal/services/messages/storage/sqlite"
	notificationsdomain "github.com/devorbit/devorbit/internal/services/notifications/domain"
	notificationssqlite "github.com/devorbit/devorbit/internal/services/notifications/storage/sqlite"
	server "github.com/devorbit/devorbit/internal/services/realtime/app"
	usersdomain "github.com/devorbit/devorbit/internal/services/users/domain"
	userssqlite "github.com/devorbit/devorbit/internal/services/users/storage/sqlite"
)

// Config holds realtime command configuration.
type Config struct {
	HTTPAddr            string `env:"DEVORBIT_REALTIME_HTTP_ADDR"        envDefault:":8090"`
	UsersDBPath         string `env:"DEVORBIT_USERS_DB_PATH"             envDefault:"devorbit-users.db"`
	MessagesDBPath      string `env:"DEVORBIT_MESSAGES_DB_PATH"          envDefault:"devorbit-messages.db"`
	NotificationsDBPath string `env:"DEVORBIT_NOTIFICATIONS_DB_PATH"     envDefault:"devorbit-notifications.db"`
	AuthBaseURL         string `env:"DEVORBIT_AUTH_BASE_URL"`
	OAuthResourceSecret string `env:"DEVORBIT_OAUTH_RESOURCE_SECRET"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "realtime HTTP listen address")
	fs.StringVar(&cfg.UsersDBPath, "users-db", cfg.UsersDBPath, "users sqlite database path")
	fs.StringVar(&cfg.MessagesDBPath, "messages-db", cfg.MessagesDBPath, "messages sqlite database path")
	fs.StringVar(&cfg.NotificationsDBPath, "notifications-db", cfg.NotificationsDBPath, "notifications sqlite database path")
	fs.StringVar(&cfg.AuthBaseURL, "auth-base-url", cfg.AuthBaseURL, "auth service base URL")
	fs.StringVar(&cfg.OAuthResourceSecret, "oauth-resource-secret", cfg.OAuthResourceSecret, "auth introspection resource secret")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run opens the persistence stores, builds the gateway, and serves realtime
// transport until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRealtime, func(context.Context) error {
		userStore, err := userssqlite.Open(cfg.UsersDBPath)
		if err != nil {
			return fmt.Errorf("open users store: %w", err)
		}
		defer closeStore("users", userStore.Close)

		messageStore, err := messagessqlite.Open(cfg.MessagesDBPath)
		if err != nil {
			return fmt.Errorf("open messages store: %w", err)
		}
		defer closeStore("messages", messageStore.Close)

		notificationStore, err := notificationssqlite.Open(cfg.NotificationsDBPath)
		if err != nil {
			return fmt.Errorf("open notifications store: %w", err)
		}
		defer closeStore("notifications", notificationStore.Close)

		collaborators := server.Collaborators{
			Users:         usersdomain.NewService(userStore, nil),
			Messages:      messagesdomain.NewService(messageStore, nil, nil),
			Notifications: notificationsdomain.NewService(notificationStore, nil, nil),
		}

		if err := server.Run(ctx, server.Config{
			HTTPAddr:            cfg.HTTPAddr,
			AuthBaseURL:         cfg.AuthBaseURL,
			OAuthResourceSecret: cfg.OAuthResourceSecret,
		}, collaborators); err != nil {
			return fmt.Errorf("serve realtime: %w", err)
		}
		return nil
	})
}

func closeStore(name string, close func() error) {
	if err := close(); err != nil {
		log.Printf("close %s store: %v", name, err)
	}
}
