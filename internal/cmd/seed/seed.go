// Package seed parses seed command flags and loads fixture members into the
// users store so local realtime sessions have identities to work with.
package seed

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	entrypoint "github.com/devorbit/devorbit/internal/platform/cmd"
	usersdomain "github.com/devorbit/devorbit/internal/services/users/domain"
	userssqlite "github.com/devorbit/devorbit/internal/services/users/storage/sqlite"
)

// Config holds seed command configuration.
type Config struct {
	UsersDBPath string `env:"DEVORBIT_USERS_DB_PATH" envDefault:"devorbit-users.db"`
	Members     string `env:"DEVORBIT_SEED_MEMBERS"`
}

var defaultMembers = []string{
	"alice:Alice Rivera",
	"bob:Bob Okafor",
	"carol:Carol Nunes",
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.UsersDBPath, "users-db", cfg.UsersDBPath, "users sqlite database path")
	fs.StringVar(&cfg.Members, "members", cfg.Members, "comma-separated id:username pairs (default: demo fixtures)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the seed command.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}

	members, err := parseMembers(cfg.Members)
	if err != nil {
		return err
	}

	store, err := userssqlite.Open(cfg.UsersDBPath)
	if err != nil {
		return fmt.Errorf("open users store: %w", err)
	}
	defer store.Close()

	users := usersdomain.NewService(store, nil)
	for _, member := range members {
		if _, err := users.Create(ctx, member.userID, member.username); err != nil {
			return fmt.Errorf("seed member %q: %w", member.userID, err)
		}
		fmt.Fprintf(out, "seeded %s (%s)\n", member.userID, member.username)
	}
	return nil
}

type member struct {
	userID   string
	username string
}

func parseMembers(raw string) ([]member, error) {
	entries := defaultMembers
	if strings.TrimSpace(raw) != "" {
		entries = strings.Split(raw, ",")
	}

	members := make([]member, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		userID, username, ok := strings.Cut(entry, ":")
		userID = strings.TrimSpace(userID)
		username = strings.TrimSpace(username)
		if !ok || userID == "" || username == "" {
			return nil, fmt.Errorf("invalid member entry %q: want id:username", entry)
		}
		members = append(members, member{userID: userID, username: username})
	}
	if len(members) == 0 {
		return nil, errors.New("no members to seed")
	}
	return members, nil
}
