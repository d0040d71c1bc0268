// chatctl administers a counselchat deployment directly against its SQLite
// database and revocation list: accounts, groups, membership, and tokens.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/counselchat/internal/auth"
	"github.com/Tyrowin/counselchat/internal/domain"
	"github.com/Tyrowin/counselchat/internal/storage/sqlite"
)

type Config struct {
	SQLitePath string        `env:"SQLITE_PATH,default=counselchat.db"`
	BadgerPath string        `env:"BADGER_PATH,default=revocations"`
	JWTSecret  string        `env:"JWT_SECRET"`
	TokenTTL   time.Duration `env:"TOKEN_TTL,default=15m"`
	LogLevel   string        `env:"LOG_LEVEL,default=WARN"`
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, app *app, args []string) error
}

var commands = []command{
	{"create-user", "create a client account", createUser},
	{"create-lawyer", "create a lawyer account", createLawyer},
	{"create-group", "create a group owned by a user", createGroup},
	{"add-member", "add a user or lawyer to a group", addMember},
	{"remove-member", "remove a user or lawyer from a group", removeMember},
	{"issue-token", "print a bearer token for an identity", issueToken},
	{"revoke-token", "revoke a bearer token until it expires", revokeToken},
}

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

type app struct {
	config Config
	store  *sqlite.Store
	out    io.Writer
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		printUsage(os.Stderr)
		return errUsage
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}

	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	store, err := sqlite.Open(config.SQLitePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return cmd.run(context.Background(), &app{config: config, store: store, out: out}, args[1:])
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: chatctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-14s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment: SQLITE_PATH, BADGER_PATH, JWT_SECRET, TOKEN_TTL")
}

func parseFlags(flagSet *pflag.FlagSet, args []string, required ...string) error {
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	for _, name := range required {
		if !flagSet.Changed(name) {
			return fmt.Errorf("--%s is required", name)
		}
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return fmt.Errorf("unexpected argument: %s", extra[0])
	}
	return nil
}

func createUser(ctx context.Context, a *app, args []string) error {
	var username, displayName, password string
	flagSet := pflag.NewFlagSet("create-user", pflag.ContinueOnError)
	flagSet.StringVar(&username, "username", "", "login name")
	flagSet.StringVar(&displayName, "display-name", "", "name shown in chat (defaults to the username)")
	flagSet.StringVar(&password, "password", "", "initial password")
	if err := parseFlags(flagSet, args, "username", "password"); err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	identity, err := a.store.CreateUser(ctx, username, displayName, hash)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created user %d (%s)\n", identity.ID, identity.Name())
	return nil
}

func createLawyer(ctx context.Context, a *app, args []string) error {
	var lawyerID, name, password string
	flagSet := pflag.NewFlagSet("create-lawyer", pflag.ContinueOnError)
	flagSet.StringVar(&lawyerID, "lawyer-id", "", "bar registration id used to log in")
	flagSet.StringVar(&name, "name", "", "name shown in chat (defaults to the lawyer id)")
	flagSet.StringVar(&password, "password", "", "initial password")
	if err := parseFlags(flagSet, args, "lawyer-id", "password"); err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	identity, err := a.store.CreateLawyer(ctx, lawyerID, name, hash)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created lawyer %d (%s)\n", identity.ID, identity.Name())
	return nil
}

func createGroup(ctx context.Context, a *app, args []string) error {
	var name, description string
	var owner int64
	flagSet := pflag.NewFlagSet("create-group", pflag.ContinueOnError)
	flagSet.StringVar(&name, "name", "", "group name")
	flagSet.StringVar(&description, "description", "", "group description")
	flagSet.Int64Var(&owner, "owner", 0, "id of the owning user")
	if err := parseFlags(flagSet, args, "name", "owner"); err != nil {
		return err
	}

	group, err := a.store.CreateGroup(ctx, name, description, owner)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created group %d (%s)\n", group.ID, group.Name)
	return nil
}

// identityFlags registers --id and --role and resolves them after parsing.
type identityFlags struct {
	id   int64
	role string
}

func (f *identityFlags) add(flagSet *pflag.FlagSet) {
	flagSet.Int64Var(&f.id, "id", 0, "identity id")
	flagSet.StringVar(&f.role, "role", string(domain.RoleNormal), "identity role: normal or lawyer")
}

func (f *identityFlags) resolve(ctx context.Context, a *app) (domain.Identity, error) {
	role, err := domain.ParseRole(f.role)
	if err != nil {
		return domain.Identity{}, err
	}
	return a.store.ResolveIdentity(ctx, role, f.id)
}

func membershipCommand(name string, apply func(*sqlite.Store, context.Context, int64, domain.Identity) error, verb string) func(context.Context, *app, []string) error {
	return func(ctx context.Context, a *app, args []string) error {
		var group int64
		var who identityFlags
		flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
		flagSet.Int64Var(&group, "group", 0, "group id")
		who.add(flagSet)
		if err := parseFlags(flagSet, args, "group", "id"); err != nil {
			return err
		}

		identity, err := who.resolve(ctx, a)
		if err != nil {
			return err
		}
		if err := apply(a.store, ctx, group, identity); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s %s in group %d\n", verb, identity, group)
		return nil
	}
}

func addMember(ctx context.Context, a *app, args []string) error {
	return membershipCommand("add-member", (*sqlite.Store).AddMember, "added")(ctx, a, args)
}

func removeMember(ctx context.Context, a *app, args []string) error {
	return membershipCommand("remove-member", (*sqlite.Store).RemoveMember, "removed")(ctx, a, args)
}

func (a *app) validator() (*auth.Validator, func(), error) {
	issuer, err := auth.NewIssuer(a.config.JWTSecret, a.config.TokenTTL)
	if err != nil {
		return nil, nil, err
	}
	revocations, err := auth.OpenRevocationList(a.config.BadgerPath, logs.GetLoggerFromString(a.config.LogLevel))
	if err != nil {
		return nil, nil, err
	}
	return auth.NewValidator(issuer, revocations, a.store), func() { _ = revocations.Close() }, nil
}

func issueToken(ctx context.Context, a *app, args []string) error {
	var who identityFlags
	flagSet := pflag.NewFlagSet("issue-token", pflag.ContinueOnError)
	who.add(flagSet)
	if err := parseFlags(flagSet, args, "id"); err != nil {
		return err
	}

	identity, err := who.resolve(ctx, a)
	if err != nil {
		return err
	}
	validator, closeFn, err := a.validator()
	if err != nil {
		return err
	}
	defer closeFn()

	token, expiresAt, err := validator.Issue(identity)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\nexpires %s\n", token, expiresAt.UTC().Format(time.RFC3339))
	return nil
}

func revokeToken(ctx context.Context, a *app, args []string) error {
	var token string
	flagSet := pflag.NewFlagSet("revoke-token", pflag.ContinueOnError)
	flagSet.StringVar(&token, "token", "", "bearer token to revoke")
	if err := parseFlags(flagSet, args, "token"); err != nil {
		return err
	}

	validator, closeFn, err := a.validator()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := validator.Revoke(ctx, token); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "token revoked")
	return nil
}
