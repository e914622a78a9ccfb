package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/internal/config"
	"github.com/jrsteele09/go-session-client/session"
	"github.com/jrsteele09/go-session-client/tenant"
)

const usage = "usage: sessctl <login|get|post|delete> [flags]"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("sessctl failed")
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("Recovered from panic: %v", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	if len(args) == 0 {
		return errors.New(usage)
	}

	c := config.New()
	displayAppname(c.GetAppName())

	store, err := newStore(c)
	if err != nil {
		return err
	}
	client, err := newClient(c, store)
	if err != nil {
		return err
	}

	switch args[0] {
	case "login":
		return login(c, client, args[1:])
	case "get":
		return request(client, http.MethodGet, args[1:])
	case "post":
		return request(client, http.MethodPost, args[1:])
	case "delete":
		return request(client, http.MethodDelete, args[1:])
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func newStore(c config.Config) (credentials.Store, error) {
	passphrase := c.GetCredentialsPassphrase()
	if passphrase == "" {
		return nil, errors.New("CREDENTIALS_PASSPHRASE is required")
	}

	path := c.GetCredentialsFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credentials folder: %w", err)
	}
	return credentials.NewFileStore(path, passphrase)
}

func newClient(c config.Config, store credentials.Store) (*session.Client, error) {
	scope := tenant.NewScope(os.Getenv("BRAND_ID"))
	scope.Subscribe(func(value string) {
		log.Info().Str("brand", value).Msg("tenant scope changed")
	})

	return session.New(session.Config{
		BaseURL:     c.GetBaseURL(),
		RefreshPath: c.GetRefreshPath(),
		LogoutPath:  c.GetLogoutPath(),
		ScopeParam:  c.GetScopeParam(),
		HTTPTimeout: c.GetHTTPTimeout(),
	}, store, scope, session.WithLogger(log.Logger))
}

// login exchanges a username and password for the initial credential pair
// via the resource-owner-password grant and persists it.
func login(c config.Config, client *session.Client, args []string) error {
	flags := flag.NewFlagSet("login", flag.ContinueOnError)
	user := flags.String("user", "", "username or email")
	password := flags.String("password", "", "password")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *user == "" || *password == "" {
		return errors.New("login requires -user and -password")
	}

	oauthConfig := &oauth2.Config{
		ClientID: c.GetClientID(),
		Endpoint: oauth2.Endpoint{TokenURL: c.GetBaseURL() + c.GetTokenPath()},
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.GetHTTPTimeout())
	defer cancel()

	token, err := oauthConfig.PasswordCredentialsToken(ctx, *user, *password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := client.SetCredentials(credentials.Pair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}); err != nil {
		return err
	}

	log.Info().Str("user", *user).Msg("logged in")
	return nil
}

func request(client *session.Client, method string, args []string) error {
	flags := flag.NewFlagSet(method, flag.ContinueOnError)
	body := flags.String("body", "", "JSON request body")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: sessctl %s [flags] <path>", method)
	}

	go func() {
		<-client.SessionEnded()
		log.Warn().Msg("session expired, run 'sessctl login' again")
	}()

	req := &session.Request{Method: method, Path: flags.Arg(0)}
	if *body != "" {
		req.Body = []byte(*body)
		req.Header = http.Header{"Content-Type": []string{"application/json"}}
	}

	result, err := client.Do(context.Background(), req)
	if err != nil {
		return err
	}
	return printResult(result)
}

func printResult(result any) error {
	if result == nil {
		return nil
	}
	if text, ok := result.(string); ok {
		fmt.Println(text)
		return nil
	}
	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render response: %w", err)
	}
	fmt.Println(string(pretty))
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
