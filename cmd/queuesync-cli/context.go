package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/queuesync/queuesync/internal/client"
	"github.com/queuesync/queuesync/internal/config"
	"github.com/queuesync/queuesync/internal/logging"
	"github.com/queuesync/queuesync/internal/realtime"
)

type commandContext struct {
	configFlag *string
	serverFlag *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, serverFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		serverFlag: serverFlag,
		tokenFlag:  tokenFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var paths []string
		if dir := strings.TrimSpace(*c.configFlag); dir != "" {
			paths = append(paths, dir)
		}
		cfg, err := config.NewLoader(paths...).Load()
		if err != nil {
			c.configErr = err
			return
		}
		logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		c.config = cfg
	})
	return c.config, c.configErr
}

// token picks the session token: --token, then client.token, then the
// token saved by login.
func (c *commandContext) token() string {
	if t := strings.TrimSpace(*c.tokenFlag); t != "" {
		return t
	}
	if c.config != nil && c.config.Client.Token != "" {
		return c.config.Client.Token
	}
	t, _ := loadToken()
	return t
}

func (c *commandContext) baseURL() string {
	if s := strings.TrimSpace(*c.serverFlag); s != "" {
		return s
	}
	return c.config.Client.BaseURL
}

func (c *commandContext) client() (*client.Client, error) {
	return c.clientWithToken(c.token())
}

func (c *commandContext) clientWithToken(token string) (*client.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Client.TimeoutSeconds) * time.Second
	res := client.NewResolver(client.ResolverOptions{
		BaseURL: c.baseURL(),
		Routes:  client.DefaultRoutes().Merge(cfg.Client.Routes),
		Token:   token,
		Timeout: timeout,
	})
	return client.New(res), nil
}

func (c *commandContext) gateway(cl *client.Client) *realtime.Gateway {
	var kinds []realtime.Kind
	for _, t := range c.config.Client.Transports {
		kinds = append(kinds, realtime.Kind(strings.ToLower(strings.TrimSpace(t))))
	}
	return realtime.NewGateway(cl.Resolver(), realtime.Options{Transports: kinds})
}

func tokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "queuesync", "token"), nil
}

func saveToken(token string) error {
	path, err := tokenPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	return os.WriteFile(path, []byte(token+"\n"), 0o600)
}

func loadToken() (string, error) {
	path, err := tokenPath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func clearToken() error {
	path, err := tokenPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
