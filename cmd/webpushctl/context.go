package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/nao1215/webpush/internal/headless"
	"github.com/nao1215/webpush/pkg/logger"
	"github.com/nao1215/webpush/pkg/pushclient"
)

// globalOptions は全コマンド共通のフラグ。
type globalOptions struct {
	profile     string
	server      string
	pushService string
	logLevel    string
}

type commandContext struct {
	opts *globalOptions

	logOnce sync.Once
	log     *zap.Logger

	browserOnce sync.Once
	browser     *headless.Browser
}

func newCommandContext(opts *globalOptions) *commandContext {
	return &commandContext{opts: opts}
}

func (c *commandContext) logger() *zap.Logger {
	c.logOnce.Do(func() {
		log, err := logger.New(logger.Config{Level: c.opts.logLevel, Encoding: "console", OutputPath: "stderr"})
		if err != nil {
			log = zap.NewNop()
		}
		c.log = log
	})
	return c.log
}

func (c *commandContext) headlessBrowser() *headless.Browser {
	c.browserOnce.Do(func() {
		c.browser = headless.New(headless.NewProfileStore(c.opts.profile), c.opts.pushService, c.logger())
	})
	return c.browser
}

// transport はプロファイルのサブスクライバーIDを付けたTransportを返す。
func (c *commandContext) transport(ctx context.Context) (*pushclient.HTTPTransport, error) {
	id, err := c.headlessBrowser().SubscriberID(ctx)
	if err != nil {
		return nil, err
	}
	return pushclient.NewHTTPTransport(c.opts.server, c.logger()).WithSubscriberID(id), nil
}

// client はヘッドレスブラウザで動くpushclient.Clientを組み立てる。
// applicationServerKeyが空ならサーバーのVAPID公開鍵を使う。
func (c *commandContext) client(ctx context.Context, applicationServerKey string) (*pushclient.Client, error) {
	transport, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}

	if applicationServerKey == "" {
		key, err := transport.VAPIDPublicKey(ctx)
		if err != nil {
			return nil, err
		}
		applicationServerKey = key
	}

	browser := c.headlessBrowser()
	return pushclient.New(browser, browser, transport, c.logger(), pushclient.WithApplicationServerKey(applicationServerKey)), nil
}

func defaultProfilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "webpushctl", "profile.toml")
	}
	return filepath.Join(dir, "webpushctl", "profile.toml")
}
