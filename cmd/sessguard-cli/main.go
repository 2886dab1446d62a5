// Command sessguard-cli inspects and administers sessguard state from
// the terminal: decoding tokens offline and querying or clearing the
// attempt throttle in a shared Redis store.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sessguard/sessguard/storage"
	"github.com/sessguard/sessguard/throttle"
	"github.com/sessguard/sessguard/token"
)

type cli struct {
	RedisAddr string `help:"Redis address for shared state commands." env:"REDIS_ADDR" default:"localhost:6379"`
	Prefix    string `help:"Key prefix in Redis." default:"sg"`
	Verbose   bool   `short:"v" help:"Enable debug logging."`

	Inspect  inspectCmd  `cmd:"" help:"Decode a token and print its claims."`
	Throttle throttleCmd `cmd:"" help:"Query or clear the attempt throttle."`
}

type inspectCmd struct {
	Token string `arg:"" help:"Token to decode. The signature is not verified."`
}

func (c *inspectCmd) Run() error {
	inspector := token.New()

	claims, err := inspector.DecodeClaims(c.Token)
	if err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}

	fmt.Printf("subject:    %s\n", claims.Subject)
	if len(claims.Roles) > 0 {
		fmt.Printf("roles:      %v\n", claims.Roles)
	}
	if !claims.IssuedAt.IsZero() {
		fmt.Printf("issued at:  %s\n", claims.IssuedAt.Format(time.RFC3339))
	}
	if claims.ExpiresAt.IsZero() {
		fmt.Println("expires at: (no expiry claim)")
		return nil
	}

	fmt.Printf("expires at: %s\n", claims.ExpiresAt.Format(time.RFC3339))
	if left, ok := inspector.TimeToExpiry(c.Token); ok && left > 0 {
		fmt.Printf("time left:  %s\n", left.Round(time.Second))
	} else {
		fmt.Println("status:     EXPIRED")
	}
	return nil
}

type throttleCmd struct {
	Stats throttleStatsCmd `cmd:"" help:"Show attempt counts and blocked keys."`
	Clear throttleClearCmd `cmd:"" help:"Remove every attempt record."`
}

type throttleStatsCmd struct{}

func (c *throttleStatsCmd) Run(root *cli) error {
	engine, cleanup, err := root.throttleEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	stats := engine.Stats(context.Background())
	fmt.Printf("keys:           %d\n", stats.Keys)
	fmt.Printf("blocked keys:   %d\n", stats.BlockedKeys)
	fmt.Printf("total attempts: %d\n", stats.TotalAttempts)
	return nil
}

type throttleClearCmd struct{}

func (c *throttleClearCmd) Run(root *cli) error {
	engine, cleanup, err := root.throttleEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := engine.ClearAll(context.Background()); err != nil {
		return err
	}
	fmt.Println("attempt records cleared")
	return nil
}

func (c *cli) throttleEngine() (*throttle.Engine, func(), error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{c.RedisAddr},
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis at %s unreachable: %w", c.RedisAddr, err)
	}

	engine, err := throttle.New(
		storage.NewRedis(client, c.Prefix),
		throttle.DefaultConfig(),
		c.logger(),
		nil,
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return engine, func() { _ = client.Close() }, nil
}

func (c *cli) logger() zerolog.Logger {
	level := zerolog.WarnLevel
	if c.Verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("sessguard-cli"),
		kong.Description("Inspect tokens and administer sessguard throttle state."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&c))
}
