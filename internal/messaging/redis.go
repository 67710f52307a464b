// Package messaging mirrors the controller into Redis and accepts lifecycle
// commands from other processes.
//
// State lives in a hash (default "loadport") and every update is announced
// on a pub/sub channel of the same name. Events are appended to the
// "<key>:events" stream. Commands are pushed onto a list (default
// "loadport:command") with LPUSH and consumed here with BRPOP.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweeney/e84-loadport/internal/loadport"
	"github.com/sweeney/e84-loadport/internal/logger"
)

const (
	brpopTimeout  = 5 * time.Second
	streamMaxLen  = 1000
	closeDeadline = 5 * time.Second
)

// Command is a lifecycle command read from the command list.
type Command string

const (
	CommandStart    Command = "start"
	CommandStop     Command = "stop"
	CommandReset    Command = "reset"
	CommandSelfTest Command = "self-test"
)

// ErrUnknownCommand is returned for unrecognised command values.
var ErrUnknownCommand = errors.New("messaging: unknown command")

// ParseCommand validates a command value.
func ParseCommand(s string) (Command, error) {
	switch cmd := Command(strings.ToLower(strings.TrimSpace(s))); cmd {
	case CommandStart, CommandStop, CommandReset, CommandSelfTest:
		return cmd, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

// Callbacks handle commands. A nil callback ignores the command.
type Callbacks struct {
	Start    func() error
	Stop     func() error
	Reset    func() error
	SelfTest func() error
}

func (cb Callbacks) dispatch(cmd Command) error {
	var fn func() error
	switch cmd {
	case CommandStart:
		fn = cb.Start
	case CommandStop:
		fn = cb.Stop
	case CommandReset:
		fn = cb.Reset
	case CommandSelfTest:
		fn = cb.SelfTest
	}
	if fn == nil {
		return nil
	}
	return fn()
}

// Options configures a Client.
type Options struct {
	Addr        string
	Password    string
	DB          int
	Key         string
	CommandList string
}

// Client is the Redis side of the daemon.
type Client struct {
	client    *redis.Client
	key       string
	list      string
	callbacks Callbacks
	log       logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a client. No connection is made until Connect.
func NewClient(opts Options, callbacks Callbacks, log logger.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.Key == "" {
		opts.Key = "loadport"
	}
	if opts.CommandList == "" {
		opts.CommandList = opts.Key + ":command"
	}
	return &Client{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		key:       opts.Key,
		list:      opts.CommandList,
		callbacks: callbacks,
		log:       log.With("component", "redis", "addr", opts.Addr),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Connect checks that the server is reachable.
func (c *Client) Connect() error {
	if err := c.client.Ping(c.ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	c.log.Info("connected to redis")
	return nil
}

// StartListening starts the command list consumer.
func (c *Client) StartListening() {
	c.wg.Add(1)
	go c.listCommandListener()
}

// PublishEvent records ev in the state hash and event stream and announces
// it on the pub/sub channel.
func (c *Client) PublishEvent(ev loadport.Event) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, c.key, eventFields(ev))
	pipe.XAdd(c.ctx, &redis.XAddArgs{
		Stream: c.key + ":events",
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"kind":    string(ev.Kind),
			"state":   string(ev.State),
			"reason":  string(ev.Reason),
			"message": ev.Message,
			"ts":      ev.Time.UnixMilli(),
		},
	})
	pipe.Publish(c.ctx, c.key, string(ev.Kind))
	if _, err := pipe.Exec(c.ctx); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.Kind, err)
	}
	return nil
}

// PublishStatus writes a status snapshot to the state hash.
func (c *Client) PublishStatus(st loadport.Status) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, c.key, statusFields(st))
	pipe.Publish(c.ctx, c.key, "status")
	if _, err := pipe.Exec(c.ctx); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// Close stops the listener and closes the connection.
func (c *Client) Close() error {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeDeadline):
		c.log.Warn("timeout waiting for command listener")
	}
	return c.client.Close()
}

func (c *Client) listCommandListener() {
	defer c.wg.Done()
	c.log.Info("listening for commands", "list", c.list)

	for {
		// BRPOP with a timeout so cancellation is noticed between commands.
		result, err := c.client.BRPop(c.ctx, brpopTimeout, c.list).Result()
		if c.ctx.Err() != nil {
			return
		}
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				c.log.Warn("command list read failed", "error", err)
				if loadport.Sleep(c.ctx, time.Second) != nil {
					return
				}
			}
			continue
		}
		if len(result) >= 2 { // [key, value]
			c.handleCommand(result[1])
		}
	}
}

func (c *Client) handleCommand(value string) {
	cmd, err := ParseCommand(value)
	if err != nil {
		c.log.Warn("ignoring command", "value", value, "error", err)
		return
	}
	c.log.Info("command received", "command", cmd)
	if err := c.callbacks.dispatch(cmd); err != nil {
		c.log.Warn("command failed", "command", cmd, "error", err)
	}
}

func eventFields(ev loadport.Event) map[string]any {
	ts := ev.Time.UTC().Format(time.RFC3339)
	fields := map[string]any{
		"state":           string(ev.State),
		"event":           string(ev.Kind),
		"event:timestamp": ts,
	}
	switch ev.Kind {
	case loadport.EventWarning:
		fields["warning"] = ev.Message
		fields["warning:timestamp"] = ts
	case loadport.EventFatalError:
		fields["fault"] = ev.Message
		fields["fault:timestamp"] = ts
		fields["running"] = "false"
	case loadport.EventDataCollectionStart:
		fields["acquisition"] = "start"
	case loadport.EventDataCollectionStop:
		fields["acquisition"] = "stop"
	}
	return fields
}

func statusFields(st loadport.Status) map[string]any {
	keys := make([]string, len(st.Keys))
	for i, on := range st.Keys {
		keys[i] = strconv.FormatBool(on)
	}
	return map[string]any{
		"running":          strconv.FormatBool(st.Running),
		"state":            string(st.State),
		"foup-present":     strconv.FormatBool(st.FoupPresent),
		"keys":             strings.Join(keys, ","),
		"keys-all-set":     strconv.FormatBool(st.KeysAllSet),
		"status:timestamp": st.Updated.UTC().Format(time.RFC3339),
	}
}
