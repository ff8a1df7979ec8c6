package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/streamframe/streamframe/internal/blocks"
	"github.com/streamframe/streamframe/internal/config"
	"github.com/streamframe/streamframe/internal/slack"
	"github.com/streamframe/streamframe/internal/stream"
	"github.com/streamframe/streamframe/internal/throttle"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "post":
		handlePost(os.Args[2:])
	case "version":
		fmt.Println("streamframe dev")
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`streamframe <command> [args]

Commands:
  post      Stream stdin lines into a channel as one throttled reply
  version   Show CLI version`)
}

// handlePost reads stdin line by line and streams the accumulated text into
// the channel. Each line becomes a section block; the platform messages
// update in place as input arrives.
func handlePost(args []string) {
	flags := flag.NewFlagSet("post", flag.ExitOnError)
	channel := flags.String("channel", "", "channel id to post into")
	messageID := flags.String("message", "", "existing message id to stream into")
	_ = flags.Parse(args)

	if strings.TrimSpace(*channel) == "" {
		fmt.Fprintln(os.Stderr, "usage: streamframe post --channel <id> [--message <id>] < input")
		os.Exit(1)
	}

	cfg, err := config.Load()
	dieIf(err)
	if cfg.Slack.Token == "" {
		dieIf(fmt.Errorf("SLACK_BOT_TOKEN is not set"))
	}

	client, err := slack.NewClient(cfg.Slack.BaseURL, cfg.Slack.Token)
	dieIf(err)

	sched := throttle.New(client, throttle.Config{
		MinDelay:     cfg.Engine.MinDelay,
		MinBackoff:   cfg.Engine.MinBackoff,
		MaxBackoff:   cfg.Engine.MaxBackoff,
		BackoffReset: cfg.Engine.BackoffReset,
		CallTimeout:  cfg.Engine.APITimeout,
		MaxAttempts:  cfg.Engine.MaxAttempts,
	}, throttle.WithLogf(log.Printf))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sched.Run(ctx)

	opts := []stream.Option{
		stream.WithThrottleTime(cfg.Engine.ThrottleTime),
		stream.WithMaxMessageLength(cfg.Engine.MaxMessageLength),
		stream.WithMaxBlocksPerMessage(cfg.Engine.MaxBlocksPerMessage),
	}

	var s *stream.Stream
	if strings.TrimSpace(*messageID) != "" {
		s = stream.NewMessage(sched, *channel, *messageID, opts...)
	} else {
		s = stream.NewReply(sched, *channel, opts...)
	}

	var content []blocks.Block
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		content = append(content, blocks.Section{Text: line})
		dieIf(s.Update(content))
	}
	dieIf(scanner.Err())

	if len(content) == 0 {
		fmt.Fprintln(os.Stderr, "no input, nothing posted")
		return
	}

	dieIf(s.Finish(ctx))
	fmt.Printf("posted %d blocks to %s\n", len(content), *channel)
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
