package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"

	"lurkbot/internal/domain"
	"lurkbot/internal/metrics"
)

// ServerLookup reads cached per-server settings. *guild.Cache satisfies it.
type ServerLookup interface {
	Get(serverID string) (domain.ServerConfig, bool)
}

// Outcome summarises one pipeline run.
type Outcome struct {
	RunID    string
	Decision Decision
	Reply    string
	Sent     int
}

// Loop is the reply pipeline: bus event → decision → context → model → dispatch.
type Loop struct {
	bus        domain.MessageBus
	platform   domain.Platform
	servers    ServerLookup
	decider    *Decider
	responder  *Responder
	dispatcher *Dispatcher
	context    ContextOptions
	stripLabel bool
	logger     *slog.Logger

	wg sync.WaitGroup
}

// LoopConfig holds all dependencies of the pipeline.
type LoopConfig struct {
	Bus        domain.MessageBus
	Platform   domain.Platform
	Servers    ServerLookup
	Decider    *Decider
	Responder  *Responder
	Dispatcher *Dispatcher
	Context    ContextOptions

	// StripLabels removes speaker labels the model echoes ("Mika: ...")
	// from each part. Off by default: parts go out exactly as split.
	StripLabels bool
	Logger      *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Context.Limit <= 0 {
		cfg.Context.Limit = defaultContextMessages
	}
	return &Loop{
		bus:        cfg.Bus,
		platform:   cfg.Platform,
		servers:    cfg.Servers,
		decider:    cfg.Decider,
		responder:  cfg.Responder,
		dispatcher: cfg.Dispatcher,
		context:    cfg.Context,
		stripLabel: cfg.StripLabels,
		logger:     cfg.Logger,
	}
}

// Run consumes bus events until ctx ends or the bus closes. Every message
// gets its own goroutine; in-flight pipelines are not cancelled by ctx and
// are bounded by the model deadline instead. Call Wait to drain them.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("reply loop started")
	inbound := l.bus.Subscribe()
	work := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("reply loop stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				l.logger.Info("bus closed, reply loop stopping")
				return
			}
			l.wg.Add(1)
			go func(msg domain.ConversationMessage) {
				defer l.wg.Done()
				l.Handle(work, msg)
			}(ev.Message)
		}
	}
}

// Wait blocks until every started pipeline has finished.
func (l *Loop) Wait() {
	l.wg.Wait()
}

// Handle runs the pipeline for one message synchronously. Panics are
// recovered and reported as errors.
func (l *Loop) Handle(ctx context.Context, msg domain.ConversationMessage) (out Outcome, err error) {
	out.RunID = uuid.NewString()
	log := l.logger.With("run_id", out.RunID, "server", msg.GuildID, "channel", msg.ChannelID, "message", msg.ID)

	metrics.MessagesSeen.Inc()
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()
	defer func() {
		if r := recover(); r != nil {
			metrics.PipelinePanics.Inc()
			log.Error("pipeline panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	cfg, found := l.servers.Get(msg.GuildID)
	out.Decision = l.decider.Decide(ctx, msg, cfg, found)
	metrics.Decision(string(out.Decision.Path))
	if !out.Decision.Reply {
		log.Debug("not replying", "path", out.Decision.Path)
		return out, nil
	}
	log.Info("replying", "path", out.Decision.Path, "author", msg.Author)

	history := CollectHistory(ctx, l.platform, msg, l.context, log)
	userText := strings.TrimSpace(msg.Text)
	if userText == "" {
		userText = "(no text)"
	}

	text, ok := l.responder.Reply(ctx, ReplyRequest{
		UserText:    userText,
		Context:     BuildContext(history, l.context.IncludeMedia),
		MediaURLs:   MediaURLs(msg),
		Personality: cfg.Personality,
		Name:        cfg.Name(),
	})
	if !ok {
		return out, nil
	}
	out.Reply = text

	env := SplitReply(text)
	if l.stripLabel {
		env = CleanParts(env, cfg.Name())
	}
	out.Sent, err = l.dispatcher.Dispatch(ctx, msg, cfg, env)
	if err != nil {
		log.Error("dispatch failed", "sent", out.Sent, "parts", len(env.Parts), "err", err)
		return out, err
	}
	log.Info("reply sent", "parts", out.Sent)
	return out, nil
}
