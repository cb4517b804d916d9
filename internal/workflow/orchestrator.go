// Package workflow runs one shopping turn through classification, optional
// idea generation, retrieval and the notification decision.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"shopbot/internal/bus"
	"shopbot/internal/domain"
	"shopbot/internal/ideas"
	"shopbot/internal/intent"
	"shopbot/internal/notify"
	"shopbot/internal/retrieval"
)

const (
	MsgOffTopic  = "I'm here to help you find products! Please ask about items you'd like to purchase."
	MsgNoResults = "I couldn't find products matching your criteria. Try adjusting your preferences!"
)

type Classifier interface {
	Classify(ctx context.Context, query string, prior []string, at time.Time) intent.Result
}

type IdeaGenerator interface {
	Generate(ctx context.Context, query string, prior []string, in domain.Intent) ideas.Result
}

type Retriever interface {
	Retrieve(ctx context.Context, plan domain.SearchPlan, c domain.Constraints) retrieval.Outcome
}

type Dispatcher interface {
	Dispatch(ctx context.Context, turnID string, to domain.Destination, n domain.Notification)
}

// Turn is the input of one run.
type Turn struct {
	ID             string // generated when empty
	Query          string
	Prior          []string // oldest first
	At             time.Time
	ConversationID string
	Destination    domain.Destination
	Source         string // api | webhook | cli
}

type Config struct {
	Classifier    Classifier
	Ideas         IdeaGenerator
	Retriever     Retriever
	Dispatcher    Dispatcher // nil disables notifications
	MinConfidence float64
	Bus           *bus.EventBus
	Tracer        trace.Tracer
	Logger        *slog.Logger
}

type Orchestrator struct {
	classifier    Classifier
	ideas         IdeaGenerator
	retriever     Retriever
	dispatcher    Dispatcher
	minConfidence float64
	bus           *bus.EventBus
	tracer        trace.Tracer
	logger        *slog.Logger
}

func New(cfg Config) *Orchestrator {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = notify.DefaultMinConfidence
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("shopbot/workflow")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		classifier:    cfg.Classifier,
		ideas:         cfg.Ideas,
		retriever:     cfg.Retriever,
		dispatcher:    cfg.Dispatcher,
		minConfidence: cfg.MinConfidence,
		bus:           cfg.Bus,
		tracer:        cfg.Tracer,
		logger:        cfg.Logger,
	}
}

// run is the mutable state threaded through one turn.
type run struct {
	turn   Turn
	intent domain.Intent
	plan   *domain.SearchPlan
	result domain.WorkflowResult
}

// Run executes the graph from classify to terminal. It never fails: every
// stage has a fallback and the result always carries a response.
func (o *Orchestrator) Run(ctx context.Context, t Turn) domain.WorkflowResult {
	start := time.Now()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.At.IsZero() {
		t.At = start
	}

	ctx, span := o.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("turn_id", t.ID),
		attribute.String("source", t.Source),
	))
	defer span.End()

	r := &run{turn: t, result: domain.WorkflowResult{Items: []domain.ProductCard{}}}
	visited := make(map[State]bool, int(StateTerminal))
	for s := StateClassify; s != StateTerminal; s = Next(s, r.intent) {
		if visited[s] {
			o.logger.Error("workflow revisited state", "state", s, "turn_id", t.ID)
			r.result.Fallbacks = append(r.result.Fallbacks, "revisit:"+s.String())
			break
		}
		visited[s] = true

		sctx, sspan := o.tracer.Start(ctx, "workflow."+s.String())
		o.step(sctx, s, r)
		sspan.End()
	}

	r.result.Intent = r.intent
	r.result.Plan = r.plan
	span.SetAttributes(
		attribute.String("intent", string(r.intent.Type)),
		attribute.Int("items", len(r.result.Items)),
		attribute.Bool("notified", r.result.Notified),
	)

	latency := time.Since(start)
	o.logger.Info("turn completed", "turn_id", t.ID, "conversation_id", t.ConversationID,
		"intent", r.intent.Type, "confidence", r.intent.Confidence, "items", len(r.result.Items),
		"notified", r.result.Notified, "elapsed", latency)

	if o.bus != nil {
		o.bus.Emit(bus.Event{
			Type:   bus.EventTurnCompleted,
			Source: "workflow",
			Payload: &bus.TurnCompleted{
				TurnID:         t.ID,
				ConversationID: t.ConversationID,
				Source:         t.Source,
				Query:          t.Query,
				Result:         r.result,
				Latency:        latency,
			},
		})
	}
	return r.result
}

func (o *Orchestrator) step(ctx context.Context, s State, r *run) {
	switch s {
	case StateClassify:
		o.classify(ctx, r)
	case StateGenerateIdeas:
		o.generateIdeas(ctx, r)
	case StateRetrieve:
		o.retrieve(ctx, r)
	case StateOffTopic:
		r.result.ResponseText = MsgOffTopic
		r.result.Items = []domain.ProductCard{}
		r.result.Notified = false
	case StateNotifyDecision:
		o.notifyDecision(ctx, r)
	}
}

func (o *Orchestrator) classify(ctx context.Context, r *run) {
	if o.classifier == nil {
		r.intent = intent.Fallback(r.turn.Query)
		r.result.Fallbacks = append(r.result.Fallbacks, "classify")
		return
	}
	res := o.classifier.Classify(ctx, r.turn.Query, r.turn.Prior, r.turn.At)
	r.intent = res.Intent
	if !res.OK() {
		r.result.Fallbacks = append(r.result.Fallbacks, "classify")
	}
}

func (o *Orchestrator) generateIdeas(ctx context.Context, r *run) {
	var plan domain.SearchPlan
	if o.ideas == nil {
		plan = ideas.Fallback(r.turn.Query)
		r.result.Fallbacks = append(r.result.Fallbacks, "ideas")
	} else {
		res := o.ideas.Generate(ctx, r.turn.Query, r.turn.Prior, r.intent)
		plan = res.Plan
		if !res.OK() {
			r.result.Fallbacks = append(r.result.Fallbacks, "ideas")
		}
	}
	r.plan = &plan
}

// DirectPlan is the single-pass plan for a direct search: the keywords
// joined by spaces, or the raw query when there are none.
func DirectPlan(query string, in domain.Intent) domain.SearchPlan {
	q := strings.TrimSpace(strings.Join(in.Keywords, " "))
	if q == "" {
		q = query
	}
	return domain.SearchPlan{Entries: []domain.PlanEntry{{Query: q}}}
}

func (o *Orchestrator) retrieve(ctx context.Context, r *run) {
	contextual := r.plan != nil
	if r.plan == nil {
		plan := DirectPlan(r.turn.Query, r.intent)
		r.plan = &plan
	}

	if o.retriever != nil {
		out := o.retriever.Retrieve(ctx, *r.plan, r.intent.Constraints)
		r.result.Items = out.Items
		for _, q := range out.Failed {
			r.result.Fallbacks = append(r.result.Fallbacks, "retrieve:"+q)
		}
	}
	if r.result.Items == nil {
		r.result.Items = []domain.ProductCard{}
	}

	switch {
	case len(r.result.Items) == 0:
		r.result.ResponseText = MsgNoResults
	case contextual:
		r.result.ResponseText = fmt.Sprintf("Based on your interest in %s, here are some great options!",
			strings.ToLower(r.plan.UserContext))
	default:
		r.result.ResponseText = fmt.Sprintf("I found %d products matching your search!", len(r.result.Items))
	}
}

func (o *Orchestrator) notifyDecision(ctx context.Context, r *run) {
	if o.dispatcher == nil || !notify.ShouldNotifyAt(len(r.result.Items), r.intent, o.minConfidence) {
		return
	}
	res := r.result
	res.Intent = r.intent
	res.Plan = r.plan
	o.dispatcher.Dispatch(ctx, r.turn.ID, r.turn.Destination, notify.Compose(res, r.turn.Query))
	r.result.Notified = true
}
