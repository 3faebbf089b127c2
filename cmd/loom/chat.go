package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/engine"
	"github.com/go-go-golems/loom/pkg/events"
	"github.com/go-go-golems/loom/pkg/providers/factory"
	"github.com/go-go-golems/loom/pkg/toolloop"
	"github.com/go-go-golems/loom/pkg/tools"
)

type chatSettings struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	SystemPrompt   string
	ConversationID string
	Thinking       string
	MaxTokens      int
	Temperature    float64
	Verbose        bool
	DemoTools      bool

	Prompt string
}

func newChatCommand() *cobra.Command {
	s := &chatSettings{}

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send a prompt and stream the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s.Prompt = args[0]
			if !cmd.Flags().Changed("temperature") {
				s.Temperature = -1
			}
			return runChat(cmd.Context(), s)
		},
	}

	cmd.Flags().StringVarP(&s.Provider, "provider", "p", "openai", "Provider (openai, claude, gemini, cohere, openrouter, ollama)")
	cmd.Flags().StringVarP(&s.Model, "model", "m", "gpt-4o-mini", "Model id")
	cmd.Flags().StringVar(&s.APIKey, "api-key", "", "API key (falls back to the provider's environment variable)")
	cmd.Flags().StringVar(&s.BaseURL, "base-url", "", "Override the provider's API endpoint")
	cmd.Flags().StringVar(&s.SystemPrompt, "system", "", "System prompt")
	cmd.Flags().StringVarP(&s.ConversationID, "conversation", "c", "", "Continue an existing conversation")
	cmd.Flags().StringVar(&s.Thinking, "thinking", "", "Thinking budget: off, low, medium, high, or a token count")
	cmd.Flags().IntVar(&s.MaxTokens, "max-tokens", 0, "Response token limit (0 uses the provider default)")
	cmd.Flags().Float64Var(&s.Temperature, "temperature", 0, "Sampling temperature")
	cmd.Flags().BoolVar(&s.Verbose, "verbose", false, "Verbose event router logging")
	cmd.Flags().BoolVar(&s.DemoTools, "demo-tools", false, "Register the built-in demo tools")

	return cmd
}

func parseThinkingFlag(s string) (engine.ThinkingBudget, error) {
	switch s {
	case "":
		return engine.ThinkingBudget{}, nil
	case "off":
		return engine.ThinkingBudget{Kind: engine.BudgetOff}, nil
	case "low", "medium", "high":
		return engine.ThinkingBudget{Kind: engine.BudgetEffort, Effort: s}, nil
	}
	tokens, err := strconv.Atoi(s)
	if err != nil {
		return engine.ThinkingBudget{}, errors.Errorf("invalid thinking budget: %s", s)
	}
	return engine.ThinkingBudget{Kind: engine.BudgetTokens, Tokens: tokens}, nil
}

var apiKeyEnvVars = map[string]string{
	factory.ProviderOpenAI:     "OPENAI_API_KEY",
	factory.ProviderClaude:     "ANTHROPIC_API_KEY",
	factory.ProviderAnthropic:  "ANTHROPIC_API_KEY",
	factory.ProviderGemini:     "GEMINI_API_KEY",
	factory.ProviderCohere:     "COHERE_API_KEY",
	factory.ProviderOpenRouter: "OPENROUTER_API_KEY",
}

func resolveAPIKey(provider, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if name, ok := apiKeyEnvVars[provider]; ok {
		return os.Getenv(name)
	}
	return ""
}

type weatherQuery struct {
	Location string `json:"location" jsonschema:"required,description=City to look up"`
}

func registerDemoTools(registry tools.Registry) error {
	weather, err := tools.NewToolFromFunc("get_weather", "Get the current weather for a location",
		func(q weatherQuery) (string, error) {
			return fmt.Sprintf("Sunny, 22C in %s", q.Location), nil
		})
	if err != nil {
		return err
	}
	return registry.Register(weather)
}

func runChat(ctx context.Context, s *chatSettings) error {
	store := conversation.NewFileStore(defaultStoreDir())

	var managerOptions []conversation.ManagerOption
	managerOptions = append(managerOptions, conversation.WithStore(store))
	if s.ConversationID != "" {
		record, err := store.Load(s.ConversationID)
		if err != nil {
			return err
		}
		managerOptions = append(managerOptions, conversation.WithRecord(record))
	}
	manager := conversation.NewManager(managerOptions...)

	routerOptions := []events.EventRouterOption{}
	if s.Verbose {
		routerOptions = append(routerOptions, events.WithVerbose(true))
	}
	router, err := events.NewEventRouter(routerOptions...)
	if err != nil {
		return errors.Wrap(err, "failed to create event router")
	}
	defer func() {
		_ = router.Close()
	}()

	sink := events.NewWatermillSink(router.Publisher, "chat")
	router.AddHandler("chat", "chat", events.StepPrinterFunc("", os.Stdout))

	credential := engine.Credential{
		APIKey:  resolveAPIKey(s.Provider, s.APIKey),
		BaseURL: s.BaseURL,
	}
	eng, err := factory.NewEngine(s.Provider, credential, engine.WithSink(sink))
	if err != nil {
		return err
	}

	registry := tools.NewInMemoryRegistry()
	if s.DemoTools {
		if err := registerDemoTools(registry); err != nil {
			return err
		}
	}

	loop := toolloop.New(
		toolloop.WithEngine(eng),
		toolloop.WithRegistry(registry),
		toolloop.WithPersistHook(func(_ context.Context, msg conversation.Message) {
			if err := manager.AppendResponse(msg); err != nil {
				log.Error().Err(err).Str("role", string(msg.Role)).Msg("failed to append message to conversation")
			}
		}))

	if _, err := manager.AppendUserMessage(conversation.NewMessage(conversation.RoleUser, s.Prompt)); err != nil {
		return err
	}

	thinking, err := parseThinkingFlag(s.Thinking)
	if err != nil {
		return err
	}

	req := &engine.Request{
		Messages:     manager.Projection(),
		Model:        s.Model,
		SystemPrompt: s.SystemPrompt,
		Thinking:     thinking,
		MaxTokens:    s.MaxTokens,
		Metadata: events.EventMetadata{
			ID:             uuid.New(),
			ConversationID: manager.ConversationID(),
		},
	}
	if s.Temperature >= 0 {
		temp := s.Temperature
		req.Temperature = &temp
	}

	eg := errgroup.Group{}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// tool execution events from the loop travel through context sinks
	ctx = events.WithEventSinks(ctx, sink)

	eg.Go(func() error {
		defer cancel()
		return router.Run(ctx)
	})

	eg.Go(func() error {
		defer cancel()
		<-router.Running()

		result, err := loop.Run(ctx, req)
		if err != nil {
			log.Error().Err(err).Msg("inference failed")
			return err
		}
		log.Debug().
			Int("iterations", result.Iterations).
			Int("messages", len(result.Responses)).
			Msg("chat turn completed")
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Printf("\nconversation: %s\n", manager.ConversationID())
	return nil
}
