package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/tmc/langchaingo/llms"

	"neonagent/internal/catalog"
	"neonagent/internal/config"
	"neonagent/internal/domain"
	"neonagent/internal/domain/models"
	"neonagent/internal/domain/repositories"
	"neonagent/internal/domain/services"
	"neonagent/internal/llm"
	"neonagent/internal/neonapi"
)

// Service implements services.ChatService: the per-turn control flow of
// context assembly, model invocation, tool-call resolution, dispatch,
// summarization, and persistence.
type Service struct {
	store      repositories.SessionRepository
	locker     repositories.SessionLocker
	api        neonapi.API
	catalog    *catalog.Catalog
	model      llms.Model
	dispatcher *dispatcher

	functionCallModel string
	chatModel         string

	logger *slog.Logger
}

// NewService creates the chat service.
func NewService(
	store repositories.SessionRepository,
	locker repositories.SessionLocker,
	api neonapi.API,
	cat *catalog.Catalog,
	model llms.Model,
	cfg *config.Config,
	logger *slog.Logger,
) *Service {
	runner := newSQLRunner(model, cfg.ChatModel, logger)
	return &Service{
		store:             store,
		locker:            locker,
		api:               api,
		catalog:           cat,
		model:             model,
		dispatcher:        newDispatcher(api, runner, logger),
		functionCallModel: cfg.FunctionCallModel,
		chatModel:         cfg.ChatModel,
		logger:            logger,
	}
}

// CreateSession creates a session owned by the principal the management API
// resolves from the credential.
func (s *Service) CreateSession(ctx context.Context, apiKey string) (*models.Session, error) {
	ownerID, err := s.resolveOwner(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return s.store.CreateSession(ctx, ownerID)
}

// ListSessions returns all session IDs owned by the credential's principal.
func (s *Service) ListSessions(ctx context.Context, apiKey string) ([]string, error) {
	ownerID, err := s.resolveOwner(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return s.store.ListSessions(ctx, ownerID)
}

// GetHistory returns the visible transcript of a session.
func (s *Service) GetHistory(ctx context.Context, sessionID string) ([]models.TurnRecord, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.GetVisibleHistory(ctx, sessionID)
}

// resolveOwner derives the owning principal from the credential via the
// management API's current-user endpoint.
func (s *Service) resolveOwner(ctx context.Context, apiKey string) (string, error) {
	user, err := s.api.GetCurrentUser(ctx, apiKey)
	if err != nil {
		return "", fmt.Errorf("resolve owner: %w", err)
	}
	if apiErr, ok := user["error"]; ok {
		return "", fmt.Errorf("resolve owner: %v: %w", apiErr, domain.ErrUnauthorized)
	}
	ownerID, ok := user["id"].(string)
	if !ok || ownerID == "" {
		return "", fmt.Errorf("resolve owner: no user id in response: %w", domain.ErrUnauthorized)
	}
	return ownerID, nil
}

// ProcessTurn runs one complete turn. The entire read-resolve-persist
// sequence holds the session's advisory lock, so concurrent turns for one
// session serialize while other sessions proceed in parallel. Records are
// committed before the answer is returned; a persistence failure fails the
// whole turn rather than delivering an answer that is absent from history.
func (s *Service) ProcessTurn(ctx context.Context, req *services.TurnRequest) (*services.TurnResponse, error) {
	if err := validateTurnRequest(req); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrValidation)
	}

	if _, err := s.store.GetSession(ctx, req.SessionID); err != nil {
		return nil, err
	}

	// The locker re-runs the locked section once after a lost connection.
	// outcome survives across that retry so the model invocation and the
	// dispatch happen at most once per turn; only the history read and the
	// appends repeat.
	var resp *services.TurnResponse
	var outcome *turnOutcome
	err := s.locker.WithSessionLock(ctx, req.SessionID, func(ctx context.Context) error {
		history, err := s.store.GetFullHistory(ctx, req.SessionID)
		if err != nil {
			return err
		}

		if outcome == nil {
			outcome = s.computeOutcome(ctx, buildContext(history, req.Query), req)
		}

		records := []models.TurnRecord{
			{Role: models.RoleUser, Content: req.Query},
		}
		if outcome.trace != "" {
			records = append(records, models.TurnRecord{
				Role:     models.RoleAssistant,
				Content:  outcome.trace,
				IsAction: true,
			})
		}
		records = append(records, models.TurnRecord{
			Role:    models.RoleAssistant,
			Content: outcome.answer,
		})

		if err := s.store.AppendTurns(ctx, req.SessionID, records); err != nil {
			return err
		}

		resp = &services.TurnResponse{
			Response:     outcome.answer,
			ActionResult: outcome.actionResult,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// turnOutcome is the finished model work of one turn: the answer to persist
// and return, plus the raw action result and its trace record content when an
// action was dispatched.
type turnOutcome struct {
	answer       string
	actionResult map[string]any
	trace        string
}

func (s *Service) computeOutcome(ctx context.Context, messages []llms.MessageContent, req *services.TurnRequest) *turnOutcome {
	answer, actionResult, trace, err := s.runTurn(ctx, messages, req)
	if err != nil {
		// Everything past context assembly funnels into a natural-language
		// error answer that is summarized and persisted like any other.
		s.logger.Error("turn failed", "session_id", req.SessionID, "error", err)
		return &turnOutcome{answer: s.summarizeError(ctx, req.Query, err)}
	}
	return &turnOutcome{answer: answer, actionResult: actionResult, trace: trace}
}

// runTurn performs the model invocation, resolution, dispatch, and
// summarization for one turn. For a plain reply the model's content is the
// final answer verbatim and trace stays empty; for an action the raw result
// is returned alongside its trace record content and summarized answer.
func (s *Service) runTurn(ctx context.Context, messages []llms.MessageContent, req *services.TurnRequest) (answer string, actionResult map[string]any, trace string, err error) {
	resp, err := s.model.GenerateContent(ctx, messages,
		llms.WithModel(s.functionCallModel),
		llms.WithTools(s.catalog.Tools()),
	)
	if err != nil {
		return "", nil, "", fmt.Errorf("model invocation: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, "", fmt.Errorf("model returned no choices")
	}

	res, err := resolveChoice(resp.Choices[0], req.APIKey)
	if err != nil {
		return "", nil, "", err
	}

	if !res.isAction() {
		return res.text, nil, "", nil
	}

	result := s.dispatcher.Dispatch(ctx, res.name, res.args, messages)

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", nil, "", fmt.Errorf("marshal action result: %w", err)
	}

	answer, err = s.summarize(ctx, req.Query, fmt.Sprintf("Executed %s with result: %s", res.name, resultJSON))
	if err != nil {
		return "", nil, "", err
	}

	return answer, result, fmt.Sprintf("Action result: %s", resultJSON), nil
}

// summarize issues the second, summarization-biased model call that
// compresses a raw action result into one user-facing sentence.
func (s *Service) summarize(ctx context.Context, userQuery, content string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, llm.SummarySystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf("User query: %s, Function call: %s", userQuery, content)),
	}

	resp, err := s.model.GenerateContent(ctx, messages, llms.WithModel(s.chatModel))
	if err != nil {
		return "", fmt.Errorf("summarize result: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", fmt.Errorf("summarize result: empty response")
	}
	return resp.Choices[0].Content, nil
}

// summarizeError converts a turn failure into a user-safe sentence. When the
// summarization call itself fails, fall back to a fixed framing so the caller
// still receives natural language rather than a raw error.
func (s *Service) summarizeError(ctx context.Context, userQuery string, turnErr error) string {
	answer, err := s.summarize(ctx, userQuery, fmt.Sprintf("The request failed with error: %s", turnErr))
	if err != nil {
		return fmt.Sprintf("Something went wrong while processing your request: %s", turnErr)
	}
	return answer
}

// buildContext assembles the model context: the fixed action-selection
// prompt, the session's full history (action traces included), and the framed
// user query. Framing prevents the raw query from reading as a directive.
func buildContext(history []models.TurnRecord, query string) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, llm.ActionSystemPrompt))

	for _, turn := range history {
		role := llms.ChatMessageTypeHuman
		if turn.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, turn.Content))
	}

	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf("User query: %s", query)))
	return messages
}

func validateTurnRequest(req *services.TurnRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.SessionID, validation.Required),
		validation.Field(&req.Query, validation.Required, validation.Length(1, 8000)),
	)
}
