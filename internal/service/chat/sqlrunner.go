package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"neonagent/internal/llm"
)

// maxGenerateAttempts bounds the query-generation loop. The model is
// re-prompted until it commits to a structured query selection; plain text
// replies are discarded. Exhausting the budget is a terminal error rather
// than an unbounded retry.
const maxGenerateAttempts = 5

// queryTool is the single tool offered during SQL generation. No plain-reply
// branch exists here: the loop only terminates on a structured selection.
var queryTool = []llms.Tool{{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        "execute_query",
		Description: "Execute a SQL query on a PostgreSQL database and return the result.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sql_query": map[string]any{
					"type":        "string",
					"description": "The SQL query to execute.",
				},
			},
			"required":             []string{"sql_query"},
			"additionalProperties": false,
		},
	},
}}

// ColumnSchema describes one column of an introspected table.
type ColumnSchema struct {
	ColumnName string `json:"column_name"`
	DataType   string `json:"data_type"`
	IsNullable string `json:"is_nullable"`
}

// TableSchema describes one public table.
type TableSchema struct {
	TableName string         `json:"table_name"`
	Columns   []ColumnSchema `json:"columns"`
}

// database is one scoped connection to the user's database. Implementations
// release the underlying connection on Close; it is never pooled or reused
// across turns.
type database interface {
	Schema(ctx context.Context) ([]TableSchema, error)
	Select(ctx context.Context, sqlQuery string) ([]map[string]any, error)
	Execute(ctx context.Context, sqlQuery string) error
	Close(ctx context.Context)
}

// sqlRunner translates a natural-language data request into SQL against the
// live schema of the target database, then executes the chosen query once.
type sqlRunner struct {
	model     llms.Model
	chatModel string
	connect   func(ctx context.Context, databaseURL string) (database, error)
	logger    *slog.Logger
}

func newSQLRunner(model llms.Model, chatModel string, logger *slog.Logger) *sqlRunner {
	return &sqlRunner{
		model:     model,
		chatModel: chatModel,
		connect:   connectPgx,
		logger:    logger,
	}
}

// Run opens a connection, fetches a fresh schema snapshot, loops the model
// until it commits to a query, executes it, and releases the connection.
// The snapshot is never cached across invocations, so the model always
// reasons over current structure.
func (r *sqlRunner) Run(ctx context.Context, databaseURL, request string, history []llms.MessageContent) ([]map[string]any, error) {
	db, err := r.connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close(ctx)

	schema, err := db.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch schema: %w", err)
	}

	sqlQuery, err := r.generateQuery(ctx, schema, request, history)
	if err != nil {
		return nil, err
	}

	r.logger.Info("executing generated query", "sql", sqlQuery)

	// Statements are classified by their leading keyword. This misclassifies
	// SELECT ... INTO and mutating CTEs that begin with WITH; preserved as a
	// known limitation of the prefix check.
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(sqlQuery)), "select") {
		rows, err := db.Select(ctx, sqlQuery)
		if err != nil {
			return nil, fmt.Errorf("execute query: %w", err)
		}
		return rows, nil
	}

	if err := db.Execute(ctx, sqlQuery); err != nil {
		return nil, fmt.Errorf("execute statement: %w", err)
	}
	return []map[string]any{}, nil
}

// generateQuery re-prompts the model until it selects execute_query with a
// concrete SQL string, up to maxGenerateAttempts.
func (r *sqlRunner) generateQuery(ctx context.Context, schema []TableSchema, request string, history []llms.MessageContent) (string, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, llm.SQLSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf("Database schema: %s", schemaJSON)),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf("User query: %s", request)),
	}
	messages = append(messages, history...)

	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		resp, err := r.model.GenerateContent(ctx, messages,
			llms.WithModel(r.chatModel),
			llms.WithTools(queryTool),
		)
		if err != nil {
			return "", fmt.Errorf("generate query: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 || choice.ToolCalls[0].FunctionCall == nil {
			r.logger.Debug("model replied without a query selection, re-prompting", "attempt", attempt)
			continue
		}

		var args struct {
			SQLQuery string `json:"sql_query"`
		}
		if err := json.Unmarshal([]byte(choice.ToolCalls[0].FunctionCall.Arguments), &args); err != nil {
			r.logger.Debug("unparseable query selection, re-prompting", "attempt", attempt, "error", err)
			continue
		}
		if args.SQLQuery == "" {
			continue
		}

		return args.SQLQuery, nil
	}

	return "", fmt.Errorf("no executable query produced after %d attempts", maxGenerateAttempts)
}
