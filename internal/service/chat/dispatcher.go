package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"

	"neonagent/internal/neonapi"
)

// dispatcher maps a resolved action onto one management API invocation or the
// SQL sub-loop. Dispatch is total: every failure, including an unknown action
// name, comes back as a structured {"error": ...} result rather than an error.
type dispatcher struct {
	api    neonapi.API
	runner *sqlRunner
	logger *slog.Logger
}

func newDispatcher(api neonapi.API, runner *sqlRunner, logger *slog.Logger) *dispatcher {
	return &dispatcher{api: api, runner: runner, logger: logger}
}

// Dispatch executes the named action exactly once. history carries the
// conversational context for the SQL sub-loop's model calls; other actions
// ignore it.
func (d *dispatcher) Dispatch(ctx context.Context, name string, args map[string]any, history []llms.MessageContent) neonapi.Result {
	apiKey, _ := args[credentialKey].(string)
	delete(args, credentialKey)

	d.logger.Info("dispatching action", "action", name)

	result, err := d.invoke(ctx, name, apiKey, args, history)
	if err != nil {
		d.logger.Error("action failed", "action", name, "error", err)
		return neonapi.Result{"error": err.Error()}
	}
	return result
}

func (d *dispatcher) invoke(ctx context.Context, name, apiKey string, args map[string]any, history []llms.MessageContent) (neonapi.Result, error) {
	switch name {
	case "list_projects":
		return d.api.ListProjects(ctx, apiKey)

	case "get_project":
		projectID, err := requireString(args, "project_id")
		if err != nil {
			return nil, err
		}
		return d.api.GetProject(ctx, apiKey, projectID)

	case "create_project":
		return d.api.CreateProject(ctx, apiKey, args)

	case "delete_project":
		projectID, err := requireString(args, "project_id")
		if err != nil {
			return nil, err
		}
		return d.api.DeleteProject(ctx, apiKey, projectID)

	case "get_connection_uri":
		projectID, err := requireString(args, "project_id")
		if err != nil {
			return nil, err
		}
		return d.api.GetConnectionURI(ctx, apiKey, projectID, args)

	case "create_project_branch":
		projectID, err := requireString(args, "project_id")
		if err != nil {
			return nil, err
		}
		return d.api.CreateBranch(ctx, apiKey, projectID, args)

	case "list_project_branches":
		projectID, err := requireString(args, "project_id")
		if err != nil {
			return nil, err
		}
		return d.api.ListBranches(ctx, apiKey, projectID)

	case "get_project_branch":
		projectID, branchID, err := requireProjectBranch(args)
		if err != nil {
			return nil, err
		}
		return d.api.GetBranch(ctx, apiKey, projectID, branchID)

	case "update_project_branch":
		projectID, branchID, err := requireProjectBranch(args)
		if err != nil {
			return nil, err
		}
		return d.api.UpdateBranch(ctx, apiKey, projectID, branchID, args)

	case "delete_project_branch":
		projectID, branchID, err := requireProjectBranch(args)
		if err != nil {
			return nil, err
		}
		return d.api.DeleteBranch(ctx, apiKey, projectID, branchID)

	case "execute_sql_query":
		databaseURL, err := requireString(args, "database_url")
		if err != nil {
			return nil, err
		}
		request, err := requireString(args, "sql_query")
		if err != nil {
			return nil, err
		}
		rows, err := d.runner.Run(ctx, databaseURL, request, history)
		if err != nil {
			return nil, err
		}
		return neonapi.Result{"rows": rows}, nil

	default:
		return neonapi.Result{"error": "unknown function call"}, nil
	}
}

// requireString extracts an argument the client needs to address the remote
// resource. All other argument validation is delegated to the remote API.
func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	return v, nil
}

func requireProjectBranch(args map[string]any) (string, string, error) {
	projectID, err := requireString(args, "project_id")
	if err != nil {
		return "", "", err
	}
	branchID, err := requireString(args, "branch_id")
	if err != nil {
		return "", "", err
	}
	return projectID, branchID, nil
}
