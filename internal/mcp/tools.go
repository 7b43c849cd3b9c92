package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// defaultTimeRange returns start/end defaulting to the last 30 days.
func defaultTimeRange(startStr, endStr string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -30)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Time{}, err
}

func requireUUID(req mcp.CallToolRequest, param string) (uuid.UUID, *mcp.CallToolResult) {
	raw, err := req.RequireString(param)
	if err != nil {
		return uuid.Nil, mcp.NewToolResultError(param + " parameter is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, mcp.NewToolResultError("invalid " + param + ": " + err.Error())
	}
	return id, nil
}

func asJSONResource(uri string, v any) (mcp.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.TextResourceContents{
		URI:      uri,
		MIMEType: "application/json",
		Text:     string(data),
	}, nil
}

// --- Tool definitions ---

var toolGetSessions = mcp.NewTool("get_sessions",
	mcp.WithDescription("Query a student's workout sessions in a time range, newest first. Returns status, start/completion times, duration, and effort rating."),
	mcp.WithString("student", mcp.Required(), mcp.Description("Student id (UUID)")),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 30 days ago.")),
	mcp.WithString("end", mcp.Description("End date (ISO 8601 or YYYY-MM-DD). Defaults to now.")),
)

var toolGetSessionSets = mcp.NewTool("get_session_sets",
	mcp.WithDescription("Retrieve the persisted set logs of one workout session, ordered by plan item and set number. Includes weight, reps, and swap provenance."),
	mcp.WithString("session", mcp.Required(), mcp.Description("Workout session id (UUID)")),
)

var toolGetWorkoutPlan = mcp.NewTool("get_workout_plan",
	mcp.WithDescription("Read an assigned workout's name and planned exercise slots in plan order, including target sets/reps/rest and trainer-curated substitutes."),
	mcp.WithString("workout", mcp.Required(), mcp.Description("Assigned workout id (UUID)")),
)

var toolGetLastLoad = mcp.NewTool("get_last_load",
	mcp.WithDescription("Get the most recent load a student lifted for an exercise (e.g. '80kg'). Empty when there is no history."),
	mcp.WithString("student", mcp.Required(), mcp.Description("Student id (UUID)")),
	mcp.WithString("exercise", mcp.Required(), mcp.Description("Exercise id (UUID)")),
)

var toolGetSubstitutes = mcp.NewTool("get_substitutes",
	mcp.WithDescription("List algorithmically related substitute exercises for an exercise."),
	mcp.WithString("exercise", mcp.Required(), mcp.Description("Exercise id (UUID)")),
	mcp.WithNumber("limit", mcp.Description("Maximum candidates to return. Defaults to 5.")),
)

// --- Tool handlers ---

func (h *handlers) getSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	studentID, errResult := requireUUID(req, "student")
	if errResult != nil {
		return errResult, nil
	}

	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}

	sessions, err := h.ds.QuerySessions(ctx, studentID, start, end)
	if err != nil {
		h.log.Error("mcp get_sessions", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(sessions)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getSessionSets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errResult := requireUUID(req, "session")
	if errResult != nil {
		return errResult, nil
	}

	sets, err := h.ds.QuerySessionSetLogs(ctx, sessionID)
	if err != nil {
		h.log.Error("mcp get_session_sets", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(sets)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getWorkoutPlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workoutID, errResult := requireUUID(req, "workout")
	if errResult != nil {
		return errResult, nil
	}

	workout, err := h.ds.GetWorkout(ctx, workoutID)
	if err != nil {
		h.log.Error("mcp get_workout_plan", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	items, err := h.ds.GetPlanItems(ctx, workoutID)
	if err != nil {
		h.log.Error("mcp get_workout_plan items", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(map[string]any{
		"workout": workout,
		"items":   items,
	})
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getLastLoad(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	studentID, errResult := requireUUID(req, "student")
	if errResult != nil {
		return errResult, nil
	}
	exerciseID, errResult := requireUUID(req, "exercise")
	if errResult != nil {
		return errResult, nil
	}

	load, err := h.ds.LastExerciseLoad(ctx, studentID, exerciseID)
	if err != nil {
		h.log.Error("mcp get_last_load", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(map[string]string{"load": load})
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getSubstitutes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	exerciseID, errResult := requireUUID(req, "exercise")
	if errResult != nil {
		return errResult, nil
	}
	limit := req.GetInt("limit", 5)

	options, err := h.ds.SmartSubstitutes(ctx, exerciseID, limit)
	if err != nil {
		h.log.Error("mcp get_substitutes", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(options)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
