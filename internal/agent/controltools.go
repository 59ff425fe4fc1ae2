package agent

import (
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/tools"
)

// 控制动作名称。控制动作改变路由而不执行业务操作。
const (
	ActionCreatePlans = "create_plans"
	ActionUpdatePlan  = "update_plan"
	ActionSelectTasks = "select_tasks"
	ActionTerminate   = "terminate"
	ActionAskUser     = "ask_user"
	ActionClassify    = "classify_review"
	ActionApplyEdits  = "apply_review_edits"
)

// maxSelectedTasks 是一次选择最多保留的任务数。
const maxSelectedTasks = 3

var createPlansAction = llm.Action{
	Name:        ActionCreatePlans,
	Description: "Create one or more plans. Each plan has a title and an ordered list of task titles.",
	Parameters: tools.ObjectSchema(map[string]any{
		"plans": map[string]any{
			"type": "array",
			"items": tools.ObjectSchema(map[string]any{
				"title": tools.Prop("string", "Short plan title"),
				"tasks": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Ordered task titles",
				},
			}, "title", "tasks"),
		},
	}, "plans"),
}

var updatePlanAction = llm.Action{
	Name:        ActionUpdatePlan,
	Description: "Record task progress by index. Unreferenced tasks stay unchanged; an index past the end appends a new task and needs a title.",
	Parameters: tools.ObjectSchema(map[string]any{
		"plan_id": tools.Prop("string", "Plan to update, defaults to the active plan"),
		"updates": map[string]any{
			"type": "array",
			"items": tools.ObjectSchema(map[string]any{
				"index":  tools.Prop("integer", "Task index"),
				"status": map[string]any{"type": "string", "enum": []string{"pending", "in-progress", "completed", "failed"}},
				"result": tools.Prop("string", "Outcome or error observed for the task"),
				"title":  tools.Prop("string", "Task title, required for new tasks"),
			}, "index", "status"),
		},
	}, "updates"),
}

var selectTasksAction = llm.Action{
	Name:        ActionSelectTasks,
	Description: "Choose up to three task indexes of the active plan to execute next.",
	Parameters: tools.ObjectSchema(map[string]any{
		"plan_id": tools.Prop("string", "Plan the indexes refer to, defaults to the active plan"),
		"indexes": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}, "maxItems": maxSelectedTasks},
	}, "indexes"),
}

var terminateAction = llm.Action{
	Name:        ActionTerminate,
	Description: "Stop working on the request and explain why.",
	Parameters: tools.ObjectSchema(map[string]any{
		"reason": tools.Prop("string", "Why the work stops here"),
	}, "reason"),
}

var askUserAction = llm.Action{
	Name:        ActionAskUser,
	Description: "Ask the user a clarifying question and wait for the reply.",
	Parameters: tools.ObjectSchema(map[string]any{
		"question": tools.Prop("string", "Question for the user"),
	}, "question"),
}

var classifyAction = llm.Action{
	Name:        ActionClassify,
	Description: "Classify the reviewer's reply to a pending action.",
	Parameters: tools.ObjectSchema(map[string]any{
		"decision": map[string]any{"type": "string", "enum": []string{string(DecisionApprove), string(DecisionReject), string(DecisionUpdate)}},
	}, "decision"),
}

var applyEditsAction = llm.Action{
	Name:        ActionApplyEdits,
	Description: "Translate the reviewer's requested changes into JSON pointer edits of the preview payload.",
	Parameters: tools.ObjectSchema(map[string]any{
		"edits": map[string]any{
			"type": "array",
			"items": tools.ObjectSchema(map[string]any{
				"path":  tools.Prop("string", "JSON pointer into the preview, e.g. /amount"),
				"value": map[string]any{"description": "New value"},
			}, "path", "value"),
		},
	}, "edits"),
}
