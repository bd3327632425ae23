package intent

import (
	"strings"

	"github.com/kalambet/fieldhand/internal/llm"
)

const systemPrompt = `You classify questions from banana and plantain farmers for a farm-management assistant. Your output must be ONLY a single JSON object of the form {"intent": "...", "entities": {...}}. Do not include any other text, prose, or markdown.

Intents:
- "NEXT_HARVEST": when the next harvest is expected for a plot or farm
- "TASKS_BY_LOCATION": tasks at a farm, plot or place, optionally by status
- "PLOT_STATUS": current state of one plot (health, last harvest)
- "FORECAST": expected harvest volume over the coming months
- "FARM_HEALTH": overall health of a farm and what to do about it
- "TASK_SUMMARY": counts of tasks by status, or anything else about farm work

Entities (include only what the question states or the farm list below resolves):
- "farmId": integer id of the farm
- "plotId": integer id of the plot
- "location": place, farm or plot name as written by the user
- "status": task status, one of PENDING, IN_PROGRESS, COMPLETED
- "months": integer forecast horizon in months

Rules:
- Use ids from the farm list when the user names a farm you can find there.
- Never invent ids. Omit an entity rather than guess it.
- Leave "entities" as {} when nothing applies.`

// fewShot pairs anchor the output format. Ids refer to no real farm.
var fewShot = []llm.Message{
	{Role: llm.RoleUser, Content: "When will plot 12 be ready to harvest?"},
	{Role: llm.RoleAssistant, Content: `{"intent":"NEXT_HARVEST","entities":{"plotId":12}}`},
	{Role: llm.RoleUser, Content: "What tasks are still pending in Kasese?"},
	{Role: llm.RoleAssistant, Content: `{"intent":"TASKS_BY_LOCATION","entities":{"location":"Kasese","status":"PENDING"}}`},
	{Role: llm.RoleUser, Content: "How much will farm 3 produce over the next 6 months?"},
	{Role: llm.RoleAssistant, Content: `{"intent":"FORECAST","entities":{"farmId":3,"months":6}}`},
	{Role: llm.RoleUser, Content: "Is my farm doing okay?"},
	{Role: llm.RoleAssistant, Content: `{"intent":"FARM_HEALTH","entities":{}}`},
}

// BuildPrompt constructs the chat messages for intent classification.
func BuildPrompt(query, schemaContext string) []llm.Message {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	if schemaContext != "" {
		sb.WriteString("\n\n[Database]\n")
		sb.WriteString(schemaContext)
	}

	messages := make([]llm.Message, 0, len(fewShot)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: sb.String()})
	messages = append(messages, fewShot...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})
	return messages
}

// correction asks the model to fix its previous reply.
func correction(reason string) llm.Message {
	return llm.Message{
		Role:    llm.RoleUser,
		Content: "Your previous reply was rejected (" + reason + "). Reply again with only the JSON object.",
	}
}
